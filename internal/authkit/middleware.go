package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CurrentUserContextKey is where RequireAccessToken stores the resolved user.
const CurrentUserContextKey = "current_user"

const bearerPrefix = "Bearer "

// RequireAccessToken validates the Authorization bearer token and loads the
// caller's user record into the request context. Loading from the store, not
// the claims, means role changes apply on the next request without re-login.
func RequireAccessToken(configuration ServerConfig, users UserStore, clock Clock) gin.HandlerFunc {
	if clock == nil {
		clock = NewSystemClock()
	}
	return func(contextGin *gin.Context) {
		authorizationHeader := contextGin.GetHeader("Authorization")
		if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tokenString := strings.TrimPrefix(authorizationHeader, bearerPrefix)
		claims, parseErr := ParseToken(clock, tokenString, configuration.Issuer, configuration.AccessSigningKey)
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, findErr := users.FindByID(contextGin, claims.Subject)
		if findErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.Set(CurrentUserContextKey, user)
		contextGin.Next()
	}
}

// RequireRoles gates an operation on an explicit allowed-role set. An empty
// set means merely authenticated is enough. Membership is the only test;
// there is no implicit hierarchy between roles.
func RequireRoles(allowedRoles ...Role) gin.HandlerFunc {
	allowed := make(map[Role]bool, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = true
	}
	return func(contextGin *gin.Context) {
		user, ok := CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if len(allowed) == 0 {
			contextGin.Next()
			return
		}
		if !allowed[user.Role] {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		contextGin.Next()
	}
}

// CurrentUser returns the user record resolved by RequireAccessToken.
func CurrentUser(contextGin *gin.Context) (*User, bool) {
	value, found := contextGin.Get(CurrentUserContextKey)
	if !found {
		return nil, false
	}
	user, ok := value.(*User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

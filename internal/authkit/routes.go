package authkit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MountAuthRoutes registers /auth/google, /auth/google/callback,
// /auth/refresh, /auth/profile, and /auth/logout.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, service *Service, flow OAuthFlow, verifier IdentityVerifier, states StateStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/auth/google", func(contextGin *gin.Context) {
		state, stateErr := states.Issue(contextGin)
		if stateErr != nil {
			logger.Error("state issuance failed",
				zap.String("code", "auth.google.state_issue"),
				zap.Error(stateErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Redirect(http.StatusFound, flow.AuthCodeURL(state))
	})

	router.GET("/auth/google/callback", func(contextGin *gin.Context) {
		state := contextGin.Query("state")
		code := contextGin.Query("code")
		if state == "" || code == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_code_or_state"})
			return
		}
		if consumeErr := states.Consume(contextGin, state); consumeErr != nil {
			logger.Warn("callback with unknown or expired state",
				zap.String("code", "auth.google.invalid_state"),
				zap.Error(consumeErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_state"})
			return
		}

		rawIDToken, exchangeErr := flow.ExchangeIDToken(contextGin, code)
		if exchangeErr != nil {
			logger.Warn("code exchange failed",
				zap.String("code", "auth.google.exchange"),
				zap.Error(exchangeErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "exchange_failed"})
			return
		}

		assertion, verifyErr := verifier.Verify(contextGin, rawIDToken, configuration.GoogleClientID)
		if verifyErr != nil {
			logger.Warn("id token verification failed",
				zap.String("code", "auth.google.verify"),
				zap.Error(verifyErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
			return
		}

		user, bridgeErr := service.ResolveGoogleUser(contextGin, assertion)
		if bridgeErr != nil {
			logger.Error("bridge resolution failed",
				zap.String("code", "auth.google.bridge"),
				zap.Error(bridgeErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		pair, loginErr := service.Login(contextGin, user)
		if loginErr != nil {
			logger.Error("token issuance failed",
				zap.String("code", "auth.google.login"),
				zap.Error(loginErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.Redirect(http.StatusFound, frontendCallbackURL(configuration.FrontendCallbackURL, pair))
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": "refreshToken is required",
			})
			return
		}
		pair, refreshErr := service.Refresh(contextGin, inbound.RefreshToken)
		if refreshErr != nil {
			if !errors.Is(refreshErr, ErrUnauthenticated) {
				logger.Error("unexpected refresh failure",
					zap.String("code", "auth.refresh.internal"),
					zap.Error(refreshErr))
			}
			// Inside the refresh flow every failure is folded into 401.
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"accessToken":  pair.AccessToken,
			"refreshToken": pair.RefreshToken,
		})
	})

	authenticated := router.Group("/auth")
	authenticated.Use(RequireAccessToken(configuration, service.users, service.clock))

	authenticated.GET("/profile", func(contextGin *gin.Context) {
		user, ok := CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, user.Public())
	})

	authenticated.POST("/logout", func(contextGin *gin.Context) {
		user, ok := CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if logoutErr := service.Logout(contextGin, user.ID); logoutErr != nil {
			logger.Error("logout failed",
				zap.String("code", "auth.logout"),
				zap.String("user_id", user.ID),
				zap.Error(logoutErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})
}

func frontendCallbackURL(callbackURL string, pair TokenPair) string {
	userJSON, marshalErr := json.Marshal(pair.User)
	if marshalErr != nil {
		userJSON = []byte("{}")
	}
	query := url.Values{}
	query.Set("accessToken", pair.AccessToken)
	query.Set("refreshToken", pair.RefreshToken)
	query.Set("user", string(userJSON))
	return callbackURL + "?" + query.Encode()
}

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mprlab/accountd/internal/authkit"
)

// The content handlers demonstrate the role gate tiers. Each route declares
// its own allowed-role set where it is mounted; admin does not implicitly
// inherit premium access.

// HandleFreeContent serves content available to any authenticated caller.
func HandleFreeContent() gin.HandlerFunc {
	return contentHandler("Free tier content")
}

// HandlePremiumContent serves content for the {PREMIUM, ADMIN} set.
func HandlePremiumContent() gin.HandlerFunc {
	return contentHandler("Premium features: advanced chat, file sharing, custom themes")
}

// HandleAdminContent serves content for the {ADMIN} set.
func HandleAdminContent() gin.HandlerFunc {
	return contentHandler("Admin panel: user management, system settings, analytics")
}

func contentHandler(content string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user, ok := authkit.CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"userRole": user.Role,
			"content":  content,
		})
	}
}

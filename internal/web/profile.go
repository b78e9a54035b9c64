package web

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/accountd/internal/authkit"
)

// UpdateProfileRequest carries the mutable profile fields. Absent fields are
// left untouched; present fields are validated before anything is written.
type UpdateProfileRequest struct {
	DisplayName   *string `json:"displayName" binding:"omitempty,min=2,max=50"`
	AvatarURL     *string `json:"avatarUrl" binding:"omitempty"`
	StatusMessage *string `json:"statusMessage" binding:"omitempty,max=200"`
}

// HandleGetProfile returns the caller's own profile.
func HandleGetProfile() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user, ok := authkit.CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, user.Public())
	}
}

// HandleUpdateProfile validates and applies a partial profile update.
func HandleUpdateProfile(users authkit.UserStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		user, ok := authkit.CurrentUser(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var inbound UpdateProfileRequest
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": bindErr.Error(),
			})
			return
		}
		if inbound.AvatarURL != nil && *inbound.AvatarURL != "" {
			parsed, parseErr := url.Parse(*inbound.AvatarURL)
			if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "validation_failed",
					"details": "avatarUrl must be a valid URL",
				})
				return
			}
		}

		if inbound.DisplayName != nil {
			user.DisplayName = *inbound.DisplayName
		}
		if inbound.AvatarURL != nil {
			user.AvatarURL = *inbound.AvatarURL
		}
		if inbound.StatusMessage != nil {
			user.StatusMessage = *inbound.StatusMessage
		}

		if updateErr := users.Update(contextGin, user); updateErr != nil {
			logger.Error("profile update failed",
				zap.String("code", "api.profile.update"),
				zap.String("user_id", user.ID),
				zap.Error(updateErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, user.Public())
	}
}

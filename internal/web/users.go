package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/accountd/internal/authkit"
)

// HandleListUsers returns public projections of every user. Admin only; the
// role gate is applied where the route is mounted.
func HandleListUsers(users authkit.UserStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		allUsers, listErr := users.ListUsers(contextGin)
		if listErr != nil {
			logger.Error("user listing failed",
				zap.String("code", "api.users.list"),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		projections := make([]authkit.PublicUser, 0, len(allUsers))
		for index := range allUsers {
			projections = append(projections, allUsers[index].Public())
		}
		contextGin.JSON(http.StatusOK, projections)
	}
}

// HandleGetUser returns one user by id, 404 when absent. The id was supplied
// by the caller, so revealing its absence leaks nothing.
func HandleGetUser(users authkit.UserStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		userID := contextGin.Param("id")
		user, findErr := users.FindByID(contextGin, userID)
		if findErr != nil {
			if errors.Is(findErr, authkit.ErrUserNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
				return
			}
			logger.Error("user lookup failed",
				zap.String("code", "api.users.get"),
				zap.String("user_id", userID),
				zap.Error(findErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, user.Public())
	}
}

// AssignRoleRequest carries the role for the admin role-assignment operation.
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// HandleAssignRole sets a user's role. Admin only.
func HandleAssignRole(service *authkit.Service, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		userID := contextGin.Param("id")

		var inbound AssignRoleRequest
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": "role is required",
			})
			return
		}
		role, roleErr := authkit.ParseRole(inbound.Role)
		if roleErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": "role must be one of FREE, PREMIUM, ADMIN",
			})
			return
		}

		user, assignErr := service.AssignRole(contextGin, userID, role)
		if assignErr != nil {
			if errors.Is(assignErr, authkit.ErrUserNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
				return
			}
			logger.Error("role assignment failed",
				zap.String("code", "api.users.assign_role"),
				zap.String("user_id", userID),
				zap.Error(assignErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"message": "role updated",
			"user": gin.H{
				"id":    user.ID,
				"email": user.Email,
				"role":  user.Role,
			},
		})
	}
}

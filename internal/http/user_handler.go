package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medauth/internal/service"
)

// UserHandler atiende los recursos de un usuario concreto y la administración de cuentas.
type UserHandler struct {
	logger   *zap.Logger
	accounts *service.AccountService
}

func NewUserHandler(logger *zap.Logger, accounts *service.AccountService) *UserHandler {
	return &UserHandler{logger: logger, accounts: accounts}
}

// GetUser maneja GET /users/:userId.
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.accounts.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": user})
}

// ChangePassword maneja PUT /users/:userId/password.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), c.Param("userId"), req.CurrentPassword, req.NewPassword); err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"passwordChanged": true})
}

// Profile maneja GET /doctor/me y GET /patient/me; el gate de la ruta ya fijó el rol.
func (h *UserHandler) Profile(c *gin.Context) {
	p, ok := CurrentPrincipal(c)
	if !ok {
		abortWithError(c, h.logger, service.ErrMissingToken)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"user": p.User,
		"role": p.User.Role,
	})
}

// ListUsers maneja GET /admin/users?status=.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.accounts.ListUsers(c.Request.Context(), c.Query("status"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// UpdateStatus maneja PATCH /admin/users/:userId/status.
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user, err := h.accounts.UpdateStatus(c.Request.Context(), c.Param("userId"), req.Status)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	if p, ok := CurrentPrincipal(c); ok {
		h.logger.Info("account status updated by admin",
			zap.String("admin_id", p.User.ID),
			zap.String("user_id", user.ID),
			zap.String("status", user.Status.String()),
		)
	}
	respond(c, http.StatusOK, gin.H{"user": user})
}

package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"medauth/internal/domain"
	"medauth/internal/service"
)

// AuthHandler expone el flujo de autenticación.
type AuthHandler struct {
	logger   *zap.Logger
	authServ *service.AuthService
	accounts *service.AccountService
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService, accounts *service.AccountService) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		authServ: authServ,
		accounts: accounts,
	}
}

type loginResponse struct {
	User                  domain.PublicUser  `json:"user"`
	Tokens                *service.TokenPair `json:"tokens,omitempty"`
	VerificationExpiresAt string             `json:"verificationExpiresAt,omitempty"`
}

func newLoginResponse(res service.LoginResult) loginResponse {
	out := loginResponse{User: res.User.Public(), Tokens: res.Tokens}
	out.User.RequiresVerification = res.RequiresVerification
	if res.CodeExpiresAt != nil {
		out.VerificationExpiresAt = res.CodeExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

// bindJSON lee el cuerpo con caché para que un gate previo pueda haberlo leído.
func bindJSON(c *gin.Context, logger *zap.Logger, dst any) bool {
	if err := c.ShouldBindBodyWith(dst, binding.JSON); err != nil {
		logger.Debug("invalid request body", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abortWithError(c, logger, service.ErrValidation.WithDetails(map[string]any{"reason": "malformed or incomplete JSON body"}))
		return false
	}
	return true
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required"`
		Password  string `json:"password" binding:"required"`
		FirstName string `json:"firstName" binding:"required"`
		LastName  string `json:"lastName" binding:"required"`
		Role      string `json:"role"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"user": user})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	res, err := h.authServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, newLoginResponse(res))
}

// VerifyTwoFactor maneja POST /auth/verify-2fa.
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Code   string `json:"code" binding:"required"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	res, err := h.authServ.VerifyTwoFactor(c.Request.Context(), req.UserID, req.Code)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, newLoginResponse(res))
}

// Refresh maneja POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if !bindJSON(c, h.logger, &req) {
		return
	}

	pair, err := h.authServ.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"tokens": pair})
}

// Logout maneja POST /auth/logout. El cuerpo es opcional.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindBodyWith(&req, binding.JSON)
	}

	h.authServ.Logout(c.Request.Context(), req.RefreshToken)
	if p, ok := CurrentPrincipal(c); ok {
		h.logger.Info("user logged out", zap.String("user_id", p.User.ID))
	}
	respond(c, http.StatusOK, gin.H{"loggedOut": true})
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := CurrentPrincipal(c)
	if !ok {
		abortWithError(c, h.logger, service.ErrMissingToken)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": p.User})
}

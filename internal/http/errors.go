package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medauth/internal/service"
)

var statusByCode = map[string]int{
	service.CodeInvalidCredentials:      http.StatusUnauthorized,
	service.CodeMissingToken:            http.StatusUnauthorized,
	service.CodeInvalidToken:            http.StatusUnauthorized,
	service.CodeTokenExpired:            http.StatusUnauthorized,
	service.CodeInvalidTokenType:        http.StatusUnauthorized,
	service.CodeAccountBlocked:          http.StatusForbidden,
	service.CodeAccountPending:          http.StatusForbidden,
	service.CodeAccountRejected:         http.StatusForbidden,
	service.CodeInsufficientPermissions: http.StatusForbidden,
	service.CodeAccessDenied:            http.StatusForbidden,
	service.CodeUserNotFound:            http.StatusNotFound,
	service.CodeRateLimitExceeded:       http.StatusTooManyRequests,
	service.CodeCodeInvalid:             http.StatusBadRequest,
	service.CodeCodeExpired:             http.StatusBadRequest,
	service.CodeValidation:              http.StatusBadRequest,
	service.CodeEmailTaken:              http.StatusConflict,
	service.CodeCodeDelivery:            http.StatusServiceUnavailable,
	service.CodeAuthError:               http.StatusInternalServerError,
}

// HTTPStatus devuelve el status HTTP de un código de error estable.
func HTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// abortWithError escribe el sobre de error y corta la cadena de handlers.
// Los fallos internos se registran completos y se devuelven como AUTH_ERROR sin detalles.
func abortWithError(c *gin.Context, logger *zap.Logger, err error) {
	if authErr, ok := service.AsAuthError(err); ok {
		if authErr.Err != nil {
			logger.Warn("request failed",
				zap.String("code", authErr.Code),
				zap.String("path", c.Request.URL.Path),
				zap.Error(authErr.Err),
			)
		}
		c.AbortWithStatusJSON(HTTPStatus(authErr.Code), errorEnvelope(authErr))
		return
	}

	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	logger.Error("internal auth failure",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(status, errorEnvelope(service.ErrAuthInternal))
}

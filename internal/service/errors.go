package service

import (
	"errors"

	"medauth/internal/domain"
)

// Códigos estables que los clientes usan para ramificar; no cambian con los mensajes.
const (
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeAccountBlocked          = "ACCOUNT_BLOCKED"
	CodeAccountPending          = "ACCOUNT_PENDING"
	CodeAccountRejected         = "ACCOUNT_REJECTED"
	CodeMissingToken            = "MISSING_TOKEN"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeInvalidTokenType        = "INVALID_TOKEN_TYPE"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeAccessDenied            = "ACCESS_DENIED"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeCodeInvalid             = "CODE_INVALID"
	CodeCodeExpired             = "CODE_EXPIRED"
	CodeCodeDelivery            = "CODE_DELIVERY_FAILED"
	CodeValidation              = "VALIDATION_ERROR"
	CodeEmailTaken              = "EMAIL_TAKEN"
	CodeAuthError               = "AUTH_ERROR"
)

// AuthError es un fallo esperado y visible para el usuario.
// Dos AuthError son iguales para errors.Is si comparten Code.
type AuthError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

// WithDetails devuelve una copia con detalles adicionales; el sentinel no se modifica.
func (e *AuthError) WithDetails(details map[string]any) *AuthError {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap devuelve una copia que conserva la causa para logs.
func (e *AuthError) Wrap(err error) *AuthError {
	cp := *e
	cp.Err = err
	return &cp
}

func newAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

var (
	ErrInvalidCredentials      = newAuthError(CodeInvalidCredentials, "invalid email or password")
	ErrAccountBlocked          = newAuthError(CodeAccountBlocked, "account is blocked")
	ErrAccountPending          = newAuthError(CodeAccountPending, "account is pending approval")
	ErrAccountRejected         = newAuthError(CodeAccountRejected, "account has been rejected")
	ErrMissingToken            = newAuthError(CodeMissingToken, "authorization token is required")
	ErrInvalidToken            = newAuthError(CodeInvalidToken, "token is invalid")
	ErrTokenExpired            = newAuthError(CodeTokenExpired, "token has expired")
	ErrInvalidTokenType        = newAuthError(CodeInvalidTokenType, "token type is not accepted here")
	ErrUserNotFound            = newAuthError(CodeUserNotFound, "user not found")
	ErrInsufficientPermissions = newAuthError(CodeInsufficientPermissions, "insufficient permissions")
	ErrAccessDenied            = newAuthError(CodeAccessDenied, "access denied")
	ErrRateLimitExceeded       = newAuthError(CodeRateLimitExceeded, "too many requests")
	ErrCodeInvalid             = newAuthError(CodeCodeInvalid, "verification code is invalid")
	ErrCodeExpired             = newAuthError(CodeCodeExpired, "verification code has expired")
	ErrCodeDelivery            = newAuthError(CodeCodeDelivery, "verification code could not be delivered")
	ErrValidation              = newAuthError(CodeValidation, "invalid request")
	ErrEmailTaken              = newAuthError(CodeEmailTaken, "email is already registered")
	ErrAuthInternal            = newAuthError(CodeAuthError, "authentication service error")
)

// AsAuthError extrae el AuthError de una cadena de errores.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// StatusError devuelve el error que corresponde a un estado de cuenta que no puede operar.
// Devuelve nil para ACTIVE y APPROVED; un estado desconocido se deniega.
func StatusError(status domain.Status) *AuthError {
	switch status {
	case domain.StatusActive, domain.StatusApproved:
		return nil
	case domain.StatusBlocked:
		return ErrAccountBlocked
	case domain.StatusPending:
		return ErrAccountPending
	case domain.StatusRejected:
		return ErrAccountRejected
	default:
		return ErrAccessDenied
	}
}

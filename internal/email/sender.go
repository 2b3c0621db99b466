package email

import (
	"context"
	"errors"
	"time"
)

// Sender entrega los códigos 2FA al correo del usuario.
type Sender interface {
	SendTwoFactorCode(ctx context.Context, toEmail string, code string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

// NewDisabledSender devuelve un Sender que siempre falla; los logins que requieren 2FA
// terminan en CODE_DELIVERY_FAILED.
func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendTwoFactorCode(_ context.Context, _ string, _ string, _ time.Time) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

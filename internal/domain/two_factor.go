package domain

import "time"

// TwoFactorCode es el desafío 2FA vivo de un usuario. Solo existe uno por usuario.
type TwoFactorCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CodeHash  string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

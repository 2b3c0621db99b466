package domain

import "time"

// User es el registro de credenciales que lee y actualiza el núcleo de autenticación.
type User struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	FirstName            string     `json:"firstName"`
	LastName             string     `json:"lastName"`
	Role                 Role       `json:"role"`
	Status               Status     `json:"status"`
	PasswordHash         string     `json:"-"`
	RequiresVerification bool       `json:"requiresVerification"`
	LastConnection       *time.Time `json:"lastConnection,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// CanAuthenticate indica si el estado de la cuenta permite completar un login.
func (u User) CanAuthenticate() bool {
	return u.Status == StatusActive || u.Status == StatusApproved
}

// PublicUser es la vista del usuario que se devuelve en las respuestas de login.
type PublicUser struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Role                 Role   `json:"role"`
	RequiresVerification bool   `json:"requiresVerification"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:                   u.ID,
		Email:                u.Email,
		FirstName:            u.FirstName,
		LastName:             u.LastName,
		Role:                 u.Role,
		RequiresVerification: u.RequiresVerification,
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"medauth/internal/domain"
	"medauth/internal/repository"
)

// AccountService cubre el alta de usuarios y la administración de cuentas.
type AccountService struct {
	logger *zap.Logger
	users  repository.UserRepository
	hasher *PasswordHasher
	tokens *JWTService
	now    func() time.Time
}

func NewAccountService(logger *zap.Logger, users repository.UserRepository, hasher *PasswordHasher, tokens *JWTService) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		logger: logger,
		users:  users,
		hasher: hasher,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

const (
	minPasswordLength = 8
	maxPasswordLength = 72
	maxNameLength     = 100
	defaultListLimit  = 100
)

// Register crea la cuenta. Los pacientes quedan activos; los médicos pendientes de
// aprobación. Las cuentas ADMIN no se crean por esta vía.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	emailAddr := normalizeEmail(input.Email)
	if !isValidEmail(emailAddr) {
		return domain.User{}, ErrValidation.WithDetails(map[string]any{"field": "email"})
	}
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	if firstName == "" || len(firstName) > maxNameLength {
		return domain.User{}, ErrValidation.WithDetails(map[string]any{"field": "firstName"})
	}
	if lastName == "" || len(lastName) > maxNameLength {
		return domain.User{}, ErrValidation.WithDetails(map[string]any{"field": "lastName"})
	}

	role := domain.RolePatient
	if strings.TrimSpace(input.Role) != "" {
		parsed, err := domain.ParseRole(input.Role)
		if err != nil || parsed == domain.RoleAdmin {
			return domain.User{}, ErrValidation.WithDetails(map[string]any{"field": "role"})
		}
		role = parsed
	}
	if err := validatePassword(input.Password); err != nil {
		return domain.User{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	status := domain.StatusActive
	if role == domain.RoleDoctor {
		status = domain.StatusPending
	}
	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         role,
		Status:       status,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", role.String()))
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ChangePassword exige la contraseña actual y cierra todas las sesiones de refresh.
func (s *AccountService) ChangePassword(ctx context.Context, id, current, next string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.tokens.RevokeUser(ctx, user.ID); err != nil {
		s.logger.Warn("revoke refresh tokens after password change failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ListUsers filtra por estado cuando status no está vacío.
func (s *AccountService) ListUsers(ctx context.Context, status string) ([]domain.User, error) {
	var filter domain.Status
	if strings.TrimSpace(status) != "" {
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return nil, ErrValidation.WithDetails(map[string]any{"field": "status"})
		}
		filter = parsed
	}
	users, err := s.users.List(ctx, filter, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateStatus cambia el estado de la cuenta. Bloquear o rechazar revoca sus refresh tokens.
func (s *AccountService) UpdateStatus(ctx context.Context, id, status string) (domain.User, error) {
	next, err := domain.ParseStatus(status)
	if err != nil {
		return domain.User{}, ErrValidation.WithDetails(map[string]any{"field": "status"})
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.users.UpdateStatus(ctx, user.ID, next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("update status: %w", err)
	}
	if next == domain.StatusBlocked || next == domain.StatusRejected {
		if err := s.tokens.RevokeUser(ctx, user.ID); err != nil {
			return domain.User{}, fmt.Errorf("revoke refresh tokens: %w", err)
		}
	}
	s.logger.Info("user status changed",
		zap.String("user_id", user.ID),
		zap.String("from", user.Status.String()),
		zap.String("to", next.String()),
	)
	user.Status = next
	user.UpdatedAt = s.now()
	return user, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrValidation.WithDetails(map[string]any{
			"field":     "password",
			"minLength": minPasswordLength,
		})
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrValidation.WithDetails(map[string]any{
			"field": "password",
			"rule":  "must contain upper case, lower case and digit",
		})
	}
	return nil
}

func isValidEmail(addr string) bool {
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

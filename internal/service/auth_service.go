package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"medauth/internal/domain"
	"medauth/internal/email"
	"medauth/internal/metrics"
	"medauth/internal/repository"
)

// AuthService orquesta login, segundo factor, rotación de refresh y logout.
type AuthService struct {
	logger   *zap.Logger
	users    repository.UserRepository
	codes    repository.TwoFactorRepository
	hasher   *PasswordHasher
	codeGen  *OneTimeCodeGenerator
	tokens   *JWTService
	sender   email.Sender
	metrics  *metrics.Metrics
	attempts *RateLimiter
	now      func() time.Time
}

// AuthDeps agrupa las dependencias de AuthService. Logger y Metrics son opcionales.
// Attempts cuenta los códigos errados por código emitido; sin él se usa uno en memoria
// con DefaultTwoFactorAttempts por vida del código.
type AuthDeps struct {
	Logger   *zap.Logger
	Users    repository.UserRepository
	Codes    repository.TwoFactorRepository
	Hasher   *PasswordHasher
	CodeGen  *OneTimeCodeGenerator
	Tokens   *JWTService
	Sender   email.Sender
	Metrics  *metrics.Metrics
	Attempts *RateLimiter
}

const DefaultTwoFactorAttempts = 5

func NewAuthService(deps AuthDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codeGen := deps.CodeGen
	if codeGen == nil {
		codeGen = NewOneTimeCodeGenerator(DefaultCodeTTL)
	}
	attempts := deps.Attempts
	if attempts == nil {
		attempts = NewRateLimiter(NewMemoryRateLimitStore(), DefaultTwoFactorAttempts, codeGen.TTL())
	}
	return &AuthService{
		logger:   logger,
		users:    deps.Users,
		codes:    deps.Codes,
		hasher:   deps.Hasher,
		codeGen:  codeGen,
		tokens:   deps.Tokens,
		sender:   deps.Sender,
		metrics:  deps.Metrics,
		attempts: attempts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LoginResult es la salida de Login y VerifyTwoFactor. Tokens es nil mientras el
// segundo factor esté pendiente.
type LoginResult struct {
	User                 domain.User
	RequiresVerification bool
	Tokens               *TokenPair
	CodeExpiresAt        *time.Time
}

const (
	stagePassword  = "password"
	stageTwoFactor = "two_factor"
	stageRefresh   = "refresh"
)

func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		s.hasher.VerifyDummy(password)
		return LoginResult{}, s.fail(stagePassword, ErrInvalidCredentials)
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.hasher.VerifyDummy(password)
			return LoginResult{}, s.fail(stagePassword, ErrInvalidCredentials)
		}
		return LoginResult{}, fmt.Errorf("load user by email: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return LoginResult{}, s.fail(stagePassword, ErrInvalidCredentials)
	}
	if statusErr := StatusError(user.Status); statusErr != nil {
		return LoginResult{}, s.fail(stagePassword, statusErr)
	}

	s.rehashIfNeeded(ctx, &user, password)

	if user.RequiresVerification {
		expiresAt, err := s.startTwoFactor(ctx, user)
		if err != nil {
			return LoginResult{}, s.fail(stagePassword, err)
		}
		s.metrics.ObserveLogin(stagePassword, "pending")
		return LoginResult{
			User:                 user,
			RequiresVerification: true,
			CodeExpiresAt:        &expiresAt,
		}, nil
	}

	pair, err := s.completeLogin(ctx, &user)
	if err != nil {
		return LoginResult{}, err
	}
	s.metrics.ObserveLogin(stagePassword, "success")
	return LoginResult{User: user, Tokens: &pair}, nil
}

// VerifyTwoFactor canjea el código enviado en Login por un par de tokens.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string) (LoginResult, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" {
		return LoginResult{}, ErrValidation.WithDetails(map[string]any{"field": "userId"})
	}
	if !isValidCodeFormat(code) {
		return LoginResult{}, s.fail(stageTwoFactor, ErrCodeInvalid)
	}

	stored, err := s.codes.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoginResult{}, s.fail(stageTwoFactor, ErrCodeInvalid)
		}
		return LoginResult{}, fmt.Errorf("load two factor code: %w", err)
	}
	if s.codeGen.IsExpired(stored.ExpiresAt) {
		if err := s.codes.DeleteByUserID(ctx, userID); err != nil {
			s.logger.Warn("delete expired two factor code failed", zap.String("user_id", userID), zap.Error(err))
		}
		return LoginResult{}, s.fail(stageTwoFactor, ErrCodeExpired)
	}
	if !MatchCode(code, stored.CodeHash) {
		return LoginResult{}, s.fail(stageTwoFactor, s.rejectCode(ctx, stored))
	}

	consumed, err := s.codes.Consume(ctx, userID, stored.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("consume two factor code: %w", err)
	}
	if !consumed {
		return LoginResult{}, s.fail(stageTwoFactor, ErrCodeInvalid)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoginResult{}, s.fail(stageTwoFactor, ErrUserNotFound)
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if statusErr := StatusError(user.Status); statusErr != nil {
		return LoginResult{}, s.fail(stageTwoFactor, statusErr)
	}

	pair, err := s.completeLogin(ctx, &user)
	if err != nil {
		return LoginResult{}, err
	}
	s.metrics.ObserveLogin(stageTwoFactor, "success")
	return LoginResult{User: user, RequiresVerification: true, Tokens: &pair}, nil
}

// rejectCode registra un código errado. Agotados los intentos el código se borra y hace
// falta un login nuevo para recibir otro.
func (s *AuthService) rejectCode(ctx context.Context, stored domain.TwoFactorCode) error {
	decision, err := s.attempts.Allow(ctx, "2fa:"+stored.UserID+":"+stored.ID)
	if err != nil {
		s.logger.Warn("two factor attempt counter failed", zap.String("user_id", stored.UserID), zap.Error(err))
		return ErrCodeInvalid
	}
	if decision.Allowed && decision.Remaining > 0 {
		return ErrCodeInvalid.WithDetails(map[string]any{"attemptsRemaining": decision.Remaining})
	}
	if err := s.codes.DeleteByUserID(ctx, stored.UserID); err != nil {
		s.logger.Warn("delete exhausted two factor code failed", zap.String("user_id", stored.UserID), zap.Error(err))
	}
	s.logger.Info("two factor code exhausted", zap.String("user_id", stored.UserID))
	return ErrCodeInvalid.WithDetails(map[string]any{"attemptsRemaining": 0})
}

// Refresh rota el refresh token: el recibido queda revocado y se emite un par nuevo.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrValidation.WithDetails(map[string]any{"field": "refreshToken"})
	}

	claims, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		if _, ok := AsAuthError(err); ok {
			return TokenPair{}, s.fail(stageRefresh, err)
		}
		return TokenPair{}, fmt.Errorf("validate refresh token: %w", err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, s.fail(stageRefresh, ErrUserNotFound)
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if statusErr := StatusError(user.Status); statusErr != nil {
		if _, err := s.tokens.RevokeJTI(ctx, claims.ID); err != nil {
			s.logger.Warn("revoke refresh of inactive user failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		return TokenPair{}, s.fail(stageRefresh, statusErr)
	}

	revoked, err := s.tokens.RevokeJTI(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		// Otra rotación concurrente consumió este refresh.
		return TokenPair{}, s.fail(stageRefresh, ErrInvalidToken)
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue token pair: %w", err)
	}
	s.metrics.ObserveTokens(string(TokenTypeAccess), 1)
	s.metrics.ObserveTokens(string(TokenTypeRefresh), 1)
	s.metrics.ObserveLogin(stageRefresh, "success")
	return pair, nil
}

// Logout revoca el refresh recibido. Nunca falla para el cliente: un token inválido o
// ya revocado no deja nada que cerrar.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return
	}
	if err := s.tokens.RevokeRefresh(ctx, refreshToken); err != nil {
		if _, ok := AsAuthError(err); ok {
			s.logger.Debug("logout with unusable refresh token", zap.Error(err))
			return
		}
		s.logger.Warn("logout revoke failed", zap.Error(err))
	}
}

func (s *AuthService) startTwoFactor(ctx context.Context, user domain.User) (time.Time, error) {
	code, err := s.codeGen.Generate()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate two factor code: %w", err)
	}
	hash, err := HashCode(code)
	if err != nil {
		return time.Time{}, fmt.Errorf("hash two factor code: %w", err)
	}
	expiresAt := s.codeGen.ExpiryFromNow()
	record := domain.TwoFactorCode{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	if err := s.codes.Replace(ctx, record); err != nil {
		return time.Time{}, fmt.Errorf("store two factor code: %w", err)
	}

	if s.sender == nil {
		return time.Time{}, ErrCodeDelivery
	}
	if err := s.sender.SendTwoFactorCode(ctx, user.Email, code, expiresAt); err != nil {
		s.logger.Warn("send two factor code failed", zap.String("user_id", user.ID), zap.Error(err))
		if delErr := s.codes.DeleteByUserID(ctx, user.ID); delErr != nil {
			s.logger.Warn("discard undelivered two factor code failed", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return time.Time{}, ErrCodeDelivery.Wrap(err)
	}
	return expiresAt, nil
}

func (s *AuthService) completeLogin(ctx context.Context, user *domain.User) (TokenPair, error) {
	pair, err := s.tokens.IssuePair(ctx, *user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue token pair: %w", err)
	}
	s.metrics.ObserveTokens(string(TokenTypeAccess), 1)
	s.metrics.ObserveTokens(string(TokenTypeRefresh), 1)

	now := s.now()
	if err := s.users.UpdateLastConnection(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last connection failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastConnection = &now
	}
	return pair, nil
}

func (s *AuthService) rehashIfNeeded(ctx context.Context, user *domain.User, password string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash password failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.Warn("store rehashed password failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
}

func (s *AuthService) fail(stage string, err error) error {
	outcome := CodeAuthError
	if authErr, ok := AsAuthError(err); ok {
		outcome = authErr.Code
	}
	s.metrics.ObserveLogin(stage, outcome)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medauth/internal/domain"
	"medauth/internal/ids"
)

// TokenType distingue access de refresh dentro del claim "type".
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var errSigningKeyMissing = errors.New("jwt signing key not configured")

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Claims viaja en ambos tipos de token; el refresh solo lleva UserID.
type Claims struct {
	UserID    string        `json:"userId"`
	Email     string        `json:"email,omitempty"`
	Role      domain.Role   `json:"role,omitempty"`
	Status    domain.Status `json:"status,omitempty"`
	TokenType TokenType     `json:"type"`
	jwt.RegisteredClaims
}

type JWTOptions struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Store      RefreshTokenStore
}

// JWTService emite y valida tokens JWT HS256.
type JWTService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshTokenStore
	now        func() time.Time
}

func NewJWTService(opts JWTOptions) *JWTService {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Issuer == "" {
		opts.Issuer = "medauth"
	}
	if opts.Audience == "" {
		opts.Audience = "medauth-clients"
	}
	if opts.Store == nil {
		opts.Store = NewMemoryRefreshTokenStore()
	}
	return &JWTService{
		secret:     []byte(opts.Secret),
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		store:      opts.Store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *JWTService) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken firma los claims de identidad del usuario con vida corta.
func (s *JWTService) IssueAccessToken(user domain.User) (string, error) {
	claims := Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Status:    user.Status,
		TokenType: TokenTypeAccess,
	}
	token, _, err := s.sign(claims, s.accessTTL)
	return token, err
}

// IssueRefreshToken firma un refresh y registra su jti para poder revocarlo.
func (s *JWTService) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	claims := Claims{
		UserID:    userID,
		TokenType: TokenTypeRefresh,
	}
	token, jti, err := s.sign(claims, s.refreshTTL)
	if err != nil {
		return "", err
	}
	if err := s.store.Store(ctx, jti, userID, s.refreshTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (s *JWTService) IssuePair(ctx context.Context, user domain.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Verify valida firma, emisor, audiencia y vencimiento.
// Devuelve ErrTokenExpired si solo falla el vencimiento y ErrInvalidToken en el resto de casos.
func (s *JWTService) Verify(tokenString string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, errSigningKeyMissing
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired.Wrap(err)
		}
		return Claims{}, ErrInvalidToken.Wrap(err)
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) VerifyAccess(tokenString string) (Claims, error) {
	return s.verifyType(tokenString, TokenTypeAccess)
}

func (s *JWTService) VerifyRefresh(tokenString string) (Claims, error) {
	return s.verifyType(tokenString, TokenTypeRefresh)
}

func (s *JWTService) verifyType(tokenString string, want TokenType) (Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != want {
		return Claims{}, ErrInvalidTokenType.WithDetails(map[string]any{
			"expected": string(want),
			"actual":   string(claims.TokenType),
		})
	}
	return claims, nil
}

// ValidateRefresh verifica el refresh y que su registro siga vivo en el store.
func (s *JWTService) ValidateRefresh(ctx context.Context, tokenString string) (Claims, error) {
	claims, err := s.VerifyRefresh(tokenString)
	if err != nil {
		return Claims{}, err
	}
	ok, err := s.store.Exists(ctx, claims.ID)
	if err != nil {
		return Claims{}, err
	}
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// RevokeJTI borra el registro del refresh. Devuelve false si ya no existía, lo que permite
// detectar que otra rotación concurrente ganó.
func (s *JWTService) RevokeJTI(ctx context.Context, jti string) (bool, error) {
	return s.store.Revoke(ctx, jti)
}

// RevokeRefresh revoca un refresh recibido del cliente (logout).
func (s *JWTService) RevokeRefresh(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyRefresh(tokenString)
	if err != nil {
		return err
	}
	_, err = s.store.Revoke(ctx, claims.ID)
	return err
}

// RevokeUser revoca todos los refresh de un usuario.
func (s *JWTService) RevokeUser(ctx context.Context, userID string) error {
	return s.store.RevokeUser(ctx, userID)
}

func (s *JWTService) IsAccessToken(tokenString string) bool {
	claims, ok := decodeUnverified(tokenString)
	return ok && claims.TokenType == TokenTypeAccess
}

func (s *JWTService) IsRefreshToken(tokenString string) bool {
	claims, ok := decodeUnverified(tokenString)
	return ok && claims.TokenType == TokenTypeRefresh
}

// TimeRemaining devuelve los segundos hasta el vencimiento; 0 si no se puede leer o ya venció.
func (s *JWTService) TimeRemaining(tokenString string) int64 {
	claims, ok := decodeUnverified(tokenString)
	if !ok || claims.ExpiresAt == nil {
		return 0
	}
	left := claims.ExpiresAt.Time.Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

func (s *JWTService) sign(claims Claims, ttl time.Duration) (string, string, error) {
	if len(s.secret) == 0 {
		return "", "", errSigningKeyMissing
	}
	now := s.now()
	jti := ids.New()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    s.issuer,
		Subject:   claims.UserID,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	return signed, jti, err
}

func (s *JWTService) isValidClaims(claims Claims) bool {
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID {
		return false
	}
	if strings.TrimSpace(claims.ID) == "" {
		return false
	}
	return claims.TokenType == TokenTypeAccess || claims.TokenType == TokenTypeRefresh
}

func decodeUnverified(tokenString string) (Claims, bool) {
	var claims Claims
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, false
	}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return Claims{}, false
	}
	return claims, true
}

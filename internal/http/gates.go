package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"medauth/internal/domain"
	"medauth/internal/metrics"
	"medauth/internal/repository"
	"medauth/internal/service"
)

// Gate es un paso del control de acceso. Devuelve nil para dejar pasar la petición.
type Gate interface {
	Check(c *gin.Context) error
}

// GateFunc adapta una función a Gate.
type GateFunc func(c *gin.Context) error

func (f GateFunc) Check(c *gin.Context) error {
	return f(c)
}

// Guard reúne lo que necesitan los gates con estado: verificación de tokens, recarga del
// usuario y el limitador por usuario.
type Guard struct {
	logger       *zap.Logger
	tokens       *service.JWTService
	users        repository.UserRepository
	limiter      *service.RateLimiter
	metrics      *metrics.Metrics
	storeTimeout time.Duration
}

func NewGuard(
	logger *zap.Logger,
	tokens *service.JWTService,
	users repository.UserRepository,
	limiter *service.RateLimiter,
	m *metrics.Metrics,
	storeTimeout time.Duration,
) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &Guard{
		logger:       logger,
		tokens:       tokens,
		users:        users,
		limiter:      limiter,
		metrics:      m,
		storeTimeout: storeTimeout,
	}
}

// Chain ejecuta los gates en orden; el primero que niega escribe el error y corta.
func (g *Guard) Chain(gates ...Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, gate := range gates {
			if err := gate.Check(c); err != nil {
				if authErr, ok := service.AsAuthError(err); ok {
					g.metrics.ObserveDenial(authErr.Code)
					g.logger.Debug("access denied",
						zap.String("code", authErr.Code),
						zap.String("path", c.Request.URL.Path),
					)
				}
				abortWithError(c, g.logger, err)
				return
			}
		}
		c.Next()
	}
}

// Authenticate exige un access token válido y recarga al usuario; el estado y el rol
// salen del store, no de los claims.
func (g *Guard) Authenticate() Gate {
	return GateFunc(func(c *gin.Context) error {
		p, err := g.resolve(c)
		if err != nil {
			return err
		}
		setPrincipal(c, p)
		return nil
	})
}

// OptionalAuthenticate identifica al usuario si puede y nunca niega.
func (g *Guard) OptionalAuthenticate() Gate {
	return GateFunc(func(c *gin.Context) error {
		p, err := g.resolve(c)
		if err != nil {
			if _, ok := service.AsAuthError(err); !ok {
				g.logger.Warn("optional authentication failed", zap.Error(err))
			}
			return nil
		}
		setPrincipal(c, p)
		return nil
	})
}

func (g *Guard) resolve(c *gin.Context) (Principal, error) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		return Principal{}, service.ErrMissingToken
	}
	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		return Principal{}, err
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.storeTimeout)
	defer cancel()
	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, service.ErrUserNotFound
		}
		return Principal{}, fmt.Errorf("load principal: %w", err)
	}
	return Principal{User: user, Claims: claims}, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// RequireStatus deja pasar solo los estados indicados. BLOCKED, PENDING y REJECTED
// responden con su propio código.
func RequireStatus(allowed ...domain.Status) Gate {
	return GateFunc(func(c *gin.Context) error {
		p, ok := CurrentPrincipal(c)
		if !ok {
			return service.ErrMissingToken
		}
		for _, s := range allowed {
			if p.User.Status == s {
				return nil
			}
		}
		if statusErr := service.StatusError(p.User.Status); statusErr != nil {
			return statusErr
		}
		return service.ErrAccessDenied
	})
}

// RequireRole niega con el rol exigido y el actual en los detalles.
func RequireRole(allowed ...domain.Role) Gate {
	required := make([]string, 0, len(allowed))
	for _, r := range allowed {
		required = append(required, r.String())
	}
	return GateFunc(func(c *gin.Context) error {
		p, ok := CurrentPrincipal(c)
		if !ok {
			return service.ErrMissingToken
		}
		for _, r := range allowed {
			if p.User.Role == r {
				return nil
			}
		}
		return service.ErrInsufficientPermissions.WithDetails(map[string]any{
			"required": required,
			"current":  p.User.Role.String(),
		})
	})
}

// RequireOwnership compara el id del usuario con el del recurso, buscado en la ruta,
// luego en la query y por último en el cuerpo JSON. ADMIN pasa siempre.
func RequireOwnership(param string) Gate {
	return GateFunc(func(c *gin.Context) error {
		p, ok := CurrentPrincipal(c)
		if !ok {
			return service.ErrMissingToken
		}
		if p.User.Role == domain.RoleAdmin {
			return nil
		}
		target := ownershipTarget(c, param)
		if target == "" || target != p.User.ID {
			return service.ErrAccessDenied
		}
		return nil
	})
}

func ownershipTarget(c *gin.Context, param string) string {
	if v := strings.TrimSpace(c.Param(param)); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Query(param)); v != "" {
		return v
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return ""
	}
	var body map[string]any
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	if v, ok := body[param].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// RateLimit cuenta por usuario autenticado o, sin principal, por IP. Si el store falla
// la petición pasa.
func (g *Guard) RateLimit() Gate {
	return GateFunc(func(c *gin.Context) error {
		if g.limiter == nil {
			return nil
		}
		key := "ip:" + c.ClientIP()
		if p, ok := CurrentPrincipal(c); ok {
			key = "user:" + p.User.ID
		}

		decision, err := g.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			g.logger.Warn("rate limit store unavailable", zap.String("key", key), zap.Error(err))
			return nil
		}
		resetSeconds := int(math.Ceil(decision.ResetIn.Seconds()))
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			return service.ErrRateLimitExceeded.WithDetails(map[string]any{
				"limit":             decision.Limit,
				"retryAfterSeconds": resetSeconds,
			})
		}
		return nil
	})
}

// AnyAuthenticated: cualquier cuenta activa o aprobada.
func (g *Guard) AnyAuthenticated() gin.HandlerFunc {
	return g.Chain(
		g.Authenticate(),
		RequireStatus(domain.StatusActive, domain.StatusApproved),
		g.RateLimit(),
	)
}

func (g *Guard) AdminOnly() gin.HandlerFunc {
	return g.rolePolicy(domain.RoleAdmin, domain.StatusActive)
}

func (g *Guard) DoctorOnly() gin.HandlerFunc {
	return g.rolePolicy(domain.RoleDoctor, domain.StatusActive, domain.StatusApproved)
}

func (g *Guard) PatientOnly() gin.HandlerFunc {
	return g.rolePolicy(domain.RolePatient, domain.StatusActive)
}

// rolePolicy revisa el estado bloqueante antes que la cuota y el rol, así una cuenta BLOCKED
// siempre responde ACCOUNT_BLOCKED. El conjunto de estados propio de la política va después del rol.
func (g *Guard) rolePolicy(role domain.Role, statuses ...domain.Status) gin.HandlerFunc {
	return g.Chain(
		g.Authenticate(),
		RequireStatus(domain.StatusActive, domain.StatusApproved),
		g.RateLimit(),
		RequireRole(role),
		RequireStatus(statuses...),
	)
}

// Throttle limita por IP con token bucket los endpoints de credenciales.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	overflow *rate.Limiter
	limit    rate.Limit
	burst    int
	perMin   int
	maxKeys  int
	now      func() time.Time
}

const throttleMaxKeys = 10000

func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Every(time.Minute / time.Duration(perMinute))
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		overflow: rate.NewLimiter(limit, burst),
		limit:    limit,
		burst:    burst,
		perMin:   perMinute,
		maxKeys:  throttleMaxKeys,
		now:      time.Now,
	}
}

func (t *Throttle) Check(c *gin.Context) error {
	if t == nil {
		return nil
	}
	if t.allow(c.ClientIP()) {
		return nil
	}
	retryAfter := int(math.Ceil(time.Duration(float64(time.Second) / float64(t.limit)).Seconds()))
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	return service.ErrRateLimitExceeded.WithDetails(map[string]any{
		"limit":             t.perMin,
		"retryAfterSeconds": retryAfter,
	})
}

func (t *Throttle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	return t.limiterFor(ip, now).AllowN(now, 1)
}

// limiterFor se llama con mu tomado. Con el mapa lleno solo se descartan buckets
// ya recargados; si ninguno lo está, las IPs nuevas comparten el bucket de desborde.
func (t *Throttle) limiterFor(ip string, now time.Time) *rate.Limiter {
	if l, ok := t.limiters[ip]; ok {
		return l
	}
	if len(t.limiters) >= t.maxKeys {
		t.evictIdle(now)
		if len(t.limiters) >= t.maxKeys {
			return t.overflow
		}
	}
	l := rate.NewLimiter(t.limit, t.burst)
	t.limiters[ip] = l
	return l
}

func (t *Throttle) evictIdle(now time.Time) {
	full := float64(t.burst)
	for ip, l := range t.limiters {
		if l.TokensAt(now) >= full {
			delete(t.limiters, ip)
		}
	}
}

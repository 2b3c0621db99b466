package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medauth/internal/metrics"
)

// HealthCheck comprueba una dependencia externa para /healthz.
type HealthCheck func(ctx context.Context) error

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	m *metrics.Metrics,
	guard *Guard,
	throttle *Throttle,
	authH *AuthHandler,
	userH *UserHandler,
	checks map[string]HealthCheck,
	trustedProxies []string,
) *gin.Engine {
	r := gin.New()
	// Sin proxies confiables ClientIP ignora X-Forwarded-For y usa la dirección del socket.
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		logger.Error("invalid trusted proxies, trusting none", zap.Strings("proxies", trustedProxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), m.Instrument())

	r.GET("/healthz", healthHandler(checks))
	r.GET("/metrics", gin.WrapH(m.Handler()))

	credentials := guard.Chain(throttle)
	auth := r.Group("/auth")
	auth.POST("/register", credentials, authH.Register)
	auth.POST("/login", credentials, authH.Login)
	auth.POST("/verify-2fa", credentials, authH.VerifyTwoFactor)
	auth.POST("/refresh", guard.Chain(guard.RateLimit()), authH.Refresh)
	auth.POST("/logout", guard.Chain(guard.OptionalAuthenticate(), guard.RateLimit()), authH.Logout)
	auth.GET("/me", guard.AnyAuthenticated(), authH.Me)

	users := r.Group("/users", guard.AnyAuthenticated())
	users.GET("/:userId", guard.Chain(RequireOwnership("userId")), userH.GetUser)
	users.PUT("/:userId/password", guard.Chain(RequireOwnership("userId")), userH.ChangePassword)

	admin := r.Group("/admin", guard.AdminOnly())
	admin.GET("/users", userH.ListUsers)
	admin.PATCH("/users/:userId/status", userH.UpdateStatus)

	r.GET("/doctor/me", guard.DoctorOnly(), userH.Profile)
	r.GET("/patient/me", guard.PatientOnly(), userH.Profile)

	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": result})
	}
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

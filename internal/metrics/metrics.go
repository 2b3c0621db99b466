package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics agrupa los colectores del núcleo de autenticación.
// Un *Metrics nil es válido y no registra nada.
type Metrics struct {
	gatherer prometheus.Gatherer

	LoginAttempts   *prometheus.CounterVec
	TokensIssued    *prometheus.CounterVec
	GateDenials     *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New crea y registra los colectores en reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login and 2FA attempts by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_tokens_issued_total",
				Help: "Issued tokens by type.",
			},
			[]string{"type"},
		),
		GateDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_gate_denials_total",
				Help: "Requests denied by the access-control chain, by error code.",
			},
			[]string{"code"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.LoginAttempts, m.TokensIssued, m.GateDenials, m.RequestsTotal, m.RequestDuration)
	return m
}

func (m *Metrics) ObserveLogin(stage, outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveTokens(tokenType string, n int) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Add(float64(n))
}

func (m *Metrics) ObserveDenial(code string) {
	if m == nil {
		return
	}
	m.GateDenials.WithLabelValues(code).Inc()
}

// Handler expone el registro en formato Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument mide latencia y conteo por ruta registrada en gin.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}

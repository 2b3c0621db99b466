package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort     string        `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL  string        `env:"DATABASE_URL,required"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"false"`

	// Vacío: no se confía en ningún proxy y la IP es la del socket.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	JWTSecret     string        `env:"JWT_SECRET,required"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"medauth"`
	JWTAudience   string        `env:"JWT_AUDIENCE" envDefault:"medauth-clients"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	TwoFactorCodeTTL     time.Duration `env:"TWO_FACTOR_CODE_TTL" envDefault:"10m"`
	TwoFactorMaxAttempts int           `env:"TWO_FACTOR_MAX_ATTEMPTS" envDefault:"5"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`

	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax       int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	LoginRatePerMinute int           `env:"LOGIN_RATE_PER_MINUTE" envDefault:"20"`
	LoginBurst         int           `env:"LOGIN_BURST" envDefault:"5"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`
	LogDev    bool          `env:"LOG_DEV" envDefault:"false"`
	LogFile   string        `env:"LOG_FILE"`
	LogMaxAge time.Duration `env:"LOG_MAX_AGE" envDefault:"168h"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que dejarían el núcleo de auth inseguro o inutilizable.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return errors.New("config: JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}
	if c.TwoFactorCodeTTL <= 0 {
		return errors.New("config: TWO_FACTOR_CODE_TTL must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("config: rate limit window and max must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: STORE_TIMEOUT must be positive")
	}
	if c.TwoFactorMaxAttempts <= 0 {
		return errors.New("config: TWO_FACTOR_MAX_ATTEMPTS must be positive")
	}
	for _, p := range c.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}
	return nil
}

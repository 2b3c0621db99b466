package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medauth")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTAccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %v", cfg.JWTAccessTTL)
	}
	if cfg.JWTRefreshTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d refresh ttl, got %v", cfg.JWTRefreshTTL)
	}
	if cfg.TwoFactorCodeTTL != 10*time.Minute {
		t.Fatalf("expected 10m code ttl, got %v", cfg.TwoFactorCodeTTL)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("expected bcrypt cost 12, got %d", cfg.BcryptCost)
	}
	if cfg.RateLimitMax != 100 || cfg.RateLimitWindow != 15*time.Minute {
		t.Fatalf("unexpected rate limit defaults: %d/%v", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.TrustedProxies)
	}
	if cfg.TwoFactorMaxAttempts != 5 {
		t.Fatalf("expected 5 two-factor attempts, got %d", cfg.TwoFactorMaxAttempts)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medauth")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("RATE_LIMIT_MAX", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTAccessTTL != 5*time.Minute || cfg.BcryptCost != 10 || cfg.RateLimitMax != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medauth")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}

func TestValidate_RejectsBadCost(t *testing.T) {
	cfg := validConfig()
	cfg.BcryptCost = 40
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bcrypt cost error")
	}
	cfg.BcryptCost = 12
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	cfg.JWTRefreshTTL = 30 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected refresh ttl error")
	}
}

func validConfig() Config {
	return Config{
		JWTSecret:            "secret",
		BcryptCost:           12,
		JWTAccessTTL:         time.Minute,
		JWTRefreshTTL:        time.Hour,
		TwoFactorCodeTTL:     time.Minute,
		TwoFactorMaxAttempts: 5,
		RateLimitMax:         1,
		RateLimitWindow:      time.Minute,
		StoreTimeout:         time.Second,
	}
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medauth")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.10")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.168.1.10" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
}

func TestValidate_RejectsBadProxyAndAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected trusted proxy error")
	}
	cfg.TrustedProxies = []string{"172.16.0.0/12", "::1"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid proxies, got %v", err)
	}
	cfg.TwoFactorMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected two-factor attempts error")
	}
}

package authgate

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("some-signing-key")
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	base := DefaultConfig()
	base.Token.PrivateKey = []byte("some-signing-key")

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signing key", func(c *Config) { c.Token.PrivateKey = nil }},
		{"otp digits too small", func(c *Config) { c.OTP.CodeDigits = 3 }},
		{"otp digits too large", func(c *Config) { c.OTP.CodeDigits = 11 }},
		{"expiry below cooldown", func(c *Config) { c.OTP.Expiry = c.OTP.Cooldown }},
		{"zero session lifetime", func(c *Config) { c.Session.Lifetime = 0 }},
		{"zero access ttl", func(c *Config) { c.Token.AccessTTL = 0 }},
		{"short password minimum", func(c *Config) { c.Password.MinLength = 4 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHGATE_OTP_DIGITS", "8")
	t.Setenv("AUTHGATE_OTP_COOLDOWN", "30s")
	t.Setenv("AUTHGATE_ACCESS_TTL", "5m")
	t.Setenv("AUTHGATE_SIGNING_KEY", "env-signing-key")
	t.Setenv("AUTHGATE_TOKEN_ISSUER", "authgate-test")
	t.Setenv("AUTHGATE_AUDIT_ENABLED", "false")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config from env: %v", err)
	}

	if cfg.OTP.CodeDigits != 8 {
		t.Fatalf("digits = %d, want 8", cfg.OTP.CodeDigits)
	}
	if cfg.OTP.Cooldown != 30*time.Second {
		t.Fatalf("cooldown = %s, want 30s", cfg.OTP.Cooldown)
	}
	if cfg.Token.AccessTTL != 5*time.Minute {
		t.Fatalf("access ttl = %s, want 5m", cfg.Token.AccessTTL)
	}
	if string(cfg.Token.PrivateKey) != "env-signing-key" {
		t.Fatalf("unexpected signing key %q", cfg.Token.PrivateKey)
	}
	if cfg.Token.Issuer != "authgate-test" {
		t.Fatalf("issuer = %q", cfg.Token.Issuer)
	}
	if cfg.Audit.Enabled {
		t.Fatal("audit should be disabled via env")
	}

	// unset vars fall back to defaults
	if cfg.Session.Lifetime != 720*time.Hour {
		t.Fatalf("session lifetime = %s, want 720h", cfg.Session.Lifetime)
	}
	if cfg.Password.MinLength != 8 {
		t.Fatalf("min length = %d, want 8", cfg.Password.MinLength)
	}
}

package authgate

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	OTPCodeDigits   int           `env:"AUTHGATE_OTP_DIGITS" envDefault:"6"`
	OTPCooldown     time.Duration `env:"AUTHGATE_OTP_COOLDOWN" envDefault:"60s"`
	OTPExpiry       time.Duration `env:"AUTHGATE_OTP_EXPIRY" envDefault:"10m"`
	SessionLifetime time.Duration `env:"AUTHGATE_SESSION_LIFETIME" envDefault:"720h"`
	AccessTTL       time.Duration `env:"AUTHGATE_ACCESS_TTL" envDefault:"15m"`
	SigningMethod   string        `env:"AUTHGATE_SIGNING_METHOD" envDefault:"hs256"`
	SigningKey      string        `env:"AUTHGATE_SIGNING_KEY"`
	TokenIssuer     string        `env:"AUTHGATE_TOKEN_ISSUER"`
	PasswordMinLen  int           `env:"AUTHGATE_PASSWORD_MIN_LENGTH" envDefault:"8"`
	AuditEnabled    bool          `env:"AUTHGATE_AUDIT_ENABLED" envDefault:"true"`
}

// ConfigFromEnv builds a Config from AUTHGATE_* environment variables,
// layered over DefaultConfig.
func ConfigFromEnv() (Config, error) {
	var parsed envConfig
	if err := env.Parse(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.OTP.CodeDigits = parsed.OTPCodeDigits
	cfg.OTP.Cooldown = parsed.OTPCooldown
	cfg.OTP.Expiry = parsed.OTPExpiry
	cfg.Session.Lifetime = parsed.SessionLifetime
	cfg.Token.AccessTTL = parsed.AccessTTL
	cfg.Token.SigningMethod = parsed.SigningMethod
	cfg.Token.PrivateKey = []byte(parsed.SigningKey)
	cfg.Token.Issuer = parsed.TokenIssuer
	cfg.Password.MinLength = parsed.PasswordMinLen
	cfg.Audit.Enabled = parsed.AuditEnabled

	return cfg, nil
}

package authgate

import (
	"errors"
	"time"
)

// Config groups the per-concern settings consumed by Builder.Build.
type Config struct {
	OTP      OTPConfig
	Session  SessionConfig
	Token    TokenConfig
	Password PasswordConfig
	Audit    AuditConfig
}

// OTPConfig controls one-time-code issuance.
type OTPConfig struct {
	CodeDigits  int
	Cooldown    time.Duration
	Expiry      time.Duration
	Retention   time.Duration
	RedisPrefix string
}

// SessionConfig controls refresh-token sessions.
type SessionConfig struct {
	Lifetime    time.Duration
	Retention   time.Duration
	RedisPrefix string
	// MaxUserAgentLen truncates stored user agent strings.
	MaxUserAgentLen int
}

// TokenConfig controls access-token issuance.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig carries the argon2id cost parameters and the registration
// password policy.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration; callers must still set
// the token signing key.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			CodeDigits:  6,
			Cooldown:    60 * time.Second,
			Expiry:      10 * time.Minute,
			Retention:   time.Hour,
			RedisPrefix: "aotp",
		},
		Session: SessionConfig{
			Lifetime:        30 * 24 * time.Hour,
			Retention:       24 * time.Hour,
			RedisPrefix:     "asr",
			MaxUserAgentLen: 512,
		},
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.OTP.CodeDigits < 4 || cfg.OTP.CodeDigits > 10 {
		return errors.New("otp code digits must be between 4 and 10")
	}
	if cfg.OTP.Cooldown <= 0 {
		return errors.New("otp cooldown must be positive")
	}
	if cfg.OTP.Expiry <= cfg.OTP.Cooldown {
		return errors.New("otp expiry must exceed the cooldown")
	}
	if cfg.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if cfg.Token.AccessTTL <= 0 {
		return errors.New("access token TTL must be positive")
	}
	if len(cfg.Token.PrivateKey) == 0 {
		return errors.New("token signing key is required")
	}
	if cfg.Password.MinLength < 8 {
		return errors.New("password min length must be >= 8")
	}
	return nil
}

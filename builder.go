package authgate

import (
	"errors"

	"github.com/davrell/authgate/audit"
	"github.com/davrell/authgate/otp"
	"github.com/davrell/authgate/password"
	"github.com/davrell/authgate/session"
	"github.com/davrell/authgate/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Collaborators default where safe: the clock
// to the wall clock, the sender to NoOpSender. Redis, the credential store,
// and the token signing key are required.
type Builder struct {
	config      Config
	redis       redis.UniversalClient
	credentials CredentialStore
	sender      NotificationSender
	clock       Clock
	auditSink   audit.Sink
	built       bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithNotificationSender(sender NotificationSender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}
	sender := b.sender
	if sender == nil {
		sender = NoOpSender{}
	}

	hasher, err := password.New(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessTTL:     b.config.Token.AccessTTL,
		SigningMethod: token.SigningMethod(b.config.Token.SigningMethod),
		PrivateKey:    b.config.Token.PrivateKey,
		PublicKey:     b.config.Token.PublicKey,
		Issuer:        b.config.Token.Issuer,
		Leeway:        b.config.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}
	issuer.WithNow(clock.Now)

	engine := &Engine{
		config:      b.config,
		credentials: b.credentials,
		sender:      sender,
		clock:       clock,
		hasher:      hasher,
		tokens:      issuer,
		otp: otp.NewLedger(b.redis, otp.Config{
			CodeDigits: b.config.OTP.CodeDigits,
			Cooldown:   b.config.OTP.Cooldown,
			Expiry:     b.config.OTP.Expiry,
			Retention:  b.config.OTP.Retention,
			Prefix:     b.config.OTP.RedisPrefix,
		}, clock.Now),
		sessions: session.NewStore(b.redis, session.Config{
			Lifetime:  b.config.Session.Lifetime,
			Retention: b.config.Session.Retention,
			Prefix:    b.config.Session.RedisPrefix,
		}, clock.Now),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.auditSink),
	}

	return engine, nil
}

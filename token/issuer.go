// Package token mints and validates short-lived, stateless access tokens.
// Validity is determined by signature and expiry alone; there is no
// revocation list, the short TTL bounds the exposure of a leaked token.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config controls token issuance and validation.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims is the access-token payload: subject (user id), email, and the
// verification flag frozen at mint time.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Issuer signs and parses access tokens under a single configured key.
type Issuer struct {
	config Config
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Issuer{config: cfg, now: time.Now}, nil
}

// WithNow overrides the time source, for deterministic expiry in tests.
func (i *Issuer) WithNow(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// Mint produces a signed access token for the given subject.
func (i *Issuer) Mint(userID, email string, emailVerified bool) (string, error) {
	now := i.now()

	claims := Claims{
		Email:         email,
		EmailVerified: emailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(i.method(), claims)

	signKey, err := i.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(signKey)
}

// Parse validates signature, algorithm, expiry, and issuer, returning the
// decoded claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (i *Issuer) signKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPrivateKey(i.config.PrivateKey)
}

func (i *Issuer) verifyKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	if len(i.config.PublicKey) > 0 {
		return parseEdPublicKey(i.config.PublicKey)
	}
	key, err := parseEdPrivateKey(i.config.PrivateKey)
	if err != nil {
		return nil, err
	}
	return key.Public(), nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

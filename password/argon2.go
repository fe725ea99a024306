// Package password provides fixed-cost argon2id hashing with PHC-format
// encoded output.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Config holds the argon2id cost parameters. The hasher always applies the
// configured cost; there is no per-call override.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords under a single fixed cost.
type Hasher struct {
	config Config
}

func New(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < 1 {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < 1 {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash with a fresh random salt and returns it in
// PHC string format.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash under the parameters embedded in encodedHash
// and compares in constant time.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	memory, time, parallelism, salt, hash, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(hash)))

	return subtle.ConstantTimeCompare(computed, hash) == 1, nil
}

func parsePHC(encodedHash string) (memory, time uint32, parallelism uint8, salt, hash []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return 0, 0, 0, nil, nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return 0, 0, 0, nil, nil, errors.New("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("unsupported argon2 version")
	}

	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &p); err != nil {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
	}
	if memory < minMemoryKB || time < 1 || p < 1 {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
	}

	salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return 0, 0, 0, nil, nil, errors.New("invalid salt")
	}

	hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return 0, 0, 0, nil, nil, errors.New("invalid hash")
	}

	return memory, time, p, salt, hash, nil
}

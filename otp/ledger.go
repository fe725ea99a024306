// Package otp issues and verifies one-time codes with per-(email, purpose)
// cooldown and single-use consumption against a Redis store.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/davrell/authgate/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps any store failure that is not a domain outcome.
	ErrUnavailable = errors.New("otp store unavailable")
)

// CooldownError reports that issuance for the pair is still inside the
// cooldown window.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp issuance on cooldown, retry after %s", e.RetryAfter)
}

// Config controls issuance and expiry behavior.
type Config struct {
	CodeDigits int
	Cooldown   time.Duration
	Expiry     time.Duration
	// Retention keeps consumed records around past their expiry before the
	// key TTL garbage-collects them.
	Retention time.Duration
	Prefix    string
}

// Ledger is the Redis-backed one-time-code store. One key per
// (email, purpose) pair carries both the current record and the
// last-issuance marker, so the cooldown check and the invalidate-then-insert
// run as a single server-side script: two concurrent issuances cannot both
// leave a valid code outstanding.
type Ledger struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

// issueScript checks the cooldown against the issuedAt field of the current
// record (byte offset 3, big endian, see record layout) and replaces the
// record in the same atomic step. Returns {0, wait} on cooldown, {1} on
// issuance.
const issueScript = `
local function read_be64(s, i)
  local v = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])

local data = redis.call("GET", KEYS[1])
if data then
  local issued = read_be64(data, 3)
  if issued then
    local wait = issued + cooldown - now
    if wait > 0 then
      return {0, wait}
    end
  end
end

redis.call("SET", KEYS[1], ARGV[3], "PX", tonumber(ARGV[4]))
return {1}
`

var issueLua = redis.NewScript(issueScript)

func NewLedger(rdb redis.UniversalClient, cfg Config, now func() time.Time) *Ledger {
	if cfg.Prefix == "" {
		cfg.Prefix = "aotp"
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{redis: rdb, cfg: cfg, now: now}
}

func (l *Ledger) key(email string, purpose Purpose) string {
	return l.cfg.Prefix + ":" + string(purpose) + ":" + email
}

// Issue generates a fresh code for the pair, invalidating whatever record
// preceded it. The plaintext code is returned exactly once for out-of-band
// delivery; only its hash is persisted. Returns *CooldownError when called
// inside the cooldown window.
func (l *Ledger) Issue(ctx context.Context, email string, purpose Purpose, ownerID string) (string, error) {
	if !purpose.valid() {
		return "", errors.New("invalid otp purpose")
	}

	code, err := internal.NewOTP(l.cfg.CodeDigits)
	if err != nil {
		return "", err
	}

	now := l.now()
	encoded, err := encodeRecord(&record{
		State:    stateActive,
		IssuedAt: now.Unix(),
		ExpireAt: now.Add(l.cfg.Expiry).Unix(),
		CodeHash: internal.HashOTP(code),
		OwnerID:  ownerID,
	})
	if err != nil {
		return "", err
	}

	retention := l.cfg.Expiry + l.cfg.Retention
	res, err := issueLua.Run(ctx, l.redis,
		[]string{l.key(email, purpose)},
		now.Unix(),
		int64(l.cfg.Cooldown/time.Second),
		encoded,
		retention.Milliseconds(),
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return "", fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	status, _ := reply[0].(int64)
	if status == 0 {
		wait := int64(1)
		if len(reply) > 1 {
			if w, ok := reply[1].(int64); ok && w > 0 {
				wait = w
			}
		}
		return "", &CooldownError{RetryAfter: time.Duration(wait) * time.Second}
	}

	return code, nil
}

// Verify consumes the current record for the pair when the code matches.
// Consumption is exactly-once: the used flag is flipped inside an optimistic
// transaction, so of two racing verifies only one observes the active state.
// Absent, expired, used, and mismatched all report false without mutating
// anything, and are indistinguishable to the caller.
func (l *Ledger) Verify(ctx context.Context, email, code string, purpose Purpose) (bool, error) {
	const maxRetries = 4
	key := l.key(email, purpose)
	providedHash := internal.HashOTP(code)

	for i := 0; i < maxRetries; i++ {
		var consumed bool

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if rec.State != stateActive {
				return nil
			}
			if l.now().Unix() >= rec.ExpireAt {
				// expiry is enforced here as well as by the key TTL;
				// the stale record is left for the sweep
				return nil
			}
			if subtle.ConstantTimeCompare(rec.CodeHash[:], providedHash[:]) != 1 {
				return nil
			}

			rec.State = stateUsed
			updated, err := encodeRecord(rec)
			if err != nil {
				return err
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Second
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		return consumed, nil
	}

	return false, nil
}

// Sweep deletes expired records. Idempotent and safe to run alongside live
// traffic: expiry is independently enforced at verify time.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	var deleted int
	now := l.now().Unix()

	iter := l.redis.Scan(ctx, 0, l.cfg.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := l.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		if rec.ExpireAt <= now {
			if err := l.redis.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return deleted, nil
}

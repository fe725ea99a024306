// Package session persists refresh-token sessions in Redis and performs
// atomic rotation and revocation through server-side scripts.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davrell/authgate/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound covers unknown session ids and secret mismatches; the two
	// are deliberately indistinguishable.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned once per expired session; the record is marked
	// revoked in the same step.
	ErrExpired = errors.New("session expired")
	// ErrReplayed is returned when a valid secret is presented against an
	// already-revoked record: either a rotation race loser or token reuse.
	ErrReplayed = errors.New("session token replayed")
	// ErrCorrupt is returned when a stored record cannot be parsed.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrOwnershipMismatch is returned when a session exists but belongs to
	// a different user.
	ErrOwnershipMismatch = errors.New("session ownership mismatch")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReplayed int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

// rotateScript performs the whole rotation conditionally and atomically:
// parse the predecessor, reject unknown secrets, detect replay against a
// revoked record, revoke on expiry, and otherwise splice the predecessor to
// revoked while writing the successor record in the same step. Exactly one
// of two racing callers can observe the active state. The user index TTL is
// pushed out with each rotation so a chain kept alive by rotation alone
// never outlives its index.
//
// KEYS[1] predecessor record, KEYS[2] successor record.
// ARGV: 1 now, 2 successor id, 3 provided secret hash, 4 successor secret
// hash, 5 successor createdAt (be64), 6 successor expiresAt (be64),
// 7 user agent section, 8 ip section, 9 record ttl ms, 10 user index prefix.
const rotateScript = `
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

local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local state = string.byte(data, 2)
local expires = read_be64(data, 11)
local uid_len = string.byte(data, 51)
if not state or not expires or not uid_len or #data < 51 + uid_len then
  return {4}
end
local uid_section = string.sub(data, 51, 51 + uid_len)
local user_id = string.sub(data, 52, 51 + uid_len)

if string.sub(data, 19, 50) ~= ARGV[3] then
  return {0}
end
if state ~= 0 then
  return {2, user_id}
end

local now = tonumber(ARGV[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[9])
end

local revoked = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)

if expires <= now then
  redis.call("SET", KEYS[1], revoked, "PX", ttl)
  return {1, user_id}
end

redis.call("SET", KEYS[1], revoked, "PX", ttl)
local successor = string.sub(data, 1, 1) .. string.char(0) .. ARGV[5] .. ARGV[6] .. ARGV[4] .. uid_section .. ARGV[7] .. ARGV[8]
redis.call("SET", KEYS[2], successor, "PX", tonumber(ARGV[9]))
redis.call("ZADD", ARGV[10] .. user_id, now, ARGV[2])
redis.call("PEXPIRE", ARGV[10] .. user_id, tonumber(ARGV[9]))
return {3, user_id}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeByTokenScript revokes a record only when the presented secret hash
// matches; everything else is a silent no-op so logout stays idempotent.
// KEYS[1] record, ARGV: 1 provided secret hash, 2 fallback ttl ms.
const revokeByTokenScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if string.sub(data, 19, 50) ~= ARGV[1] then
  return 0
end
if string.byte(data, 2) ~= 0 then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[2])
end
redis.call("SET", KEYS[1], string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3), "PX", ttl)
return 1
`

var revokeByTokenLua = redis.NewScript(revokeByTokenScript)

// revokeOwnedScript revokes a record after an ownership check.
// KEYS[1] record, ARGV: 1 user id, 2 fallback ttl ms.
// Returns 0 absent/already revoked, 1 revoked, 2 ownership mismatch, 3 corrupt.
const revokeOwnedScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local uid_len = string.byte(data, 51)
if not uid_len or #data < 51 + uid_len then
  return 3
end
if string.sub(data, 52, 51 + uid_len) ~= ARGV[1] then
  return 2
end
if string.byte(data, 2) ~= 0 then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[2])
end
redis.call("SET", KEYS[1], string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3), "PX", ttl)
return 1
`

var revokeOwnedLua = redis.NewScript(revokeOwnedScript)

// revokeAllScript walks the user's session index and revokes every record
// still active. KEYS[1] user index, ARGV: 1 record key prefix, 2 fallback
// ttl ms. Returns the number of records revoked.
const revokeAllScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local revoked = 0
for i = 1, #ids do
  local key = ARGV[1] .. ids[i]
  local data = redis.call("GET", key)
  if data and string.byte(data, 2) == 0 then
    local ttl = redis.call("PTTL", key)
    if ttl <= 0 then
      ttl = tonumber(ARGV[2])
    end
    redis.call("SET", key, string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3), "PX", ttl)
    revoked = revoked + 1
  end
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// Config controls session lifetime and record retention.
type Config struct {
	Lifetime time.Duration
	// Retention keeps revoked records past session expiry so replay can be
	// detected and audited before the key TTL garbage-collects them.
	Retention time.Duration
	Prefix    string
}

// Store is the Redis-backed session registry.
type Store struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

func NewStore(rdb redis.UniversalClient, cfg Config, now func() time.Time) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "asr"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, cfg: cfg, now: now}
}

func (s *Store) key(sessionID string) string {
	return s.cfg.Prefix + ":s:" + sessionID
}

func (s *Store) keyPrefix() string {
	return s.cfg.Prefix + ":s:"
}

func (s *Store) userKey(userID string) string {
	return s.cfg.Prefix + ":u:" + userID
}

func (s *Store) userKeyPrefix() string {
	return s.cfg.Prefix + ":u:"
}

func (s *Store) retentionTTL() time.Duration {
	return s.cfg.Lifetime + s.cfg.Retention
}

// Create persists a new active session for the user and returns it. The
// caller supplies only the secret's hash; the plaintext secret never reaches
// the store.
func (s *Store) Create(ctx context.Context, userID string, secretHash [32]byte, userAgent, ip string) (*Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:         sid.String(),
		UserID:     userID,
		SecretHash: secretHash,
		State:      StateActive,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(s.cfg.Lifetime).Unix(),
		UserAgent:  userAgent,
		IPAddress:  ip,
	}

	data, err := encodeSession(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.retentionTTL())
		pipe.ZAdd(ctx, s.userKey(userID), redis.Z{Score: float64(sess.CreatedAt), Member: sess.ID})
		pipe.Expire(ctx, s.userKey(userID), s.retentionTTL())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return sess, nil
}

// Rotate atomically revokes the session matching the presented secret and
// creates its successor for the same user. When two callers race on the same
// token exactly one succeeds; the loser gets ErrReplayed. An expired session
// is revoked and reported as ErrExpired.
func (s *Store) Rotate(ctx context.Context, sessionID string, providedHash, nextHash [32]byte, userAgent, ip string) (*Session, error) {
	nextID, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	created := now.Unix()
	expires := now.Add(s.cfg.Lifetime).Unix()

	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.key(nextID.String())},
		created,
		nextID.String(),
		string(providedHash[:]),
		string(nextHash[:]),
		string(encodeBE64(created)),
		string(encodeBE64(expires)),
		string(encodeAgentSection(userAgent)),
		string(encodeIPSection(ip)),
		s.retentionTTL().Milliseconds(),
		s.userKeyPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	status, _ := reply[0].(int64)

	switch status {
	case rotateStatusRotated:
		userID, _ := reply[1].(string)
		return &Session{
			ID:         nextID.String(),
			UserID:     userID,
			SecretHash: nextHash,
			State:      StateActive,
			CreatedAt:  created,
			ExpiresAt:  expires,
			UserAgent:  userAgent,
			IPAddress:  ip,
		}, nil
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusReplayed:
		return nil, ErrReplayed
	case rotateStatusCorrupt:
		return nil, ErrCorrupt
	default:
		return nil, ErrNotFound
	}
}

// RevokeByToken revokes the session matching the presented secret.
// Idempotent: unknown ids, mismatched secrets, and already-revoked records
// are all silent no-ops.
func (s *Store) RevokeByToken(ctx context.Context, sessionID string, providedHash [32]byte) error {
	err := revokeByTokenLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		string(providedHash[:]),
		s.retentionTTL().Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Revoke revokes one session owned by userID. Absent or already-revoked
// records are no-ops; a session owned by another user reports
// ErrOwnershipMismatch without revealing anything further.
func (s *Store) Revoke(ctx context.Context, userID, sessionID string) error {
	res, err := revokeOwnedLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		userID,
		s.retentionTTL().Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch res {
	case 2:
		return ErrOwnershipMismatch
	case 3:
		return ErrCorrupt
	default:
		return nil
	}
}

// RevokeAll bulk-revokes every active session for the user and reports how
// many were revoked.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	res, err := revokeAllLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.keyPrefix(),
		s.retentionTTL().Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(res), nil
}

// ListActive returns the user's active, unexpired sessions, newest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now().Unix()
	var active []*Session
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := decodeSession([]byte(raw))
		if err != nil {
			continue
		}
		sess.ID = ids[i]
		if sess.State == StateActive && sess.ExpiresAt > now {
			active = append(active, sess)
		}
	}

	return active, nil
}

// Sweep physically deletes expired session records and their index entries.
// Idempotent and safe alongside live traffic; expiry is also enforced at
// rotation time.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var deleted int
	now := s.now().Unix()

	iter := s.redis.Scan(ctx, 0, s.keyPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		sess, err := decodeSession(data)
		if err != nil {
			continue
		}
		if sess.ExpiresAt > now {
			continue
		}

		id := key[len(s.keyPrefix()):]
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.userKey(sess.UserID), id)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return deleted, nil
}

package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the absolute lifetime of a refresh token.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidToken is returned for a missing, consumed or expired token.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRotated  int64 = 3
)

const rotateScript = `
local acct = redis.call("HGET", KEYS[1], "account_id")
if not acct then
  return {0}
end
local expires_at = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0")
local owner_key = ARGV[5] .. acct
redis.call("DEL", KEYS[1])
redis.call("SREM", owner_key, ARGV[3])
if expires_at <= tonumber(ARGV[1]) then
  return {1}
end
redis.call("HSET", KEYS[2], "account_id", acct, "expires_at", ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[6])
redis.call("SADD", owner_key, ARGV[4])
return {3, acct}
`

var rotateLua = redis.NewScript(rotateScript)

// Token is a freshly issued refresh token. Value is only ever returned to the
// client.
type Token struct {
	Value     string
	AccountID string
	ExpiresAt time.Time
}

// Options configures a Store.
type Options struct {
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

// Store persists refresh tokens.
//
// Key layout:
//
//	{prefix}:t:{sha256(token)}  HASH account_id, expires_at (unix ms)
//	{prefix}:u:{accountID}      SET of token digests
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns a Store with prefix "rt" and DefaultTTL unless overridden.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "rt"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{redis: rdb, prefix: opts.Prefix, ttl: opts.TTL, now: opts.Now}
}

// TTL returns the token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Store) tokenKey(d string) string { return s.prefix + ":t:" + d }

func (s *Store) ownerPrefix() string { return s.prefix + ":u:" }

func (s *Store) ownerKey(accountID string) string { return s.ownerPrefix() + accountID }

func newValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue mints a token for accountID. Digests of tokens that expired on their
// own are dropped from the owner index first.
//
//	Performance: SMEMBERS + pipelined EXISTS, then 1 MULTI/EXEC (HSET, PEXPIRE, SADD).
func (s *Store) Issue(ctx context.Context, accountID string) (Token, error) {
	if accountID == "" {
		return Token{}, errors.New("refresh token requires an account id")
	}
	if err := s.pruneExpired(ctx, accountID); err != nil {
		return Token{}, err
	}

	value, err := newValue()
	if err != nil {
		return Token{}, err
	}

	exp := s.now().Add(s.ttl)
	d := digest(value)
	key := s.tokenKey(d)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "account_id", accountID, "expires_at", strconv.FormatInt(exp.UnixMilli(), 10))
		pipe.PExpire(ctx, key, s.ttl)
		pipe.SAdd(ctx, s.ownerKey(accountID), d)
		return nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return Token{Value: value, AccountID: accountID, ExpiresAt: exp}, nil
}

// Rotate consumes old and returns its successor for the same account. Missing
// and expired tokens fail with ErrInvalidToken; an expired token is deleted.
//
//	Performance: 1 EVALSHA.
func (s *Store) Rotate(ctx context.Context, old string) (Token, error) {
	if old == "" {
		return Token{}, ErrInvalidToken
	}

	value, err := newValue()
	if err != nil {
		return Token{}, err
	}

	now := s.now()
	exp := now.Add(s.ttl)
	oldDigest := digest(old)
	newDigest := digest(value)

	raw, err := rotateLua.Run(ctx, s.redis,
		[]string{s.tokenKey(oldDigest), s.tokenKey(newDigest)},
		now.UnixMilli(),
		exp.UnixMilli(),
		oldDigest,
		newDigest,
		s.ownerPrefix(),
		s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	res, ok := raw.([]interface{})
	if !ok || len(res) == 0 {
		return Token{}, fmt.Errorf("%w: unexpected rotate reply", ErrRedisUnavailable)
	}
	status, _ := res[0].(int64)

	switch status {
	case rotateStatusRotated:
		accountID, _ := res[1].(string)
		return Token{Value: value, AccountID: accountID, ExpiresAt: exp}, nil
	case rotateStatusNotFound, rotateStatusExpired:
		return Token{}, ErrInvalidToken
	default:
		return Token{}, fmt.Errorf("%w: rotate status %d", ErrRedisUnavailable, status)
	}
}

// Revoke deletes a single token. Unknown tokens are ignored.
func (s *Store) Revoke(ctx context.Context, token string) error {
	d := digest(token)
	key := s.tokenKey(d)

	accountID, err := s.redis.HGet(ctx, key, "account_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.ownerKey(accountID), d)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every token of accountID and returns how many existed.
func (s *Store) RevokeAll(ctx context.Context, accountID string) (int, error) {
	owner := s.ownerKey(accountID)

	digests, err := s.redis.SMembers(ctx, owner).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(digests)+1)
	for _, d := range digests {
		keys = append(keys, s.tokenKey(d))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, owner)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// pruneExpired removes owner index entries whose token key is gone.
func (s *Store) pruneExpired(ctx context.Context, accountID string) error {
	owner := s.ownerKey(accountID)
	digests, err := s.redis.SMembers(ctx, owner).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(digests) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(digests))
	for i, d := range digests {
		exists[i] = pipe.Exists(ctx, s.tokenKey(d))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, digests[i])
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.redis.SRem(ctx, owner, stale...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

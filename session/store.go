package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a session is missing, expired, or owned by a
// different account.
var ErrNotFound = errors.New("session not found")

const (
	tokenBytes      = 32
	maxWatchRetries = 4
	// reapBatch bounds the number of tokens removed per ReapExpired round.
	reapBatch = 500
)

// Options configures a Store.
type Options struct {
	Prefix   string
	Timeouts Timeouts
	Now      func() time.Time
}

// Store persists sessions in Redis.
//
// Key layout:
//
//	{prefix}:s:{token}      encoded Session, PX until expiry
//	{prefix}:id:{id}        token, PX until expiry
//	{prefix}:u:{accountID}  SET of tokens
//	{prefix}:exp            ZSET token -> expiresAt (unix ms)
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	timeouts Timeouts
	now      func() time.Time
}

// NewStore returns a Store. Empty options fall back to prefix "sess",
// DefaultTimeouts and time.Now.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "sess"
	}
	if opts.Timeouts.ByRole == nil && opts.Timeouts.Default == 0 {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		redis:    rdb,
		prefix:   opts.Prefix,
		timeouts: opts.Timeouts,
		now:      opts.Now,
	}
}

// Timeouts returns the role timeout table in use.
func (s *Store) Timeouts() Timeouts {
	return s.timeouts
}

func (s *Store) recordKey(token string) string { return s.prefix + ":s:" + token }

func (s *Store) idKey(id string) string { return s.prefix + ":id:" + id }

func (s *Store) accountKey(accountID string) string { return s.prefix + ":u:" + accountID }

func (s *Store) expiryKey() string { return s.prefix + ":exp" }

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create opens a session whose expiry is now plus the role's idle timeout.
//
//	Performance: 1 MULTI/EXEC with 4 writes.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if p.AccountID == "" {
		return nil, errors.New("session requires an account id")
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		Token:        token,
		AccountID:    p.AccountID,
		TenantID:     p.TenantID,
		Role:         p.Role,
		UserAgent:    p.UserAgent,
		IPAddress:    p.IPAddress,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.timeouts.For(p.Role)),
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	ttl := sess.ExpiresAt.Sub(now)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(token), data, ttl)
		pipe.Set(ctx, s.idKey(sess.ID), token, ttl)
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), token)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: token})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Get loads the session for token. Expired sessions are deleted and reported
// as ErrNotFound.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	data, err := s.redis.Get(ctx, s.recordKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.Token = token

	if sess.Expired(s.now()) {
		if err := s.deleteSessions(ctx, []*Session{sess}); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Validate reports whether token names a live session. An expired session is
// deleted and reported invalid; neither case is an error.
func (s *Store) Validate(ctx context.Context, token string) (Validation, error) {
	sess, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorruptSession) {
			return Validation{}, nil
		}
		return Validation{}, err
	}

	return Validation{
		Valid:     true,
		SessionID: sess.ID,
		AccountID: sess.AccountID,
		TenantID:  sess.TenantID,
		Role:      sess.Role,
		ExpiresAt: sess.ExpiresAt,
		WarningAt: sess.ExpiresAt.Add(-WarningThreshold),
	}, nil
}

// Refresh slides the session's expiry forward by its role timeout and bumps
// LastActiveAt. Missing or expired sessions return ErrNotFound.
//
//	Performance: WATCH + GET + MULTI/EXEC, retried on contention.
func (s *Store) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	key := s.recordKey(token)
	var refreshed *Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		sess, err := Decode(data)
		if err != nil {
			return err
		}
		sess.Token = token

		now := s.now()
		if sess.Expired(now) {
			refreshed = sess
			return ErrNotFound
		}

		sess.LastActiveAt = now
		sess.ExpiresAt = now.Add(s.timeouts.For(sess.Role))

		encoded, err := Encode(sess)
		if err != nil {
			return err
		}

		ttl := sess.ExpiresAt.Sub(now)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			pipe.Set(ctx, s.idKey(sess.ID), token, ttl)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: token})
			return nil
		})
		if err != nil {
			return err
		}
		refreshed = sess
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return refreshed, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			if refreshed != nil {
				if derr := s.deleteSessions(ctx, []*Session{refreshed}); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrNotFound
		case errors.Is(err, ErrCorruptSession):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil, fmt.Errorf("%w: session refresh contention", ErrRedisUnavailable)
}

// List returns the live sessions of accountID, most recently active first.
// The session whose token equals currentToken is flagged IsCurrent.
//
//	Performance: SMEMBERS + MGET.
func (s *Store) List(ctx context.Context, accountID, currentToken string) ([]Info, error) {
	sessions, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Expired(now) {
			continue
		}
		out = append(out, Info{
			ID:           sess.ID,
			UserAgent:    sess.UserAgent,
			IPAddress:    sess.IPAddress,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt,
			ExpiresAt:    sess.ExpiresAt,
			IsCurrent:    currentToken != "" && sess.Token == currentToken,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

// Terminate deletes the session with the given public id if it belongs to
// accountID. Otherwise it returns ErrNotFound.
func (s *Store) Terminate(ctx context.Context, accountID, sessionID string) error {
	token, err := s.redis.Get(ctx, s.idKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	if sess.AccountID != accountID {
		return ErrNotFound
	}

	return s.deleteSessions(ctx, []*Session{sess})
}

// TerminateAll deletes every session of accountID except the one identified
// by exceptToken, returning the number removed.
//
// A session created concurrently with this call may survive it.
func (s *Store) TerminateAll(ctx context.Context, accountID, exceptToken string) (int, error) {
	sessions, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	victims := make([]*Session, 0, len(sessions))
	for _, sess := range sessions {
		if exceptToken != "" && sess.Token == exceptToken {
			continue
		}
		victims = append(victims, sess)
	}

	if err := s.deleteSessions(ctx, victims); err != nil {
		return 0, err
	}

	// Tokens indexed without a record are stale set members.
	if err := s.pruneDangling(ctx, accountID); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// ReapExpired removes sessions whose expiry has passed and returns how many
// index entries were cleared.
//
//	Performance: ZRANGEBYSCORE + MGET + MULTI/EXEC per batch.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	cutoff := strconv.FormatInt(s.now().UnixMilli(), 10)
	total := 0

	for {
		tokens, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   cutoff,
			Count: reapBatch,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(tokens) == 0 {
			return total, nil
		}

		sessions, err := s.loadTokens(ctx, tokens)
		if err != nil {
			return total, err
		}

		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			members := make([]interface{}, len(tokens))
			for i, tok := range tokens {
				members[i] = tok
				pipe.Del(ctx, s.recordKey(tok))
			}
			for _, sess := range sessions {
				pipe.Del(ctx, s.idKey(sess.ID))
				pipe.SRem(ctx, s.accountKey(sess.AccountID), sess.Token)
			}
			pipe.ZRem(ctx, s.expiryKey(), members...)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		total += len(tokens)
		if len(tokens) < reapBatch {
			return total, nil
		}
	}
}

// Ping measures the round trip to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) loadAccount(ctx context.Context, accountID string) ([]*Session, error) {
	tokens, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.loadTokens(ctx, tokens)
}

// loadTokens fetches records for tokens, skipping missing or undecodable ones.
func (s *Store) loadTokens(ctx context.Context, tokens []string) ([]*Session, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tokens))
	for i, tok := range tokens {
		keys[i] = s.recordKey(tok)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := Decode([]byte(raw))
		if err != nil {
			continue
		}
		sess.Token = tokens[i]
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) deleteSessions(ctx context.Context, sessions []*Session) error {
	if len(sessions) == 0 {
		return nil
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sess := range sessions {
			pipe.Del(ctx, s.recordKey(sess.Token))
			pipe.Del(ctx, s.idKey(sess.ID))
			pipe.SRem(ctx, s.accountKey(sess.AccountID), sess.Token)
			pipe.ZRem(ctx, s.expiryKey(), sess.Token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) pruneDangling(ctx context.Context, accountID string) error {
	key := s.accountKey(accountID)
	tokens, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(tokens))
	for i, tok := range tokens {
		exists[i] = pipe.Exists(ctx, s.recordKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, tokens[i])
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.redis.SRem(ctx, key, stale...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

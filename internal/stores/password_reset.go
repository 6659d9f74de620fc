package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetRecordVersion1 = 1

var (
	ErrResetNotFound         = errors.New("reset token not found")
	ErrResetExpired          = errors.New("reset token expired")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetRecord binds a reset token to its account.
type PasswordResetRecord struct {
	AccountID string
	ExpiresAt int64
}

// PasswordResetStore keeps at most one live reset token per account. Tokens
// are looked up by their SHA-256 digest.
//
// Key layout:
//
//	{prefix}:{digest}            encoded PasswordResetRecord
//	{prefix}:acct:{accountID}    digest of the account's live token
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *PasswordResetStore {
	if prefix == "" {
		prefix = "prt"
	}
	if now == nil {
		now = time.Now
	}
	return &PasswordResetStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *PasswordResetStore) key(d string) string {
	return s.prefix + ":" + d
}

func (s *PasswordResetStore) accountKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

func tokenDigest(token string) string {
	d := digest(token)
	return hex.EncodeToString(d[:])
}

// Save stores token for accountID and deletes the account's previous token.
func (s *PasswordResetStore) Save(ctx context.Context, accountID, token string, ttl time.Duration) (time.Time, error) {
	exp := s.now().Add(ttl)
	encoded, err := encodeResetRecord(&PasswordResetRecord{AccountID: accountID, ExpiresAt: exp.UnixMilli()})
	if err != nil {
		return time.Time{}, err
	}

	pointer := s.accountKey(accountID)
	previous, err := s.redis.Get(ctx, pointer).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return time.Time{}, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	d := tokenDigest(token)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" {
			pipe.Del(ctx, s.key(previous))
		}
		pipe.Set(ctx, s.key(d), encoded, ttl)
		pipe.Set(ctx, pointer, d, ttl)
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return exp, nil
}

// Lookup returns the record for token without consuming it.
func (s *PasswordResetStore) Lookup(ctx context.Context, token string) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenDigest(token))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	record, err := decodeResetRecord(data)
	if err != nil {
		return nil, ErrResetNotFound
	}
	if s.now().UnixMilli() > record.ExpiresAt {
		return nil, ErrResetExpired
	}
	return record, nil
}

// Consume deletes token and returns its record. Exactly one concurrent caller
// can consume a given token.
func (s *PasswordResetStore) Consume(ctx context.Context, token string) (*PasswordResetRecord, error) {
	d := tokenDigest(token)
	key := s.key(d)

	for i := 0; i < maxWatchRetries; i++ {
		var (
			record  *PasswordResetRecord
			expired bool
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err = decodeResetRecord(data)
			if err != nil {
				return err
			}
			expired = s.now().UnixMilli() > record.ExpiresAt

			pointer := s.accountKey(record.AccountID)
			current, err := tx.Get(ctx, pointer).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if current == d {
					pipe.Del(ctx, pointer)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, errRecordCorrupt) {
				return nil, ErrResetNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		if expired {
			return nil, ErrResetExpired
		}
		return record, nil
	}

	return nil, fmt.Errorf("%w: reset consume contention", ErrResetRedisUnavailable)
}

func encodeResetRecord(r *PasswordResetRecord) ([]byte, error) {
	w := newRecordWriter(resetRecordVersion1)
	w.string16(r.AccountID)
	w.int64(r.ExpiresAt)
	return w.bytes()
}

func decodeResetRecord(data []byte) (*PasswordResetRecord, error) {
	rr := newRecordReader(data, resetRecordVersion1)
	r := &PasswordResetRecord{}
	r.AccountID = rr.string16()
	r.ExpiresAt = rr.int64()
	if err := rr.done(); err != nil {
		return nil, err
	}
	return r, nil
}

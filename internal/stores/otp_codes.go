package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpRecordVersion1 = 1

var (
	ErrOTPNotFound         = errors.New("otp not found")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPBackend          = errors.New("otp backend unavailable")
)

// OTPRecord is one outstanding code. Only the code digest is stored.
type OTPRecord struct {
	TenantID  string
	CodeHash  [32]byte
	Attempts  uint16
	CreatedAt int64
	ExpiresAt int64
}

// OTPStore keeps at most one live code per (type, tenant, email): issuing a
// new code overwrites the record, which makes the previous code inert.
//
// Key layout:
//
//	{prefix}:{type}:{tenant}:{email}  encoded OTPRecord
//	{prefix}:idx:{type}:{email}       SET of tenants holding a record
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	if now == nil {
		now = time.Now
	}
	return &OTPStore{redis: redisClient, prefix: prefix, now: now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *OTPStore) key(typ, tenantID, email string) string {
	return s.prefix + ":" + typ + ":" + tenantID + ":" + normalizeEmail(email)
}

func (s *OTPStore) indexKey(typ, email string) string {
	return s.prefix + ":idx:" + typ + ":" + normalizeEmail(email)
}

// Issue stores code for the key, replacing any earlier code.
func (s *OTPStore) Issue(ctx context.Context, typ, tenantID, email, code string, ttl time.Duration) (*OTPRecord, error) {
	now := s.now()
	record := &OTPRecord{
		TenantID:  tenantID,
		CodeHash:  digest(code),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return nil, err
	}

	idx := s.indexKey(typ, email)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(typ, tenantID, email), encoded, ttl)
		pipe.SAdd(ctx, idx, tenantID)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return record, nil
}

// Latest returns the tenant of the most recently issued code for (type, email)
// across tenants.
func (s *OTPStore) Latest(ctx context.Context, typ, email string) (string, error) {
	tenants, err := s.redis.SMembers(ctx, s.indexKey(typ, email)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	if len(tenants) == 0 {
		return "", ErrOTPNotFound
	}

	keys := make([]string, len(tenants))
	for i, t := range tenants {
		keys[i] = s.key(typ, t, email)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}

	var (
		best    string
		newest  int64
		matched bool
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeOTPRecord([]byte(raw))
		if err != nil {
			continue
		}
		if !matched || rec.CreatedAt > newest {
			best, newest, matched = tenants[i], rec.CreatedAt, true
		}
	}
	if !matched {
		return "", ErrOTPNotFound
	}
	return best, nil
}

// Verify checks code against the record for the key. Expired records and
// records that already used up maxAttempts are deleted; a mismatch increments
// the attempt counter; a match deletes the record.
//
//	Performance: WATCH + GET + MULTI/EXEC, retried on contention.
func (s *OTPStore) Verify(ctx context.Context, typ, tenantID, email, code string, maxAttempts int) error {
	key := s.key(typ, tenantID, email)
	idx := s.indexKey(typ, email)
	provided := digest(code)

	for i := 0; i < maxWatchRetries; i++ {
		var outcome error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			now := s.now().UnixMilli()
			switch {
			case now > record.ExpiresAt:
				outcome = ErrOTPExpired
			case int(record.Attempts) >= maxAttempts:
				outcome = ErrOTPAttemptsExceeded
			case subtle.ConstantTimeCompare(provided[:], record.CodeHash[:]) != 1:
				record.Attempts++
				updated, err := encodeOTPRecord(record)
				if err != nil {
					return err
				}
				outcome = ErrOTPMismatch
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
					return nil
				})
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, idx, tenantID)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrOTPNotFound
			}
			if errors.Is(err, errRecordCorrupt) {
				_ = s.redis.Del(ctx, key).Err()
				return ErrOTPNotFound
			}
			return fmt.Errorf("%w: %v", ErrOTPBackend, err)
		}
		return outcome
	}

	return fmt.Errorf("%w: otp verify contention", ErrOTPBackend)
}

// Invalidate deletes the record for the key.
func (s *OTPStore) Invalidate(ctx context.Context, typ, tenantID, email string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(typ, tenantID, email))
		pipe.SRem(ctx, s.indexKey(typ, email), tenantID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return nil
}

func encodeOTPRecord(r *OTPRecord) ([]byte, error) {
	w := newRecordWriter(otpRecordVersion1)
	w.string16(r.TenantID)
	w.raw(r.CodeHash[:])
	w.uint16(r.Attempts)
	w.int64(r.CreatedAt)
	w.int64(r.ExpiresAt)
	return w.bytes()
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	rr := newRecordReader(data, otpRecordVersion1)
	r := &OTPRecord{}
	r.TenantID = rr.string16()
	copy(r.CodeHash[:], rr.raw(32))
	r.Attempts = rr.uint16()
	r.CreatedAt = rr.int64()
	r.ExpiresAt = rr.int64()
	if err := rr.done(); err != nil {
		return nil, err
	}
	return r, nil
}

package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const mfaLoginRecordVersion2 = 2

var (
	ErrMFALoginChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFALoginChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFALoginChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// MFALoginChallenge is the pending half of a login that passed the password
// check but still owes a second factor. It carries what the session will need.
// Enroll marks a login whose account must first set up MFA.
type MFALoginChallenge struct {
	AccountID string
	TenantID  string
	Email     string
	UserAgent string
	IPAddress string
	ExpiresAt int64
	Attempts  uint16
	Enroll    bool
}

type MFALoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFALoginChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *MFALoginChallengeStore {
	if prefix == "" {
		prefix = "mfac"
	}
	if now == nil {
		now = time.Now
	}
	return &MFALoginChallengeStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *MFALoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *MFALoginChallengeStore) Save(ctx context.Context, challengeID string, record *MFALoginChallenge, ttl time.Duration) error {
	encoded, err := encodeMFALoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return nil
}

func (s *MFALoginChallengeStore) Get(ctx context.Context, challengeID string) (*MFALoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFALoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}

	record, err := decodeMFALoginChallenge(data)
	if err != nil {
		_ = s.redis.Del(ctx, s.key(challengeID)).Err()
		return nil, ErrMFALoginChallengeNotFound
	}
	if s.now().UnixMilli() > record.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(challengeID)).Err()
		return nil, ErrMFALoginChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it existed. The caller
// that gets true owns the completion.
func (s *MFALoginChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter. Reaching maxAttempts deletes the
// challenge and reports exceeded=true.
func (s *MFALoginChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	key := s.key(challengeID)

	for i := 0; i < maxWatchRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeMFALoginChallenge(data)
			if err != nil {
				return err
			}

			remaining := time.UnixMilli(record.ExpiresAt).Sub(s.now())
			if remaining <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMFALoginChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeMFALoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, errRecordCorrupt) {
				return false, ErrMFALoginChallengeNotFound
			}
			if errors.Is(err, ErrMFALoginChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrMFALoginChallengeNotFound
}

func encodeMFALoginChallenge(r *MFALoginChallenge) ([]byte, error) {
	w := newRecordWriter(mfaLoginRecordVersion2)
	w.uint16(r.Attempts)
	var enroll uint16
	if r.Enroll {
		enroll = 1
	}
	w.uint16(enroll)
	w.int64(r.ExpiresAt)
	w.string16(r.AccountID)
	w.string16(r.TenantID)
	w.string16(r.Email)
	w.string16(r.UserAgent)
	w.string16(r.IPAddress)
	return w.bytes()
}

func decodeMFALoginChallenge(data []byte) (*MFALoginChallenge, error) {
	rr := newRecordReader(data, mfaLoginRecordVersion2)
	r := &MFALoginChallenge{}
	r.Attempts = rr.uint16()
	r.Enroll = rr.uint16() == 1
	r.ExpiresAt = rr.int64()
	r.AccountID = rr.string16()
	r.TenantID = rr.string16()
	r.Email = rr.string16()
	r.UserAgent = rr.string16()
	r.IPAddress = rr.string16()
	if err := rr.done(); err != nil {
		return nil, err
	}
	return r, nil
}

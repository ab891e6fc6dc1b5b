package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	phoneCodeRecordVersion1 = 1
	// Expired sessions are kept this long past ExpiresAt so that a late
	// confirmation reports "expired" instead of "unknown session".
	phoneCodeExpiredRetention = 10 * time.Minute
)

var (
	ErrPhoneCodeNotFound         = errors.New("phone code session not found")
	ErrPhoneCodeExpired          = errors.New("phone code session expired")
	ErrPhoneCodeMismatch         = errors.New("phone code mismatch")
	ErrPhoneCodeAttemptsExceeded = errors.New("phone code attempts exceeded")
	ErrPhoneCodeBackend          = errors.New("phone code backend unavailable")
)

// PhoneCodeSession is the server-side half of a verification session id.
// AccountID and ChallengeID are set only for sessions issued while resolving
// a sign-in second-factor challenge.
type PhoneCodeSession struct {
	PhoneNumber string
	CodeHash    [32]byte
	ExpiresAt   int64
	Attempts    uint16
	AccountID   string
	ChallengeID string
}

type PhoneCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPhoneCodeStore(redisClient redis.UniversalClient, prefix string) *PhoneCodeStore {
	if prefix == "" {
		prefix = "hpc"
	}
	return &PhoneCodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PhoneCodeStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Save stores record under sessionID until ExpiresAt plus a retention
// window, both measured from now.
func (s *PhoneCodeStore) Save(ctx context.Context, sessionID string, record *PhoneCodeSession, now time.Time) error {
	encoded, err := encodePhoneCodeSession(record)
	if err != nil {
		return err
	}
	ttl := phoneCodeTTL(record, now)
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneCodeBackend, err)
	}
	return nil
}

func (s *PhoneCodeStore) Get(ctx context.Context, sessionID string, now time.Time) (*PhoneCodeSession, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPhoneCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPhoneCodeBackend, err)
	}

	record, err := decodePhoneCodeSession(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrPhoneCodeExpired
	}
	return record, nil
}

func (s *PhoneCodeStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPhoneCodeBackend, err)
	}
	return n > 0, nil
}

// Consume checks codeHash against the stored session in one optimistic
// transaction. A match deletes the session and returns it. A mismatch counts
// an attempt; reaching maxAttempts deletes the session. Expired sessions are
// deleted on sight. Every session therefore succeeds at most once.
func (s *PhoneCodeStore) Consume(
	ctx context.Context,
	sessionID string,
	codeHash [32]byte,
	maxAttempts int,
	now time.Time,
) (*PhoneCodeSession, error) {
	const maxRetries = 4
	key := s.key(sessionID)
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for i := 0; i < maxRetries; i++ {
		var consumed *PhoneCodeSession
		var outcome error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePhoneCodeSession(data)
			if err != nil {
				return err
			}

			if now.Unix() > record.ExpiresAt {
				outcome = ErrPhoneCodeExpired
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if equalDigest(record.CodeHash, codeHash) {
				consumed = record
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				outcome = ErrPhoneCodeAttemptsExceeded
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodePhoneCodeSession(record)
			if err != nil {
				return err
			}
			ttl := phoneCodeTTL(record, now)
			outcome = ErrPhoneCodeMismatch
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrPhoneCodeNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrPhoneCodeBackend, err)
		}
		if outcome != nil {
			return nil, outcome
		}
		return consumed, nil
	}

	return nil, ErrPhoneCodeNotFound
}

func phoneCodeTTL(record *PhoneCodeSession, now time.Time) time.Duration {
	ttl := time.Unix(record.ExpiresAt, 0).Sub(now) + phoneCodeExpiredRetention
	if ttl <= 0 {
		return phoneCodeExpiredRetention
	}
	return ttl
}

func encodePhoneCodeSession(record *PhoneCodeSession) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(phoneCodeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	for _, field := range []string{record.PhoneNumber, record.AccountID, record.ChallengeID} {
		if len(field) > 65535 {
			return nil, errors.New("phone code session field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodePhoneCodeSession(data []byte) (*PhoneCodeSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != phoneCodeRecordVersion1 {
		return nil, errors.New("invalid phone code session version")
	}

	record := &PhoneCodeSession{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.PhoneNumber = fields[0]
	record.AccountID = fields[1]
	record.ChallengeID = fields[2]

	return record, nil
}

package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountConflict = errors.New("account update contention")
	ErrAccountBackend  = errors.New("account backend unavailable")
)

type FactorRecord struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	DisplayName string `json:"displayName,omitempty"`
	EnrolledAt  int64  `json:"enrolledAt"`
}

type AccountRecord struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	DisplayName   string         `json:"displayName,omitempty"`
	PasswordHash  string         `json:"passwordHash"`
	EmailVerified bool           `json:"emailVerified"`
	Disabled      bool           `json:"disabled"`
	PhoneNumber   string         `json:"phoneNumber,omitempty"`
	Factors       []FactorRecord `json:"factors,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
	LastSignInAt  int64          `json:"lastSignInAt"`
}

// AccountStore persists identity accounts as JSON with a unique
// lower-cased email index.
type AccountStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAccountStore(redisClient redis.UniversalClient, prefix string) *AccountStore {
	if prefix == "" {
		prefix = "hid"
	}
	return &AccountStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AccountStore) idKey(id string) string {
	return s.prefix + ":acct:" + id
}

func (s *AccountStore) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(strings.TrimSpace(email))
}

// Create claims the email index first, so two concurrent sign-ups with the
// same address cannot both succeed.
func (s *AccountStore) Create(ctx context.Context, record *AccountRecord) error {
	ok, err := s.redis.SetNX(ctx, s.emailKey(record.Email), record.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	if !ok {
		return ErrAccountExists
	}

	data, err := json.Marshal(record)
	if err != nil {
		_ = s.redis.Del(ctx, s.emailKey(record.Email)).Err()
		return err
	}
	if err := s.redis.Set(ctx, s.idKey(record.ID), data, 0).Err(); err != nil {
		_ = s.redis.Del(ctx, s.emailKey(record.Email)).Err()
		return fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*AccountRecord, error) {
	data, err := s.redis.Get(ctx, s.idKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return decodeAccount(data)
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*AccountRecord, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return s.GetByID(ctx, id)
}

// Update applies fn to the stored record under WATCH and persists the
// result. An error from fn aborts the update and is returned unchanged.
func (s *AccountStore) Update(ctx context.Context, id string, fn func(*AccountRecord) error) (*AccountRecord, error) {
	const maxRetries = 4
	key := s.idKey(id)

	for i := 0; i < maxRetries; i++ {
		var updated *AccountRecord
		var fnErr error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeAccount(data)
			if err != nil {
				return err
			}
			if err := fn(record); err != nil {
				fnErr = err
				return nil
			}
			encoded, err := json.Marshal(record)
			if err != nil {
				return err
			}
			updated = record
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrAccountNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
		}
		if fnErr != nil {
			return nil, fnErr
		}
		return updated, nil
	}

	return nil, ErrAccountConflict
}

func decodeAccount(data []byte) (*AccountRecord, error) {
	record := &AccountRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return record, nil
}

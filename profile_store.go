package healthauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/healthauth/internal/stores"
	"github.com/redis/go-redis/v9"
)

// StatusStore is the authoritative remote tier for verification flags.
type StatusStore interface {
	ReadStatus(ctx context.Context, accountID string) (VerificationStatus, error)
	PatchStatus(ctx context.Context, accountID string, patch StatusPatch) (VerificationStatus, error)
}

// ProfileStore persists profile documents. Concurrent writers to the same
// document race; the last write wins.
type ProfileStore interface {
	StatusStore
	GetProfile(ctx context.Context, accountID string) (*Profile, error)
	// CreateProfile writes p unless a document exists; created reports which.
	CreateProfile(ctx context.Context, accountID string, p Profile) (created bool, err error)
	UpdateProfile(ctx context.Context, accountID string, fn func(*Profile) error) (*Profile, error)
}

// RedisProfileStore keeps each profile as one JSON document in Redis.
type RedisProfileStore struct {
	docs *stores.ProfileDocStore
}

// NewRedisProfileStore stores profile documents under prefix.
func NewRedisProfileStore(client redis.UniversalClient, prefix string) *RedisProfileStore {
	if prefix == "" {
		prefix = "hpf"
	}
	return &RedisProfileStore{docs: stores.NewProfileDocStore(client, prefix)}
}

func (s *RedisProfileStore) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	raw, err := s.docs.Get(ctx, accountID)
	if err != nil {
		return nil, mapProfileStoreError(err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode profile: %v", ErrBackend, err)
	}
	return &p, nil
}

// CreateProfile writes p unless a document already exists and reports
// whether it wrote.
func (s *RedisProfileStore) CreateProfile(ctx context.Context, accountID string, p Profile) (bool, error) {
	if p.EmergencyContacts == nil {
		p.EmergencyContacts = []EmergencyContact{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	err = s.docs.Create(ctx, accountID, raw)
	if errors.Is(err, stores.ErrProfileExists) {
		return false, nil
	}
	if err != nil {
		return false, mapProfileStoreError(err)
	}
	return true, nil
}

func (s *RedisProfileStore) UpdateProfile(ctx context.Context, accountID string, fn func(*Profile) error) (*Profile, error) {
	var out Profile
	_, err := s.docs.Update(ctx, accountID, func(current []byte) ([]byte, error) {
		var p Profile
		if err := json.Unmarshal(current, &p); err != nil {
			return nil, fmt.Errorf("%w: decode profile: %v", ErrBackend, err)
		}
		if err := fn(&p); err != nil {
			return nil, err
		}
		out = p
		return json.Marshal(p)
	})
	if err != nil {
		return nil, mapProfileStoreError(err)
	}
	return &out, nil
}

func (s *RedisProfileStore) ReadStatus(ctx context.Context, accountID string) (VerificationStatus, error) {
	p, err := s.GetProfile(ctx, accountID)
	if err != nil {
		return VerificationStatus{}, err
	}
	return p.Status(), nil
}

// PatchStatus applies patch to the stored flags and returns the result.
func (s *RedisProfileStore) PatchStatus(ctx context.Context, accountID string, patch StatusPatch) (VerificationStatus, error) {
	p, err := s.UpdateProfile(ctx, accountID, func(p *Profile) error {
		st := patch.Apply(p.Status())
		p.EmailVerified = st.EmailVerified
		p.PhoneVerified = st.PhoneVerified
		p.TwoFactorEnabled = st.TwoFactorEnabled
		p.PhoneNumber = st.PhoneNumber
		return nil
	})
	if err != nil {
		return VerificationStatus{}, err
	}
	return p.Status(), nil
}

func mapProfileStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrProfileNotFound):
		return ErrProfileNotFound
	case errors.Is(err, stores.ErrProfilePermission):
		return NewProviderError(OpUpdateProfile, KindStorageUnauthorized, err)
	case errors.Is(err, stores.ErrProfileQuota):
		return NewProviderError(OpUpdateProfile, KindStorageQuota, err)
	case errors.Is(err, stores.ErrProfileConflict), errors.Is(err, stores.ErrProfileBackend):
		return fmt.Errorf("%w: %v", ErrBackend, err)
	default:
		return err
	}
}

package healthauth

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisProfileStoreLifecycle(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisProfileStore(rdb, "")
	ctx := context.Background()

	if _, err := s.GetProfile(ctx, "acct-1"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}

	doc := defaultProfile(&Account{ID: "acct-1", Email: "a@b.com"}, newManualClock().Now())
	doc.EmergencyContacts = nil
	created, err := s.CreateProfile(ctx, "acct-1", doc)
	if err != nil || !created {
		t.Fatalf("CreateProfile = %v, %v", created, err)
	}
	created, err = s.CreateProfile(ctx, "acct-1", doc)
	if err != nil || created {
		t.Fatalf("expected existing document kept, got %v, %v", created, err)
	}

	got, err := s.GetProfile(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.EmergencyContacts == nil || got.Email != "a@b.com" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	verified := true
	number := "+61412345678"
	st, err := s.PatchStatus(ctx, "acct-1", StatusPatch{PhoneVerified: &verified, PhoneNumber: &number})
	if err != nil {
		t.Fatalf("PatchStatus failed: %v", err)
	}
	if !st.PhoneVerified || st.PhoneNumber != number || st.EmailVerified {
		t.Fatalf("unexpected status: %+v", st)
	}
	read, _ := s.ReadStatus(ctx, "acct-1")
	if read != st {
		t.Fatalf("ReadStatus = %+v, want %+v", read, st)
	}

	sentinel := errors.New("stop")
	if _, err := s.UpdateProfile(ctx, "acct-1", func(*Profile) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := s.UpdateProfile(ctx, "missing", func(*Profile) error { return nil }); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestRedisProfileStoreMapsPermissionErrors(t *testing.T) {
	mr, _ := newTestRedis(t)
	mr.RequireAuth("secret")
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisProfileStore(rdb, "")
	_, err := s.GetProfile(context.Background(), "acct-1")
	if KindOf(err) != KindStorageUnauthorized {
		t.Fatalf("expected KindStorageUnauthorized, got %v", err)
	}
	if UserMessage(err) != "You do not have permission to save this change." {
		t.Fatalf("unexpected message: %q", UserMessage(err))
	}
}

func TestEngineWithRedisProfileStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newManualClock()
	provider := newFakeProvider(clock)

	engine, err := New().WithProvider(provider).WithRedis(rdb).WithClock(clock).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := engine.SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	defer res.Flow.Close()

	p, err := engine.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.PhoneNumber != "+61412345678" || p.PhoneVerified {
		t.Fatalf("unexpected stored profile: %+v", p)
	}
}

package healthauth

import (
	"context"
	"errors"
	"testing"
)

func newTestTracker(t *testing.T) (*VerificationTracker, *memProfileStore, *MemoryLocalStore) {
	t.Helper()
	profiles := newMemProfileStore()
	local := NewMemoryLocalStore()
	acct := &Account{ID: "acct-1", Email: "a@b.com"}
	profiles.put(acct.ID, defaultProfile(acct, newManualClock().Now()))
	return NewVerificationTracker(profiles, local, DefaultConfig().Cache, nil), profiles, local
}

func TestTrackerMarkPhoneVerifiedIsIdempotent(t *testing.T) {
	tr, profiles, local := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := tr.MarkPhoneVerified(ctx, "acct-1", "+61412345678"); err != nil {
			t.Fatalf("MarkPhoneVerified #%d failed: %v", i+1, err)
		}
	}

	st, ok := tr.Status("acct-1")
	if !ok || !st.PhoneVerified || st.PhoneNumber != "+61412345678" {
		t.Fatalf("unexpected status: %+v", st)
	}
	remote, err := profiles.ReadStatus(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if remote != st {
		t.Fatalf("remote %+v differs from memory %+v", remote, st)
	}
	if v, _, _ := local.Get(ctx, "@user:acct-1:phoneVerified"); v != "true" {
		t.Fatalf("expected cached phoneVerified=true, got %q", v)
	}
	if v, _, _ := local.Get(ctx, "@user:acct-1:phoneNumber"); v != "+61412345678" {
		t.Fatalf("expected cached phone number, got %q", v)
	}
}

func TestTrackerRejectsMalformedNumber(t *testing.T) {
	tr, profiles, _ := newTestTracker(t)

	err := tr.MarkPhoneVerified(context.Background(), "acct-1", "0412345678")
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	if profiles.patchCount() != 0 {
		t.Fatal("expected no remote write for malformed number")
	}
}

func TestTrackerRemoteWinsOverStaleCache(t *testing.T) {
	tr, _, local := newTestTracker(t)
	ctx := context.Background()

	reconciled := 0
	tr.hooks.reconciled = func(context.Context, string) { reconciled++ }

	_ = local.Set(ctx, "@user:acct-1:phoneVerified", "true")
	_ = local.Set(ctx, "@user:acct-1:twoFactorEnabled", "true")

	st, err := tr.Load(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.PhoneVerified || st.TwoFactorEnabled {
		t.Fatalf("expected remote flags to win, got %+v", st)
	}
	if v, _, _ := local.Get(ctx, "@user:acct-1:phoneVerified"); v != "false" {
		t.Fatalf("expected cache rewritten to false, got %q", v)
	}
	if reconciled != 1 {
		t.Fatalf("expected one reconcile, got %d", reconciled)
	}

	if _, err := tr.Load(ctx, "acct-1"); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if reconciled != 1 {
		t.Fatalf("expected no reconcile when cache agrees, got %d", reconciled)
	}
}

func TestTrackerLoadFallsBackToCacheWhenRemoteFails(t *testing.T) {
	tr, profiles, local := newTestTracker(t)
	ctx := context.Background()

	_ = local.Set(ctx, "@user:acct-1:emailVerified", "true")
	profiles.setReadErr(errors.New("offline"))

	st, err := tr.Load(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected remote read error")
	}
	if !st.EmailVerified {
		t.Fatalf("expected cached status, got %+v", st)
	}
}

func TestTrackerQueuesFailedWriteAndFlushesOnLoad(t *testing.T) {
	tr, profiles, local := newTestTracker(t)
	ctx := context.Background()

	failures := 0
	tr.hooks.writeFailed = func(context.Context, string, error) { failures++ }

	profiles.setPatchErr(errors.New("offline"))
	err := tr.MarkPhoneVerified(ctx, "acct-1", "+61412345678")
	if err == nil {
		t.Fatal("expected remote write error")
	}
	if failures != 1 {
		t.Fatalf("expected writeFailed hook once, got %d", failures)
	}
	if st, _ := tr.Status("acct-1"); !st.PhoneVerified {
		t.Fatal("expected optimistic in-memory update")
	}
	if _, ok, _ := local.Get(ctx, "@user:acct-1:pending"); !ok {
		t.Fatal("expected pending patch queued")
	}

	// Still offline: reconcile keeps the queued change over remote.
	st, err := tr.Load(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !st.PhoneVerified {
		t.Fatalf("expected pending patch overlaid on remote, got %+v", st)
	}

	profiles.setPatchErr(nil)
	st, err = tr.Load(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !st.PhoneVerified {
		t.Fatalf("expected flushed status, got %+v", st)
	}
	remote, _ := profiles.ReadStatus(ctx, "acct-1")
	if !remote.PhoneVerified || remote.PhoneNumber != "+61412345678" {
		t.Fatalf("expected pending patch flushed to remote, got %+v", remote)
	}
	if _, ok, _ := local.Get(ctx, "@user:acct-1:pending"); ok {
		t.Fatal("expected pending patch removed after flush")
	}
}

func TestTrackerOfflineMarkCachesOnlyPatchedFields(t *testing.T) {
	tr, profiles, local := newTestTracker(t)
	ctx := context.Background()

	profiles.setReadErr(errors.New("offline"))
	profiles.setPatchErr(errors.New("offline"))
	if err := tr.MarkPhoneVerified(ctx, "acct-1", "+61412345678"); err == nil {
		t.Fatal("expected remote write error")
	}

	if v, _, _ := local.Get(ctx, "@user:acct-1:phoneVerified"); v != "true" {
		t.Fatalf("expected cached phoneVerified=true, got %q", v)
	}
	for _, field := range []string{"emailVerified", "twoFactorEnabled"} {
		if v, ok, _ := local.Get(ctx, "@user:acct-1:"+field); ok {
			t.Fatalf("unknown %s must not be cached, got %q", field, v)
		}
	}

	_ = local.Set(ctx, "@user:acct-1:emailVerified", "true")
	tr.Forget("acct-1")
	st, err := tr.Load(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected remote read error")
	}
	if !st.EmailVerified || !st.PhoneVerified {
		t.Fatalf("expected cached facts only, got %+v", st)
	}
}

func TestTrackerTwoFactorRequiresVerifiedPhone(t *testing.T) {
	tr, profiles, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tr.MarkTwoFactorEnabled(ctx, "acct-1", true); !errors.Is(err, ErrPhoneNotVerified) {
		t.Fatalf("expected ErrPhoneNotVerified, got %v", err)
	}
	if profiles.patchCount() != 0 {
		t.Fatal("expected no remote write")
	}

	if err := tr.MarkPhoneVerified(ctx, "acct-1", "+61412345678"); err != nil {
		t.Fatalf("MarkPhoneVerified failed: %v", err)
	}
	if err := tr.MarkTwoFactorEnabled(ctx, "acct-1", true); err != nil {
		t.Fatalf("MarkTwoFactorEnabled failed: %v", err)
	}
	if err := tr.MarkTwoFactorEnabled(ctx, "acct-1", false); err != nil {
		t.Fatalf("disabling failed: %v", err)
	}
	st, _ := tr.Status("acct-1")
	if st.TwoFactorEnabled || !st.PhoneVerified {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestTrackerRequiresAccount(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	if _, err := tr.Load(context.Background(), ""); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
	if err := tr.MarkEmailVerified(context.Background(), "", true); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
}

func TestStatusPatchMergeAndApply(t *testing.T) {
	yes, no := true, false
	number := "+61412345678"

	p := StatusPatch{PhoneVerified: &yes}.Merge(StatusPatch{PhoneVerified: &no, PhoneNumber: &number})
	st := p.Apply(VerificationStatus{EmailVerified: true, PhoneVerified: true})
	if st.PhoneVerified || !st.EmailVerified || st.PhoneNumber != number {
		t.Fatalf("unexpected status: %+v", st)
	}
	if !(StatusPatch{}).Empty() || p.Empty() {
		t.Fatal("unexpected Empty result")
	}
}

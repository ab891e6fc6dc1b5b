package healthauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/MrEthical07/healthauth/internal/logging"
	"github.com/MrEthical07/healthauth/phone"
)

// StatusPatch is a partial update of VerificationStatus. Nil fields are left
// unchanged.
type StatusPatch struct {
	EmailVerified    *bool   `json:"emailVerified,omitempty"`
	PhoneVerified    *bool   `json:"phoneVerified,omitempty"`
	TwoFactorEnabled *bool   `json:"twoFactorEnabled,omitempty"`
	PhoneNumber      *string `json:"phoneNumber,omitempty"`
}

// Apply returns st with every non-nil field of p written over it.
func (p StatusPatch) Apply(st VerificationStatus) VerificationStatus {
	if p.EmailVerified != nil {
		st.EmailVerified = *p.EmailVerified
	}
	if p.PhoneVerified != nil {
		st.PhoneVerified = *p.PhoneVerified
	}
	if p.TwoFactorEnabled != nil {
		st.TwoFactorEnabled = *p.TwoFactorEnabled
	}
	if p.PhoneNumber != nil {
		st.PhoneNumber = *p.PhoneNumber
	}
	return st
}

// Merge returns p with every field set in next overriding it.
func (p StatusPatch) Merge(next StatusPatch) StatusPatch {
	if next.EmailVerified != nil {
		p.EmailVerified = next.EmailVerified
	}
	if next.PhoneVerified != nil {
		p.PhoneVerified = next.PhoneVerified
	}
	if next.TwoFactorEnabled != nil {
		p.TwoFactorEnabled = next.TwoFactorEnabled
	}
	if next.PhoneNumber != nil {
		p.PhoneNumber = next.PhoneNumber
	}
	return p
}

// Empty reports whether p changes nothing.
func (p StatusPatch) Empty() bool {
	return p.EmailVerified == nil && p.PhoneVerified == nil && p.TwoFactorEnabled == nil && p.PhoneNumber == nil
}

// StatusTiers is the two-tier read model: a non-authoritative local cache
// and the authoritative remote store. Reconcile applies the "remote wins"
// rule and reports whether the cache was rewritten.
type StatusTiers interface {
	ReadLocal(ctx context.Context, accountID string) (VerificationStatus, bool, error)
	ReadRemote(ctx context.Context, accountID string) (VerificationStatus, error)
	Reconcile(ctx context.Context, accountID string, local VerificationStatus, hasLocal bool, remote VerificationStatus) (VerificationStatus, bool, error)
}

var _ StatusTiers = (*VerificationTracker)(nil)

const (
	fieldEmailVerified    = "emailVerified"
	fieldPhoneVerified    = "phoneVerified"
	fieldTwoFactorEnabled = "twoFactorEnabled"
	fieldPhoneNumber      = "phoneNumber"
)

type trackerHooks struct {
	changed     func(accountID string, st VerificationStatus)
	writeFailed func(ctx context.Context, accountID string, err error)
	reconciled  func(ctx context.Context, accountID string)
}

// VerificationTracker owns per-account verification flags. Writes are
// optimistic: memory and cache change first, and a failed remote write is
// queued as a pending patch that the next Load flushes.
type VerificationTracker struct {
	remote      StatusStore
	local       LocalStore
	keys        cacheKeys
	flushOnLoad bool
	log         logging.Logger
	hooks       trackerHooks

	mu      sync.Mutex
	current map[string]VerificationStatus
}

// NewVerificationTracker returns a tracker over the authoritative remote
// store and the device cache. A nil log discards.
func NewVerificationTracker(remote StatusStore, local LocalStore, cfg CacheConfig, log logging.Logger) *VerificationTracker {
	if log == nil {
		log = logging.Nop()
	}
	return &VerificationTracker{
		remote:      remote,
		local:       local,
		keys:        newCacheKeys(cfg),
		flushOnLoad: cfg.FlushOnLoad,
		log:         log,
		current:     make(map[string]VerificationStatus),
	}
}

// ReadLocal reads the cached flags. found is false when no field is cached;
// an unparsable value is treated as a cache miss.
func (t *VerificationTracker) ReadLocal(ctx context.Context, accountID string) (VerificationStatus, bool, error) {
	var st VerificationStatus
	found := false

	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{fieldEmailVerified, &st.EmailVerified},
		{fieldPhoneVerified, &st.PhoneVerified},
		{fieldTwoFactorEnabled, &st.TwoFactorEnabled},
	} {
		raw, ok, err := t.local.Get(ctx, t.keys.field(accountID, f.name))
		if err != nil {
			return VerificationStatus{}, false, err
		}
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return VerificationStatus{}, false, nil
		}
		*f.dst = v
		found = true
	}

	number, ok, err := t.local.Get(ctx, t.keys.field(accountID, fieldPhoneNumber))
	if err != nil {
		return VerificationStatus{}, false, err
	}
	if ok {
		st.PhoneNumber = number
		found = true
	}
	return st, found, nil
}

// ReadRemote reads the flags from the profile store.
func (t *VerificationTracker) ReadRemote(ctx context.Context, accountID string) (VerificationStatus, error) {
	return t.remote.ReadStatus(ctx, accountID)
}

// Reconcile picks remote, with any unflushed pending patch laid over it,
// and rewrites the cache when it differs from local.
func (t *VerificationTracker) Reconcile(
	ctx context.Context,
	accountID string,
	local VerificationStatus,
	hasLocal bool,
	remote VerificationStatus,
) (VerificationStatus, bool, error) {
	chosen := remote
	pending, err := t.readPending(ctx, accountID)
	if err == nil && !pending.Empty() {
		chosen = pending.Apply(remote)
	}
	if hasLocal && local == chosen {
		return chosen, false, nil
	}
	if err := t.writeLocal(ctx, accountID, chosen); err != nil {
		return chosen, false, err
	}
	return chosen, true, nil
}

// Load returns the account's status: local first, then remote, remote
// winning. If the remote read fails the cached status is returned together
// with the error.
func (t *VerificationTracker) Load(ctx context.Context, accountID string) (VerificationStatus, error) {
	if accountID == "" {
		return VerificationStatus{}, ErrNotSignedIn
	}
	if t.flushOnLoad {
		if err := t.Flush(ctx, accountID); err != nil {
			t.log.Warn(ctx, "pending verification status not flushed", "account_id", accountID, "error", err)
		}
	}

	local, hasLocal, err := t.ReadLocal(ctx, accountID)
	if err != nil {
		t.log.Warn(ctx, "local verification cache unreadable", "account_id", accountID, "error", err)
		hasLocal = false
	}

	remote, err := t.ReadRemote(ctx, accountID)
	if err != nil {
		if hasLocal {
			t.setCurrent(accountID, local)
			return local, fmt.Errorf("load verification status: %w", err)
		}
		return VerificationStatus{}, fmt.Errorf("load verification status: %w", err)
	}

	st, rewrote, err := t.Reconcile(ctx, accountID, local, hasLocal, remote)
	if err != nil {
		t.log.Warn(ctx, "local verification cache not updated", "account_id", accountID, "error", err)
	}
	if rewrote && hasLocal && t.hooks.reconciled != nil {
		t.hooks.reconciled(ctx, accountID)
	}
	t.setCurrent(accountID, st)
	return st, nil
}

// Current returns the in-memory status, falling back to Load.
func (t *VerificationTracker) Current(ctx context.Context, accountID string) (VerificationStatus, error) {
	t.mu.Lock()
	st, ok := t.current[accountID]
	t.mu.Unlock()
	if ok {
		return st, nil
	}
	return t.Load(ctx, accountID)
}

// Status returns the in-memory status without I/O.
func (t *VerificationTracker) Status(accountID string) (VerificationStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.current[accountID]
	return st, ok
}

// MarkPhoneVerified records number as the account's verified phone. Calling
// it again with the same arguments leaves the status unchanged.
func (t *VerificationTracker) MarkPhoneVerified(ctx context.Context, accountID, number string) error {
	if !phone.ValidE164(number) {
		return fieldError("phoneNumber", "Invalid phone number format. Please check your country code and number.")
	}
	verified := true
	return t.mark(ctx, accountID, StatusPatch{PhoneVerified: &verified, PhoneNumber: &number})
}

// MarkTwoFactorEnabled sets the second-factor flag. Enabling requires a
// verified phone.
func (t *VerificationTracker) MarkTwoFactorEnabled(ctx context.Context, accountID string, enabled bool) error {
	if enabled {
		cur, err := t.Current(ctx, accountID)
		if err != nil && cur == (VerificationStatus{}) {
			return err
		}
		if !cur.PhoneVerified {
			return ErrPhoneNotVerified
		}
	}
	return t.mark(ctx, accountID, StatusPatch{TwoFactorEnabled: &enabled})
}

// MarkEmailVerified mirrors the provider's email verification flag.
func (t *VerificationTracker) MarkEmailVerified(ctx context.Context, accountID string, verified bool) error {
	return t.mark(ctx, accountID, StatusPatch{EmailVerified: &verified})
}

func (t *VerificationTracker) mark(ctx context.Context, accountID string, patch StatusPatch) error {
	if accountID == "" {
		return ErrNotSignedIn
	}
	cur, err := t.Current(ctx, accountID)
	if err != nil {
		t.log.Warn(ctx, "verification status unavailable before write", "account_id", accountID, "error", err)
	}
	_, known := t.Status(accountID)

	next := patch.Apply(cur)
	t.setCurrent(accountID, next)
	// With no known status only the patched fields are cached; the rest of
	// next is zero values, not facts.
	writeErr := t.writeLocalPatch(ctx, accountID, patch)
	if known {
		writeErr = t.writeLocal(ctx, accountID, next)
	}
	if writeErr != nil {
		t.log.Warn(ctx, "local verification cache not updated", "account_id", accountID, "error", writeErr)
	}

	pending, _ := t.readPending(ctx, accountID)
	send := pending.Merge(patch)
	if _, err := t.remote.PatchStatus(ctx, accountID, send); err != nil {
		if perr := t.writePending(ctx, accountID, send); perr != nil {
			t.log.Warn(ctx, "pending verification status not queued", "account_id", accountID, "error", perr)
		}
		t.log.Warn(ctx, "verification status remote write failed", "account_id", accountID, "error", err)
		if t.hooks.writeFailed != nil {
			t.hooks.writeFailed(ctx, accountID, err)
		}
		return fmt.Errorf("verification status not persisted: %w", err)
	}
	if !pending.Empty() {
		_ = t.local.Delete(ctx, t.keys.pending(accountID))
	}
	return nil
}

// Flush retries a pending patch left by a failed remote write.
func (t *VerificationTracker) Flush(ctx context.Context, accountID string) error {
	pending, err := t.readPending(ctx, accountID)
	if err != nil || pending.Empty() {
		return err
	}
	if _, err := t.remote.PatchStatus(ctx, accountID, pending); err != nil {
		return err
	}
	return t.local.Delete(ctx, t.keys.pending(accountID))
}

// Forget drops the in-memory status for accountID.
func (t *VerificationTracker) Forget(accountID string) {
	t.mu.Lock()
	delete(t.current, accountID)
	t.mu.Unlock()
}

func (t *VerificationTracker) setCurrent(accountID string, st VerificationStatus) {
	t.mu.Lock()
	prev, had := t.current[accountID]
	t.current[accountID] = st
	t.mu.Unlock()

	if (!had || prev != st) && t.hooks.changed != nil {
		t.hooks.changed(accountID, st)
	}
}

func (t *VerificationTracker) writeLocal(ctx context.Context, accountID string, st VerificationStatus) error {
	pairs := [][2]string{
		{fieldEmailVerified, strconv.FormatBool(st.EmailVerified)},
		{fieldPhoneVerified, strconv.FormatBool(st.PhoneVerified)},
		{fieldTwoFactorEnabled, strconv.FormatBool(st.TwoFactorEnabled)},
	}
	for _, kv := range pairs {
		if err := t.local.Set(ctx, t.keys.field(accountID, kv[0]), kv[1]); err != nil {
			return err
		}
	}
	numberKey := t.keys.field(accountID, fieldPhoneNumber)
	if st.PhoneNumber == "" {
		return t.local.Delete(ctx, numberKey)
	}
	return t.local.Set(ctx, numberKey, st.PhoneNumber)
}

func (t *VerificationTracker) writeLocalPatch(ctx context.Context, accountID string, p StatusPatch) error {
	for _, f := range []struct {
		name string
		v    *bool
	}{
		{fieldEmailVerified, p.EmailVerified},
		{fieldPhoneVerified, p.PhoneVerified},
		{fieldTwoFactorEnabled, p.TwoFactorEnabled},
	} {
		if f.v == nil {
			continue
		}
		if err := t.local.Set(ctx, t.keys.field(accountID, f.name), strconv.FormatBool(*f.v)); err != nil {
			return err
		}
	}
	if p.PhoneNumber != nil {
		return t.local.Set(ctx, t.keys.field(accountID, fieldPhoneNumber), *p.PhoneNumber)
	}
	return nil
}

func (t *VerificationTracker) readPending(ctx context.Context, accountID string) (StatusPatch, error) {
	raw, ok, err := t.local.Get(ctx, t.keys.pending(accountID))
	if err != nil || !ok {
		return StatusPatch{}, err
	}
	var p StatusPatch
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return StatusPatch{}, errors.New("corrupt pending verification patch")
	}
	return p, nil
}

func (t *VerificationTracker) writePending(ctx context.Context, accountID string, p StatusPatch) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return t.local.Set(ctx, t.keys.pending(accountID), string(raw))
}

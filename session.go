package healthauth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/healthauth/internal/logging"
)

// Clock supplies the current time. Tests inject a manual clock to drive the
// resend countdown and the new-account window.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

const deviceOnboardingKey = "onboardingComplete"

// SessionState is the lifecycle position of the session context.
type SessionState uint8

const (
	SessionAnonymous SessionState = iota
	SessionLoading
	SessionReady
)

func (s SessionState) String() string {
	switch s {
	case SessionLoading:
		return "loading"
	case SessionReady:
		return "ready"
	default:
		return "anonymous"
	}
}

// SessionSnapshot is a copy of the session context at one instant.
type SessionSnapshot struct {
	State   SessionState
	Account *Account
	Profile *Profile
	Status  VerificationStatus
	// Onboarded is false for accounts created within NewAccountWindow
	// regardless of the device flag.
	Onboarded bool
	// Authenticated is set only when the email is verified and the phone is
	// verified or verification is bypassed.
	Authenticated bool
	// LoadErr records a profile or status read failure during the last load.
	LoadErr error
}

func (s SessionSnapshot) clone() SessionSnapshot {
	out := s
	if s.Account != nil {
		acct := *s.Account
		out.Account = &acct
	}
	if s.Profile != nil {
		p := *s.Profile
		p.EmergencyContacts = append([]EmergencyContact(nil), s.Profile.EmergencyContacts...)
		out.Profile = &p
	}
	return out
}

// Session is the process-wide account context. It subscribes once to the
// provider's auth-state stream and owns the in-memory Account and
// VerificationStatus. Loads carry a generation number; a load that finishes
// after a newer auth change is discarded.
type Session struct {
	provider IdentityProvider
	profiles ProfileStore
	tracker  *VerificationTracker
	local    LocalStore
	keys     cacheKeys
	cfg      SessionConfig
	clock    Clock
	log      logging.Logger

	mu          sync.RWMutex
	snap        SessionSnapshot
	gen         uint64
	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	disposed    bool
	listeners   map[uint64]func(SessionSnapshot)
	nextID      uint64
}

func newSession(
	provider IdentityProvider,
	profiles ProfileStore,
	tracker *VerificationTracker,
	local LocalStore,
	cfg Config,
	clock Clock,
	log logging.Logger,
) *Session {
	return &Session{
		provider:  provider,
		profiles:  profiles,
		tracker:   tracker,
		local:     local,
		keys:      newCacheKeys(cfg.Cache),
		cfg:       cfg.Session,
		clock:     clock,
		log:       log,
		listeners: make(map[uint64]func(SessionSnapshot)),
	}
}

// Init subscribes to the provider's auth-state stream. Calling it again is
// a no-op. The subscription lives until Dispose.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrEngineNotReady
	}
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	base := s.baseCtx
	s.mu.Unlock()

	unsub := s.provider.SubscribeAuthState(func(acct *Account) {
		s.OnAuthChange(base, acct)
	})

	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()
	return nil
}

// Dispose unsubscribes from the provider and cancels in-flight loads.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.gen++
	unsub, cancel := s.unsubscribe, s.cancel
	s.unsubscribe, s.cancel = nil, nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// OnAuthChange handles one auth-state event. A new account replaces the
// snapshot immediately with an empty loading state so nothing from a
// previous account stays visible while the new one loads.
func (s *Session) OnAuthChange(ctx context.Context, acct *Account) {
	gen, prevID, ok := s.begin(acct)
	if !ok {
		return
	}

	if acct == nil {
		if prevID != "" {
			s.clearAccountCache(ctx, prevID)
			s.tracker.Forget(prevID)
		}
		onboarded := s.deviceOnboarded(ctx)
		s.commit(gen, SessionSnapshot{State: SessionAnonymous, Onboarded: onboarded})
		return
	}

	s.commit(gen, s.load(ctx, acct))
}

func (s *Session) begin(acct *Account) (uint64, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0, "", false
	}

	s.gen++
	prevID := ""
	if s.snap.Account != nil {
		prevID = s.snap.Account.ID
	}

	switch {
	case acct == nil:
		s.snap = SessionSnapshot{State: SessionAnonymous}
	case prevID != acct.ID:
		a := *acct
		s.snap = SessionSnapshot{State: SessionLoading, Account: &a}
	default:
		s.snap.State = SessionLoading
	}
	return s.gen, prevID, true
}

func (s *Session) load(ctx context.Context, acct *Account) SessionSnapshot {
	a := *acct
	snap := SessionSnapshot{State: SessionReady, Account: &a}

	profile, err := s.ensureProfile(ctx, &a)
	if err != nil {
		s.log.Warn(ctx, "profile load failed", "account_id", a.ID, "error", err)
		snap.LoadErr = err
	}
	snap.Profile = profile

	status, err := s.tracker.Load(ctx, a.ID)
	if err != nil {
		s.log.Warn(ctx, "verification status load failed", "account_id", a.ID, "error", err)
		if snap.LoadErr == nil {
			snap.LoadErr = err
		}
	}
	snap.Status = status
	if a.EmailVerified {
		snap.Status.EmailVerified = true
	}

	snap.Onboarded = s.deviceOnboarded(ctx)
	createdAt := a.CreatedAt
	if createdAt.IsZero() && profile != nil {
		createdAt = profile.CreatedAt
	}
	if !createdAt.IsZero() && s.clock.Now().Sub(createdAt) < s.cfg.NewAccountWindow {
		snap.Onboarded = false
	}

	snap.Authenticated = s.authenticated(&a, snap.Status)
	s.log.Debug(ctx, "session loaded",
		"account_id", a.ID,
		"authenticated", snap.Authenticated,
		"onboarded", snap.Onboarded,
	)
	return snap
}

// ensureProfile returns the account's profile, creating the default
// document when none exists.
func (s *Session) ensureProfile(ctx context.Context, acct *Account) (*Profile, error) {
	p, err := s.profiles.GetProfile(ctx, acct.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	def := defaultProfile(acct, s.clock.Now())
	created, err := s.profiles.CreateProfile(ctx, acct.ID, def)
	if err != nil {
		return &def, err
	}
	if !created {
		return s.profiles.GetProfile(ctx, acct.ID)
	}
	return &def, nil
}

func (s *Session) authenticated(acct *Account, st VerificationStatus) bool {
	if !acct.EmailVerified && !st.EmailVerified {
		return false
	}
	return st.PhoneVerified || s.cfg.BypassPhoneVerification
}

func (s *Session) commit(gen uint64, snap SessionSnapshot) bool {
	s.mu.Lock()
	if gen != s.gen || s.disposed {
		s.mu.Unlock()
		return false
	}
	s.snap = snap
	out := s.snap.clone()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(out)
	}
	return true
}

// applyStatus receives tracker changes for the current account.
func (s *Session) applyStatus(accountID string, st VerificationStatus) {
	s.mu.Lock()
	if s.snap.Account == nil || s.snap.Account.ID != accountID {
		s.mu.Unlock()
		return
	}
	if s.snap.Account.EmailVerified {
		st.EmailVerified = true
	}
	s.snap.Status = st
	if s.snap.Profile != nil {
		s.snap.Profile.EmailVerified = st.EmailVerified
		s.snap.Profile.PhoneVerified = st.PhoneVerified
		s.snap.Profile.TwoFactorEnabled = st.TwoFactorEnabled
		s.snap.Profile.PhoneNumber = st.PhoneNumber
	}
	if s.snap.State == SessionReady {
		s.snap.Authenticated = s.authenticated(s.snap.Account, st)
	}
	out := s.snap.clone()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(out)
	}
}

// applyProfile replaces the cached profile after an engine write.
func (s *Session) applyProfile(accountID string, p *Profile) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if s.snap.Account != nil && s.snap.Account.ID == accountID {
		cp := *p
		cp.EmergencyContacts = append([]EmergencyContact(nil), p.EmergencyContacts...)
		s.snap.Profile = &cp
	}
	s.mu.Unlock()
}

func (s *Session) listenersLocked() []func(SessionSnapshot) {
	out := make([]func(SessionSnapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// Snapshot returns a copy of the current context.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// AccountID returns the current account id, or "".
func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.Account == nil {
		return ""
	}
	return s.snap.Account.ID
}

// Subscribe registers fn for every committed snapshot.
func (s *Session) Subscribe(fn func(SessionSnapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Refresh reloads the current provider account.
func (s *Session) Refresh(ctx context.Context) {
	s.OnAuthChange(ctx, s.provider.CurrentAccount())
}

// CompleteOnboarding sets the device-wide onboarding flag. The flag
// survives sign-out.
func (s *Session) CompleteOnboarding(ctx context.Context) error {
	if err := s.local.Set(ctx, s.keys.device(deviceOnboardingKey), strconv.FormatBool(true)); err != nil {
		return err
	}
	s.mu.Lock()
	s.snap.Onboarded = true
	s.mu.Unlock()
	return nil
}

func (s *Session) deviceOnboarded(ctx context.Context) bool {
	raw, ok, err := s.local.Get(ctx, s.keys.device(deviceOnboardingKey))
	if err != nil || !ok {
		return false
	}
	v, _ := strconv.ParseBool(raw)
	return v
}

// clearAccountCache removes the account's cached fields. A queued pending
// patch is kept so the next load of the same account can still flush it.
func (s *Session) clearAccountCache(ctx context.Context, accountID string) {
	keys, err := s.local.Keys(ctx, s.keys.account(accountID))
	if err != nil {
		s.log.Warn(ctx, "local cache keys unreadable", "account_id", accountID, "error", err)
		return
	}
	pending := s.keys.pending(accountID)
	drop := keys[:0]
	for _, k := range keys {
		if k != pending {
			drop = append(drop, k)
		}
	}
	if len(drop) == 0 {
		return
	}
	if err := s.local.Delete(ctx, drop...); err != nil {
		s.log.Warn(ctx, "local cache not cleared", "account_id", accountID, "error", err)
	}
}

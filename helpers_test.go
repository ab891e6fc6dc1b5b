package healthauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/healthauth/phone"
)

const testCode = "123456"

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAccount struct {
	acct     Account
	password string
	factors  []Factor
}

type fakeCodeSession struct {
	number    string
	accountID string
}

// fakeProvider is an in-memory IdentityProvider. Every code it sends is
// testCode. Errors queued with failNext are returned once by the named op.
type fakeProvider struct {
	mu        sync.Mutex
	clock     Clock
	accounts  map[string]*fakeAccount
	current   *fakeAccount
	sessions  map[string]fakeCodeSession
	nextID    int
	queued    map[string][]error
	calls     map[string]int
	listeners map[int]func(*Account)
	nextSub   int
	block     map[string]chan struct{}
}

func newFakeProvider(clock Clock) *fakeProvider {
	return &fakeProvider{
		clock:     clock,
		accounts:  make(map[string]*fakeAccount),
		sessions:  make(map[string]fakeCodeSession),
		queued:    make(map[string][]error),
		calls:     make(map[string]int),
		listeners: make(map[int]func(*Account)),
		block:     make(map[string]chan struct{}),
	}
}

func (p *fakeProvider) failNext(op string, err error) {
	p.mu.Lock()
	p.queued[op] = append(p.queued[op], err)
	p.mu.Unlock()
}

// blockOn makes the next calls to op wait until the returned func runs.
func (p *fakeProvider) blockOn(op string) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.block[op] = ch
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.block, op)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *fakeProvider) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// enter counts a call to op and returns its queued error, waiting first if
// op is blocked.
func (p *fakeProvider) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	gate := p.block[op]
	var err error
	if q := p.queued[op]; len(q) > 0 {
		err = q[0]
		p.queued[op] = q[1:]
	}
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// addAccount registers an account without signing it in.
func (p *fakeProvider) addAccount(email, password string, emailVerified bool) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	a := &fakeAccount{
		acct: Account{
			ID:            fmt.Sprintf("acct-%04d", p.nextID),
			Email:         email,
			EmailVerified: emailVerified,
			CreatedAt:     p.clock.Now().Add(-24 * time.Hour),
		},
		password: password,
	}
	p.accounts[email] = a
	cp := a.acct
	return &cp
}

func (p *fakeProvider) setEmailVerified(email string) {
	p.mu.Lock()
	p.accounts[email].acct.EmailVerified = true
	p.mu.Unlock()
}

func (p *fakeProvider) addFactor(email, number string) Factor {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accounts[email]
	f := Factor{ID: fmt.Sprintf("factor-%d", len(a.factors)+1), PhoneNumber: number, DisplayName: "Phone"}
	a.factors = append(a.factors, f)
	return f
}

func (p *fakeProvider) notify(acct *Account) {
	p.mu.Lock()
	fns := make([]func(*Account), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		if acct == nil {
			fn(nil)
			continue
		}
		cp := *acct
		fn(&cp)
	}
}

func (p *fakeProvider) signInLocked(a *fakeAccount) *Account {
	p.current = a
	cp := a.acct
	return &cp
}

func (p *fakeProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	if err := p.enter(ctx, OpCreateAccount); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return nil, NewProviderError(OpCreateAccount, KindEmailInUse, nil)
	}
	p.nextID++
	a := &fakeAccount{
		acct:     Account{ID: fmt.Sprintf("acct-%04d", p.nextID), Email: email, CreatedAt: p.clock.Now()},
		password: password,
	}
	p.accounts[email] = a
	acct := p.signInLocked(a)
	p.mu.Unlock()

	p.notify(acct)
	return acct, nil
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*Account, error) {
	if err := p.enter(ctx, OpSignIn); err != nil {
		return nil, err
	}
	p.mu.Lock()
	a, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil, NewProviderError(OpSignIn, KindUserNotFound, nil)
	}
	if a.password != password {
		p.mu.Unlock()
		return nil, NewProviderError(OpSignIn, KindWrongPassword, nil)
	}
	if len(a.factors) > 0 {
		hints := make([]Factor, 0, len(a.factors))
		for _, f := range a.factors {
			f.PhoneNumber = phone.Mask(f.PhoneNumber)
			hints = append(hints, f)
		}
		p.mu.Unlock()
		return nil, &ProviderError{
			Op:        OpSignIn,
			Kind:      KindSecondFactorRequired,
			Challenge: &ChallengeContext{Hints: hints, Session: "challenge:" + email},
		}
	}
	acct := p.signInLocked(a)
	p.mu.Unlock()

	p.notify(acct)
	return acct, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	if err := p.enter(ctx, OpSignOut); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.notify(nil)
	return nil
}

func (p *fakeProvider) CurrentAccount() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	cp := p.current.acct
	return &cp
}

func (p *fakeProvider) ReloadAccount(ctx context.Context) (*Account, error) {
	if err := p.enter(ctx, OpReload); err != nil {
		return nil, err
	}
	if acct := p.CurrentAccount(); acct != nil {
		return acct, nil
	}
	return nil, NewProviderError(OpReload, KindUnknown, ErrNotSignedIn)
}

func (p *fakeProvider) UpdateDisplayName(ctx context.Context, name string) error {
	if err := p.enter(ctx, OpUpdateProfile); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.acct.DisplayName = name
	}
	return nil
}

func (p *fakeProvider) SendEmailVerification(ctx context.Context) error {
	return p.enter(ctx, OpSendEmail)
}

func (p *fakeProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	if err := p.enter(ctx, "password_reset"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; !ok {
		return NewProviderError(OpSendEmail, KindUserNotFound, nil)
	}
	return nil
}

func (p *fakeProvider) Reauthenticate(ctx context.Context, password string) error {
	if err := p.enter(ctx, OpReauthenticate); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return NewProviderError(OpReauthenticate, KindUnknown, ErrNotSignedIn)
	}
	if p.current.password != password {
		return NewProviderError(OpReauthenticate, KindWrongPassword, nil)
	}
	return nil
}

func (p *fakeProvider) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := p.enter(ctx, OpUpdatePassword); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current.password = newPassword
	return nil
}

func (p *fakeProvider) SendPhoneCode(ctx context.Context, req PhoneCodeRequest) (string, error) {
	if err := p.enter(ctx, OpSendPhoneCode); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	session := fakeCodeSession{number: req.PhoneNumber}
	if req.Challenge != nil {
		for _, a := range p.accounts {
			if req.Challenge.Session != "challenge:"+a.acct.Email {
				continue
			}
			for _, f := range a.factors {
				if f.ID == req.HintID {
					session = fakeCodeSession{number: f.PhoneNumber, accountID: a.acct.ID}
				}
			}
		}
		if session.accountID == "" {
			return "", NewProviderError(OpSendPhoneCode, KindInvalidSession, nil)
		}
	} else if !phone.ValidE164(req.PhoneNumber) {
		return "", NewProviderError(OpSendPhoneCode, KindInvalidPhoneNumber, nil)
	}

	p.nextID++
	id := fmt.Sprintf("session-%d", p.nextID)
	p.sessions[id] = session
	return id, nil
}

// ConfirmPhoneCode consumes the session on any attempt.
func (p *fakeProvider) ConfirmPhoneCode(ctx context.Context, sessionID, code string) (Credential, error) {
	if err := p.enter(ctx, OpConfirmPhoneCode); err != nil {
		return Credential{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return Credential{}, NewProviderError(OpConfirmPhoneCode, KindInvalidSession, nil)
	}
	delete(p.sessions, sessionID)
	if code != testCode {
		return Credential{}, NewProviderError(OpConfirmPhoneCode, KindInvalidCode, nil)
	}
	return Credential{SessionID: sessionID, PhoneNumber: s.number, Proof: "proof:" + s.accountID + ":" + s.number}, nil
}

func (p *fakeProvider) LinkPhone(ctx context.Context, cred Credential) error {
	if err := p.enter(ctx, OpLinkPhone); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.acct.PhoneNumber != "" {
		return NewProviderError(OpLinkPhone, KindProviderAlreadyLinked, nil)
	}
	p.current.acct.PhoneNumber = cred.PhoneNumber
	return nil
}

func (p *fakeProvider) EnrollSecondFactor(ctx context.Context, cred Credential, displayName string) error {
	if err := p.enter(ctx, OpEnrollSecondFactor); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.current
	a.factors = append(a.factors, Factor{
		ID:          fmt.Sprintf("factor-%d", len(a.factors)+1),
		PhoneNumber: cred.PhoneNumber,
		DisplayName: displayName,
	})
	return nil
}

func (p *fakeProvider) ListEnrolledFactors(ctx context.Context) ([]Factor, error) {
	if err := p.enter(ctx, OpListFactors); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, NewProviderError(OpListFactors, KindUnknown, ErrNotSignedIn)
	}
	return append([]Factor(nil), p.current.factors...), nil
}

func (p *fakeProvider) UnenrollSecondFactor(ctx context.Context, factorID string) error {
	if err := p.enter(ctx, OpUnenrollFactor); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.current
	for i, f := range a.factors {
		if f.ID == factorID {
			a.factors = append(a.factors[:i], a.factors[i+1:]...)
			return nil
		}
	}
	return NewProviderError(OpUnenrollFactor, KindUnknown, errors.New("factor not found"))
}

func (p *fakeProvider) ResolveSecondFactor(ctx context.Context, challenge *ChallengeContext, cred Credential) (*Account, error) {
	if err := p.enter(ctx, OpResolveChallenge); err != nil {
		return nil, err
	}
	p.mu.Lock()
	var target *fakeAccount
	for _, a := range p.accounts {
		if challenge.Session == "challenge:"+a.acct.Email && cred.Proof == "proof:"+a.acct.ID+":"+cred.PhoneNumber {
			target = a
		}
	}
	if target == nil {
		p.mu.Unlock()
		return nil, NewProviderError(OpResolveChallenge, KindInvalidSession, nil)
	}
	acct := p.signInLocked(target)
	p.mu.Unlock()

	p.notify(acct)
	return acct, nil
}

func (p *fakeProvider) SubscribeAuthState(fn func(*Account)) func() {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.listeners[id] = fn
	var current *Account
	if p.current != nil {
		cp := p.current.acct
		current = &cp
	}
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// memProfileStore is an in-memory ProfileStore. patchErr and readErr, when
// set, fail every status write or read.
type memProfileStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	patchErr error
	readErr  error
	patches  int
}

func newMemProfileStore() *memProfileStore {
	return &memProfileStore{docs: make(map[string][]byte)}
}

func (s *memProfileStore) setPatchErr(err error) {
	s.mu.Lock()
	s.patchErr = err
	s.mu.Unlock()
}

func (s *memProfileStore) setReadErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *memProfileStore) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patches
}

func (s *memProfileStore) put(accountID string, p Profile) {
	raw, _ := json.Marshal(p)
	s.mu.Lock()
	s.docs[accountID] = raw
	s.mu.Unlock()
}

func (s *memProfileStore) GetProfile(_ context.Context, accountID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	raw, ok := s.docs[accountID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *memProfileStore) CreateProfile(_ context.Context, accountID string, p Profile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[accountID]; ok {
		return false, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	s.docs[accountID] = raw
	return true, nil
}

func (s *memProfileStore) UpdateProfile(_ context.Context, accountID string, fn func(*Profile) error) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[accountID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	next, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	s.docs[accountID] = next
	return &p, nil
}

func (s *memProfileStore) ReadStatus(ctx context.Context, accountID string) (VerificationStatus, error) {
	p, err := s.GetProfile(ctx, accountID)
	if err != nil {
		return VerificationStatus{}, err
	}
	return p.Status(), nil
}

func (s *memProfileStore) PatchStatus(ctx context.Context, accountID string, patch StatusPatch) (VerificationStatus, error) {
	s.mu.Lock()
	s.patches++
	err := s.patchErr
	s.mu.Unlock()
	if err != nil {
		return VerificationStatus{}, err
	}
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

type testEnv struct {
	engine   *Engine
	provider *fakeProvider
	profiles *memProfileStore
	local    *MemoryLocalStore
	clock    *manualClock
	captcha  *captchaStub
}

type captchaStub struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *captchaStub) Verify(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "captcha-token", nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newAuditedTestEnv(t, mutate, nil)
}

func newAuditedTestEnv(t *testing.T, mutate func(*Config), sink AuditSink) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newManualClock()
	env := &testEnv{
		provider: newFakeProvider(clock),
		profiles: newMemProfileStore(),
		local:    NewMemoryLocalStore(),
		clock:    clock,
		captcha:  &captchaStub{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithProvider(env.provider).
		WithProfileStore(env.profiles).
		WithLocalStore(env.local).
		WithCaptcha(env.captcha).
		WithClock(clock).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// signedInVerified registers an account whose email and phone are
// verified and signs it in.
func (env *testEnv) signedInVerified(t *testing.T, email, number string) *Account {
	t.Helper()
	acct := env.provider.addAccount(email, "correct-horse", true)
	p := defaultProfile(acct, env.clock.Now())
	p.EmailVerified = true
	p.PhoneVerified = number != ""
	p.PhoneNumber = number
	env.profiles.put(acct.ID, p)

	res, err := env.engine.SignIn(context.Background(), email, "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if number != "" && res.Next != NextAuthenticated {
		t.Fatalf("expected NextAuthenticated, got %s", res.Next)
	}
	return acct
}

func (env *testEnv) metric(id MetricID) uint64 {
	return env.engine.metrics.Value(id)
}

func (p *fakeProvider) setAccountPhone(email, number string) {
	p.mu.Lock()
	p.accounts[email].acct.PhoneNumber = number
	p.mu.Unlock()
}

// signedInUnverifiedPhone signs in an account whose email is verified and
// returns the standalone phone flow SignIn hands back.
func (env *testEnv) signedInUnverifiedPhone(t *testing.T, email string) (*Account, *PhoneFlow) {
	t.Helper()
	acct := env.provider.addAccount(email, "correct-horse", true)
	res, err := env.engine.SignIn(context.Background(), email, "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res.Next != NextVerifyPhone || res.Flow == nil {
		t.Fatalf("expected NextVerifyPhone with a flow, got %s", res.Next)
	}
	t.Cleanup(res.Flow.Close)
	return acct, res.Flow
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

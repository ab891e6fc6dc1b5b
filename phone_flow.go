package healthauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/healthauth/internal/flows"
	"github.com/MrEthical07/healthauth/phone"
)

// PhoneFlowState is a state of the phone verification flow.
type PhoneFlowState uint8

const (
	PhoneIdle PhoneFlowState = iota
	PhoneAwaitingCaptcha
	PhoneCodeSent
	PhoneConfirming
	PhoneLinkOrEnroll
	PhoneDone
	PhoneFailed
)

// String returns the state name used in logs and audit metadata.
func (s PhoneFlowState) String() string {
	switch s {
	case PhoneIdle:
		return "idle"
	case PhoneAwaitingCaptcha:
		return "awaiting_captcha"
	case PhoneCodeSent:
		return "code_sent"
	case PhoneConfirming:
		return "confirming"
	case PhoneLinkOrEnroll:
		return "link_or_enroll"
	case PhoneDone:
		return "done"
	case PhoneFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PhoneIntent selects what a confirmed code is used for. It is supplied by
// the caller and never inferred.
type PhoneIntent uint8

const (
	// IntentStandalone marks the phone verified only.
	IntentStandalone PhoneIntent = iota
	// IntentLink links the phone to the account from the security settings.
	IntentLink
	// IntentEnroll enrolls the phone as a second factor.
	IntentEnroll
	// IntentResolve answers a sign-in second-factor challenge.
	IntentResolve
)

// String returns the intent name used in logs and audit events.
func (i PhoneIntent) String() string {
	switch i {
	case IntentLink:
		return "link"
	case IntentEnroll:
		return "enroll"
	case IntentResolve:
		return "resolve"
	default:
		return "standalone"
	}
}

func (i PhoneIntent) flowIntent() flows.PhoneIntent {
	switch i {
	case IntentLink:
		return flows.IntentLink
	case IntentEnroll:
		return flows.IntentEnroll
	case IntentResolve:
		return flows.IntentResolve
	default:
		return flows.IntentStandalone
	}
}

// PhoneFlowOptions parameterizes a new flow.
type PhoneFlowOptions struct {
	Intent PhoneIntent
	// AccountID defaults to the session's current account.
	AccountID string
	// Challenge and HintID are required for IntentResolve.
	Challenge *ChallengeContext
	HintID    string
	// NewAccount marks the verification step of sign-up. It is carried into
	// the FlowResult and the phone_linked audit metadata.
	NewAccount        bool
	FactorDisplayName string
}

// FlowFailure describes the Failed state. Retry is the state a retry
// re-enters.
type FlowFailure struct {
	Kind    ErrorKind
	Err     error
	Message string
	Retry   PhoneFlowState
}

// FlowResult is the outcome of a completed flow. PersistErr reports a
// verification status write that did not reach the profile store; the
// in-memory status is updated regardless.
type FlowResult struct {
	Intent        PhoneIntent
	AccountID     string
	PhoneNumber   string
	Status        VerificationStatus
	AlreadyLinked bool
	// NewAccount is set when the flow was the verification step of sign-up.
	NewAccount bool
	PersistErr error
}

// PhoneFlowSnapshot is a copy of the flow's observable state.
type PhoneFlowSnapshot struct {
	State       PhoneFlowState
	Intent      PhoneIntent
	PhoneNumber string
	Failure     *FlowFailure
	ResendIn    time.Duration
	Result      *FlowResult
}

// PhoneFlow is one phone verification attempt. Methods are safe for
// concurrent use, but only one network call runs at a time; a second call
// made while one is in flight returns ErrFlowBusy. After Close every call
// returns ErrFlowClosed and results still in flight are dropped.
type PhoneFlow struct {
	e    *Engine
	opts PhoneFlowOptions

	scope  context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     PhoneFlowState
	busy      bool
	closed    bool
	number    string
	sessionID string
	sentAt    time.Time
	failure   *FlowFailure
	result    *FlowResult
}

func newPhoneFlow(e *Engine, opts PhoneFlowOptions) *PhoneFlow {
	scope, cancel := context.WithCancel(context.Background())
	f := &PhoneFlow{
		e:      e,
		opts:   opts,
		scope:  scope,
		cancel: cancel,
		state:  PhoneIdle,
	}
	if opts.Intent == IntentResolve {
		f.state = PhoneAwaitingCaptcha
		if hint, ok := challengeHint(opts.Challenge, opts.HintID); ok {
			f.number = hint.PhoneNumber
		}
	}
	return f
}

func challengeHint(ch *ChallengeContext, hintID string) (Factor, bool) {
	if ch == nil || len(ch.Hints) == 0 {
		return Factor{}, false
	}
	if hintID == "" {
		return ch.Hints[0], true
	}
	for _, h := range ch.Hints {
		if h.ID == hintID {
			return h, true
		}
	}
	return Factor{}, false
}

// prefill moves a fresh flow past phone entry with an already formatted
// number.
func (f *PhoneFlow) prefill(number string) {
	f.mu.Lock()
	f.number = number
	f.state = PhoneAwaitingCaptcha
	f.mu.Unlock()
}

// SubmitPhone formats the entered number to E.164. Invalid input leaves the
// flow in Idle and returns a *FieldError without any network call.
func (f *PhoneFlow) SubmitPhone(callingCode, local string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkLocked(PhoneIdle); err != nil {
		return err
	}

	number, err := phone.Format(callingCode, local)
	if err != nil {
		return phoneFieldError(err)
	}

	f.number = number
	f.failure = nil
	f.setStateLocked(PhoneAwaitingCaptcha)
	return nil
}

func phoneFieldError(err error) *FieldError {
	switch {
	case errors.Is(err, phone.ErrEmptyNumber):
		return fieldError("phoneNumber", "Please enter your phone number")
	case errors.Is(err, phone.ErrInvalidCallingCode):
		return fieldError("countryCode", "Please select a valid country code")
	default:
		return fieldError("phoneNumber", "Please enter a valid phone number (digits only)")
	}
}

// SendCode completes the CAPTCHA and asks the provider to text a code.
func (f *PhoneFlow) SendCode(ctx context.Context) error {
	return f.sendCode(ctx, false)
}

func (f *PhoneFlow) sendCode(ctx context.Context, resend bool) error {
	f.mu.Lock()
	if err := f.checkLocked(PhoneAwaitingCaptcha); err != nil {
		f.mu.Unlock()
		return err
	}
	// Any send after the first one is held to the resend countdown, whichever
	// path led back here.
	if f.resendInLocked() > 0 {
		f.mu.Unlock()
		return ErrResendNotReady
	}
	f.state = PhoneAwaitingCaptcha
	f.failure = nil
	f.busy = true
	number := f.number
	f.mu.Unlock()
	defer f.release()

	e := f.e
	accountID := f.accountID()
	intent := f.opts.Intent.String()

	if f.opts.Intent == IntentEnroll {
		if err := e.requirePhoneVerified(ctx, accountID); err != nil {
			return err
		}
	}

	callCtx, stop := f.callContext(ctx)
	defer stop()

	token := ""
	if e.captcha != nil {
		var err error
		token, err = e.captcha.Verify(callCtx)
		if err != nil {
			cerr := NewProviderError(OpSendPhoneCode, KindCaptchaFailed, err)
			e.metricInc(MetricCaptchaFailure)
			e.emitAudit(ctx, auditEventCaptchaFailed, false, accountID, intent, cerr, nil)
			return f.fail(KindCaptchaFailed, cerr)
		}
	}

	req := PhoneCodeRequest{PhoneNumber: number, CaptchaToken: token}
	if f.opts.Intent == IntentResolve {
		req.PhoneNumber = ""
		req.Challenge = f.opts.Challenge
		if hint, ok := challengeHint(f.opts.Challenge, f.opts.HintID); ok {
			req.HintID = hint.ID
		}
	}

	sessionID, err := e.provider.SendPhoneCode(callCtx, req)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if err != nil {
		f.mu.Unlock()
		kind := KindOf(err)
		if kind == KindCaptchaFailed {
			e.metricInc(MetricCaptchaFailure)
		}
		e.metricInc(MetricCodeSendFailure)
		e.log.Warn(ctx, "phone code send failed", "account_id", accountID, "intent", intent, "kind", kind.String())
		e.emitAudit(ctx, auditEventCodeSent, false, accountID, intent, err, nil)
		return f.fail(kind, err)
	}
	f.sessionID = sessionID
	f.sentAt = e.clock.Now()
	f.setStateLocked(PhoneCodeSent)
	f.mu.Unlock()

	if resend {
		e.metricInc(MetricCodeResent)
		e.emitAudit(ctx, auditEventCodeResent, true, accountID, intent, nil, nil)
	} else {
		e.metricInc(MetricCodeSent)
		e.emitAudit(ctx, auditEventCodeSent, true, accountID, intent, nil, func() map[string]string {
			return map[string]string{"phone": phone.Mask(number)}
		})
	}
	return nil
}

// SubmitCode confirms a code against the current verification session and,
// on success, applies it according to the flow intent. A code that is not
// CodeLength digits is rejected with a *FieldError before any network call.
func (f *PhoneFlow) SubmitCode(ctx context.Context, code string) (*FlowResult, error) {
	e := f.e
	if !phone.IsCode(code, e.config.Phone.CodeLength) {
		return nil, fieldError("code", "Please enter the 6-digit verification code")
	}

	f.mu.Lock()
	if err := f.checkLocked(PhoneCodeSent); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.failure = nil
	f.busy = true
	f.setStateLocked(PhoneConfirming)
	sessionID := f.sessionID
	f.mu.Unlock()
	defer f.release()

	accountID := f.accountID()
	intent := f.opts.Intent.String()
	callCtx, stop := f.callContext(ctx)
	defer stop()

	start := e.clock.Now()
	cred, err := e.provider.ConfirmPhoneCode(callCtx, sessionID, code)
	e.metricObserve(MetricCodeConfirmLatency, e.clock.Now().Sub(start))

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	if err != nil {
		f.mu.Unlock()
		kind := KindOf(err)
		// A missing, consumed or expired session is reported the same way as
		// a wrong code; the user remedies all of them by resending. Err keeps
		// the provider's kind.
		if kind == KindInvalidSession || kind == KindCodeExpired {
			kind = KindInvalidCode
		}
		e.metricInc(MetricCodeConfirmFailure)
		e.emitAudit(ctx, auditEventCodeConfirm, false, accountID, intent, err, nil)
		return nil, f.failTo(kind, err, confirmRetryState(kind, f.opts.Intent))
	}
	f.sessionID = ""
	f.setStateLocked(PhoneLinkOrEnroll)
	f.mu.Unlock()

	e.metricInc(MetricCodeConfirmSuccess)
	e.emitAudit(ctx, auditEventCodeConfirm, true, accountID, intent, nil, nil)

	in := flows.LinkOrEnrollInput{
		Intent: f.opts.Intent.flowIntent(),
		Proof: flows.PhoneProof{
			SessionID:   cred.SessionID,
			PhoneNumber: cred.PhoneNumber,
			Proof:       cred.Proof,
		},
		DisplayName: f.opts.FactorDisplayName,
	}
	if f.opts.Challenge != nil {
		in.ChallengeSession = f.opts.Challenge.Session
	}

	outcome, err := e.flows.LinkOrEnroll(callCtx, in)
	if err != nil {
		kind := KindOf(err)
		if kind == KindProviderAlreadyLinked {
			kind = KindIncompleteSetup
		}
		e.emitAudit(ctx, linkOrEnrollEvent(f.opts.Intent), false, accountID, intent, err, nil)
		return nil, f.fail(kind, err)
	}

	if outcome.AccountID != "" {
		accountID = outcome.AccountID
	}
	number := cred.PhoneNumber
	if number == "" {
		number = f.phoneNumber()
	}

	// The provider already holds the change, so the status is persisted
	// even if the flow was closed meanwhile.
	result := &FlowResult{
		Intent:        f.opts.Intent,
		AccountID:     accountID,
		PhoneNumber:   number,
		AlreadyLinked: outcome.AlreadyLinked,
		NewAccount:    f.opts.NewAccount,
	}
	result.PersistErr = e.persistFlowOutcome(ctx, f.opts.Intent, accountID, number)
	if st, ok := e.tracker.Status(accountID); ok {
		result.Status = st
	}
	e.recordFlowSuccess(ctx, f.opts.Intent, accountID, outcome.AlreadyLinked, f.opts.NewAccount)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFlowClosed
	}
	f.result = result
	f.setStateLocked(PhoneDone)
	out := *result
	return &out, nil
}

// Resend discards the current verification session and sends a new code.
// It returns ErrResendNotReady until ResendCooldown has passed since the
// last successful send.
func (f *PhoneFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.busy {
		f.mu.Unlock()
		return ErrFlowBusy
	}
	if f.sentAt.IsZero() || (f.state != PhoneCodeSent && f.state != PhoneFailed) {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	if f.resendInLocked() > 0 {
		f.mu.Unlock()
		return ErrResendNotReady
	}
	f.sessionID = ""
	f.failure = nil
	f.setStateLocked(PhoneAwaitingCaptcha)
	f.mu.Unlock()

	return f.sendCode(ctx, true)
}

// ResendIn returns the time left before Resend is allowed.
func (f *PhoneFlow) ResendIn() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resendInLocked()
}

func (f *PhoneFlow) resendInLocked() time.Duration {
	if f.sentAt.IsZero() {
		return 0
	}
	left := f.sentAt.Add(f.e.config.Phone.ResendCooldown).Sub(f.e.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Retry leaves the Failed state for the state the failure allows and
// returns it.
func (f *PhoneFlow) Retry() (PhoneFlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.state, ErrFlowClosed
	}
	if f.state != PhoneFailed || f.failure == nil {
		return f.state, ErrInvalidTransition
	}
	next := f.failure.Retry
	f.failure = nil
	f.setStateLocked(next)
	return next, nil
}

// Close cancels in-flight calls and makes every later call return
// ErrFlowClosed.
func (f *PhoneFlow) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

// State returns the current state.
func (f *PhoneFlow) State() PhoneFlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Failure returns a copy of the last failure, or nil outside Failed.
func (f *PhoneFlow) Failure() *FlowFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure == nil {
		return nil
	}
	out := *f.failure
	return &out
}

// Result returns a copy of the outcome once the flow is Done.
func (f *PhoneFlow) Result() *FlowResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return nil
	}
	out := *f.result
	return &out
}

// Snapshot returns the state, number, failure, result and resend countdown
// read under one lock.
func (f *PhoneFlow) Snapshot() PhoneFlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := PhoneFlowSnapshot{
		State:       f.state,
		Intent:      f.opts.Intent,
		PhoneNumber: f.number,
		ResendIn:    f.resendInLocked(),
	}
	if f.failure != nil {
		fl := *f.failure
		snap.Failure = &fl
	}
	if f.result != nil {
		r := *f.result
		snap.Result = &r
	}
	return snap
}

func (f *PhoneFlow) phoneNumber() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.number
}

func (f *PhoneFlow) accountID() string {
	if f.opts.AccountID != "" {
		return f.opts.AccountID
	}
	if f.e.session != nil {
		return f.e.session.AccountID()
	}
	return ""
}

// checkLocked verifies the flow may act from want. A Failed flow whose
// retry target is want is accepted as well.
func (f *PhoneFlow) checkLocked(want PhoneFlowState) error {
	if f.closed {
		return ErrFlowClosed
	}
	if f.busy {
		return ErrFlowBusy
	}
	if f.state == want {
		return nil
	}
	if f.state == PhoneFailed && f.failure != nil && f.failure.Retry == want {
		return nil
	}
	return ErrInvalidTransition
}

func (f *PhoneFlow) setStateLocked(s PhoneFlowState) {
	if f.state != s {
		f.e.log.Debug(context.Background(), "phone flow transition",
			"intent", f.opts.Intent.String(),
			"from", f.state.String(),
			"to", s.String(),
		)
	}
	f.state = s
}

func (f *PhoneFlow) release() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

// fail moves the flow to Failed and returns err. A closed flow keeps its
// state and reports ErrFlowClosed.
func (f *PhoneFlow) fail(kind ErrorKind, err error) error {
	return f.failTo(kind, err, retryState(kind, f.opts.Intent))
}

func (f *PhoneFlow) failTo(kind ErrorKind, err error, retry PhoneFlowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	f.failure = &FlowFailure{
		Kind:    kind,
		Err:     err,
		Message: kindMessage(kind, err),
		Retry:   retry,
	}
	f.setStateLocked(PhoneFailed)
	return err
}

func kindMessage(kind ErrorKind, err error) string {
	if kind != KindUnknown && kind < errorKindCount {
		return kindMessages[kind]
	}
	return UserMessage(err)
}

// retryState maps a failure kind to the state a retry re-enters.
func retryState(kind ErrorKind, intent PhoneIntent) PhoneFlowState {
	switch kind {
	case KindInvalidCode, KindCodeExpired, KindInvalidSession:
		return PhoneCodeSent
	case KindInvalidPhoneNumber, KindRequiresRecentLogin:
		if intent == IntentResolve {
			return PhoneAwaitingCaptcha
		}
		return PhoneIdle
	default:
		return PhoneAwaitingCaptcha
	}
}

// confirmRetryState is retryState for a failed code confirmation. A
// transient failure leaves the session usable, so the same code may be
// submitted again.
func confirmRetryState(kind ErrorKind, intent PhoneIntent) PhoneFlowState {
	switch kind {
	case KindNetwork, KindUnknown:
		return PhoneCodeSent
	}
	return retryState(kind, intent)
}

// callContext derives a context that is also cancelled by Close.
func (f *PhoneFlow) callContext(ctx context.Context) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.scope, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func linkOrEnrollEvent(intent PhoneIntent) string {
	switch intent {
	case IntentEnroll:
		return auditEventFactorEnrolled
	case IntentResolve:
		return auditEventChallengeResolved
	default:
		return auditEventPhoneLinked
	}
}

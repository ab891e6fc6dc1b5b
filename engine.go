package healthauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/healthauth/internal/flows"
	"github.com/MrEthical07/healthauth/internal/logging"
)

// Engine orchestrates sign-up, sign-in and phone verification over an
// IdentityProvider. Build one with New().…Build() and share it; all methods
// are safe for concurrent use.
type Engine struct {
	config   Config
	provider IdentityProvider
	captcha  CaptchaVerifier
	profiles ProfileStore
	local    LocalStore
	keys     cacheKeys
	tracker  *VerificationTracker
	session  *Session
	clock    Clock
	log      logging.Logger
	audit    *auditDispatcher
	metrics  *Metrics
	flows    flows.Service
}

// Start initializes the session context by subscribing to the provider's
// auth-state stream.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	return e.session.Init(ctx)
}

// Close disposes the session context and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.session != nil {
		e.session.Dispose()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Session returns the engine's session context.
func (e *Engine) Session() *Session {
	if e == nil {
		return nil
	}
	return e.session
}

// Tracker returns the engine's verification status tracker.
func (e *Engine) Tracker() *VerificationTracker {
	if e == nil {
		return nil
	}
	return e.tracker
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies every counter and histogram.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// NewPhoneFlow starts a phone verification flow. Enrollment is rejected
// with ErrPhoneNotVerified before any network call when the account has no
// verified phone; resolve flows need a challenge.
func (e *Engine) NewPhoneFlow(ctx context.Context, opts PhoneFlowOptions) (*PhoneFlow, error) {
	if e == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}

	switch opts.Intent {
	case IntentResolve:
		if opts.Challenge == nil || opts.Challenge.Session == "" {
			return nil, fieldError("challenge", "Missing verification details. Please sign in again.")
		}
		if _, ok := challengeHint(opts.Challenge, opts.HintID); !ok {
			return nil, fieldError("hint", "No enrolled phone matches this sign-in.")
		}
	case IntentEnroll, IntentLink, IntentStandalone:
		if opts.AccountID == "" {
			opts.AccountID = e.session.AccountID()
		}
		if opts.AccountID == "" {
			return nil, ErrNotSignedIn
		}
		if opts.Intent == IntentEnroll {
			if err := e.requirePhoneVerified(ctx, opts.AccountID); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrInvalidTransition
	}

	return newPhoneFlow(e, opts), nil
}

func (e *Engine) requirePhoneVerified(ctx context.Context, accountID string) error {
	st, err := e.tracker.Current(ctx, accountID)
	if err != nil && !st.PhoneVerified {
		e.log.Warn(ctx, "verification status unavailable for enrollment", "account_id", accountID, "error", err)
	}
	if st.PhoneVerified {
		return nil
	}
	e.metricInc(MetricEnrollRejectedUnverified)
	e.emitAudit(ctx, auditEventEnrollRejected, false, accountID, IntentEnroll.String(), ErrPhoneNotVerified, nil)
	return ErrPhoneNotVerified
}

// persistFlowOutcome records a completed flow in the verification tracker.
func (e *Engine) persistFlowOutcome(ctx context.Context, intent PhoneIntent, accountID, number string) error {
	switch intent {
	case IntentStandalone, IntentLink:
		return e.tracker.MarkPhoneVerified(ctx, accountID, number)
	case IntentEnroll:
		if err := e.tracker.MarkPhoneVerified(ctx, accountID, number); err != nil {
			twoErr := e.tracker.MarkTwoFactorEnabled(ctx, accountID, true)
			return errors.Join(err, twoErr)
		}
		return e.tracker.MarkTwoFactorEnabled(ctx, accountID, true)
	default:
		return nil
	}
}

func (e *Engine) recordFlowSuccess(ctx context.Context, intent PhoneIntent, accountID string, alreadyLinked, newAccount bool) {
	meta := func() map[string]string {
		return map[string]string{
			"already_linked": boolString(alreadyLinked),
			"new_account":    boolString(newAccount),
		}
	}
	if alreadyLinked {
		e.emitAudit(ctx, auditEventAlreadyLinked, true, accountID, intent.String(), nil, nil)
	}
	switch intent {
	case IntentStandalone, IntentLink:
		e.metricInc(MetricPhoneLinked)
		e.emitAudit(ctx, auditEventPhoneLinked, true, accountID, intent.String(), nil, meta)
	case IntentEnroll:
		e.metricInc(MetricSecondFactorEnrolled)
		e.emitAudit(ctx, auditEventFactorEnrolled, true, accountID, intent.String(), nil, meta)
	case IntentResolve:
		e.metricInc(MetricChallengeResolved)
		e.emitAudit(ctx, auditEventChallengeResolved, true, accountID, intent.String(), nil, nil)
	}
}

func (e *Engine) currentAccountID() (string, error) {
	if e == nil || e.session == nil {
		return "", ErrEngineNotReady
	}
	if id := e.session.AccountID(); id != "" {
		return id, nil
	}
	if acct := e.provider.CurrentAccount(); acct != nil {
		return acct.ID, nil
	}
	return "", ErrNotSignedIn
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		SignIn: flows.SignInDeps{
			BypassPhoneVerification: e.config.Session.BypassPhoneVerification,
			ValidateCredentials:     validateSignInInput,
			SignIn: func(ctx context.Context, email, password string) (flows.SignInAccount, error) {
				acct, err := e.provider.SignIn(ctx, email, password)
				if err != nil {
					return flows.SignInAccount{}, err
				}
				return toFlowAccount(acct), nil
			},
			Reload: func(ctx context.Context) (flows.SignInAccount, error) {
				acct, err := e.provider.ReloadAccount(ctx)
				if err != nil {
					return flows.SignInAccount{}, err
				}
				return toFlowAccount(acct), nil
			},
			SendEmailVerification: e.provider.SendEmailVerification,
			SignOut:               e.provider.SignOut,
			SyncEmailVerified: func(ctx context.Context, accountID string) error {
				st, _ := e.tracker.Status(accountID)
				if st.EmailVerified {
					return nil
				}
				return e.tracker.MarkEmailVerified(ctx, accountID, true)
			},
			LoadStatus: func(ctx context.Context, accountID string) (flows.SignInStatus, error) {
				st, err := e.tracker.Load(ctx, accountID)
				return flows.SignInStatus{
					EmailVerified: st.EmailVerified,
					PhoneVerified: st.PhoneVerified,
					PhoneNumber:   st.PhoneNumber,
				}, err
			},
			IsSecondFactorRequired: func(err error) bool {
				_, ok := ChallengeOf(err)
				return ok
			},
			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit: func(ctx context.Context, event string, success bool, accountID string, err error, meta func() map[string]string) {
				e.emitAudit(ctx, event, success, accountID, "", err, meta)
			},
			Warn: e.log.Warn,
			Metrics: flows.SignInMetrics{
				Success:               int(MetricSignInSuccess),
				Failure:               int(MetricSignInFailure),
				SecondFactorRequired:  int(MetricSignInSecondFactorRequired),
				EmailUnverified:       int(MetricSignInEmailUnverified),
				PhoneUnverified:       int(MetricSignInPhoneUnverified),
				EmailVerificationSent: int(MetricEmailVerificationSent),
			},
			Events: flows.SignInEvents{
				SignIn:                auditEventSignIn,
				SecondFactorRequired:  auditEventSecondFactorRequired,
				EmailVerificationSent: auditEventEmailVerification,
			},
			Errors: flows.SignInErrors{
				EngineNotReady:   ErrEngineNotReady,
				EmailNotVerified: ErrEmailNotVerified,
			},
		},
		LinkOrEnroll: flows.LinkOrEnrollDeps{
			LinkPhone: func(ctx context.Context, p flows.PhoneProof) error {
				return e.provider.LinkPhone(ctx, fromFlowProof(p))
			},
			EnrollSecondFactor: func(ctx context.Context, p flows.PhoneProof, name string) error {
				return e.provider.EnrollSecondFactor(ctx, fromFlowProof(p), name)
			},
			CountFactors: func(ctx context.Context) (int, error) {
				factors, err := e.provider.ListEnrolledFactors(ctx)
				return len(factors), err
			},
			ResolveSecondFactor: func(ctx context.Context, session string, p flows.PhoneProof) (string, error) {
				acct, err := e.provider.ResolveSecondFactor(ctx, &ChallengeContext{Session: session}, fromFlowProof(p))
				if err != nil {
					return "", err
				}
				return acct.ID, nil
			},
			IsAlreadyLinked: func(err error) bool {
				return KindOf(err) == KindProviderAlreadyLinked
			},
			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			Warn:      e.log.Warn,
			Metrics: flows.LinkOrEnrollMetrics{
				AlreadyLinkedAccepted: int(MetricAlreadyLinkedAccepted),
				IncompleteSetup:       int(MetricIncompleteSetup),
			},
			Errors: flows.LinkOrEnrollErrors{
				EngineNotReady:  ErrEngineNotReady,
				IncompleteSetup: NewProviderError(OpEnrollSecondFactor, KindIncompleteSetup, nil),
			},
		},
	}
}

func toFlowAccount(a *Account) flows.SignInAccount {
	if a == nil {
		return flows.SignInAccount{}
	}
	return flows.SignInAccount{ID: a.ID, Email: a.Email, EmailVerified: a.EmailVerified}
}

func fromFlowProof(p flows.PhoneProof) Credential {
	return Credential{SessionID: p.SessionID, PhoneNumber: p.PhoneNumber, Proof: p.Proof}
}

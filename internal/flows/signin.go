package flows

import "context"

// SignInNext is the step the caller must take after a sign-in attempt.
type SignInNext uint8

const (
	NextNone SignInNext = iota
	NextAuthenticated
	NextVerifyEmail
	NextVerifyPhone
	NextResolveChallenge
)

// SignInAccount is the flow-local account view.
type SignInAccount struct {
	ID            string
	Email         string
	EmailVerified bool
}

// SignInStatus is the flow-local verification status view.
type SignInStatus struct {
	EmailVerified bool
	PhoneVerified bool
	PhoneNumber   string
}

// SignInResult is the flow-local sign-in response shape. Err is set for
// every outcome except NextAuthenticated and NextVerifyPhone. For
// NextResolveChallenge it is the provider error carrying the challenge.
type SignInResult struct {
	Next    SignInNext
	Account SignInAccount
	Status  SignInStatus
	Err     error
}

// SignInMetrics carries metric IDs needed by the sign-in flow.
type SignInMetrics struct {
	Success               int
	Failure               int
	SecondFactorRequired  int
	EmailUnverified       int
	PhoneUnverified       int
	EmailVerificationSent int
}

// SignInEvents carries audit event names used by the sign-in flow.
type SignInEvents struct {
	SignIn                string
	SecondFactorRequired  string
	EmailVerificationSent string
}

// SignInErrors carries host-level sentinel errors used by the sign-in flow.
type SignInErrors struct {
	EngineNotReady   error
	EmailNotVerified error
}

// SignInDeps captures sign-in dependencies.
type SignInDeps struct {
	BypassPhoneVerification bool

	ValidateCredentials    func(email, password string) error
	SignIn                 func(context.Context, string, string) (SignInAccount, error)
	Reload                 func(context.Context) (SignInAccount, error)
	SendEmailVerification  func(context.Context) error
	SignOut                func(context.Context) error
	SyncEmailVerified      func(context.Context, string) error
	LoadStatus             func(context.Context, string) (SignInStatus, error)
	IsSecondFactorRequired func(error) bool

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)
	Warn      func(context.Context, string, ...any)

	Metrics SignInMetrics
	Events  SignInEvents
	Errors  SignInErrors
}

// RunSignIn signs in with email and password and decides the next step.
// Access is granted only when the email is verified and the phone is
// verified, or phone verification is bypassed.
func RunSignIn(ctx context.Context, email, password string, deps SignInDeps) SignInResult {
	if deps.SignIn == nil || deps.LoadStatus == nil {
		return SignInResult{Err: deps.Errors.EngineNotReady}
	}

	if deps.ValidateCredentials != nil {
		if err := deps.ValidateCredentials(email, password); err != nil {
			metricInc(deps.MetricInc, deps.Metrics.Failure)
			return SignInResult{Err: err}
		}
	}

	acct, err := deps.SignIn(ctx, email, password)
	if err != nil {
		if deps.IsSecondFactorRequired != nil && deps.IsSecondFactorRequired(err) {
			metricInc(deps.MetricInc, deps.Metrics.SecondFactorRequired)
			emitAudit(ctx, deps, deps.Events.SecondFactorRequired, true, "", nil, nil)
			return SignInResult{Next: NextResolveChallenge, Err: err}
		}
		metricInc(deps.MetricInc, deps.Metrics.Failure)
		emitAudit(ctx, deps, deps.Events.SignIn, false, "", err, nil)
		return SignInResult{Err: err}
	}

	if deps.Reload != nil {
		reloaded, reloadErr := deps.Reload(ctx)
		if reloadErr != nil {
			warn(ctx, deps.Warn, "account reload failed after sign-in", "account_id", acct.ID, "error", reloadErr)
		} else {
			acct = reloaded
		}
	}

	if !acct.EmailVerified {
		if deps.SendEmailVerification != nil {
			if sendErr := deps.SendEmailVerification(ctx); sendErr != nil {
				warn(ctx, deps.Warn, "verification email not sent", "account_id", acct.ID, "error", sendErr)
			} else {
				metricInc(deps.MetricInc, deps.Metrics.EmailVerificationSent)
				emitAudit(ctx, deps, deps.Events.EmailVerificationSent, true, acct.ID, nil, nil)
			}
		}
		if deps.SignOut != nil {
			if outErr := deps.SignOut(ctx); outErr != nil {
				warn(ctx, deps.Warn, "sign-out of unverified account failed", "account_id", acct.ID, "error", outErr)
			}
		}
		metricInc(deps.MetricInc, deps.Metrics.EmailUnverified)
		emitAudit(ctx, deps, deps.Events.SignIn, false, acct.ID, deps.Errors.EmailNotVerified, nil)
		return SignInResult{Next: NextVerifyEmail, Account: acct, Err: deps.Errors.EmailNotVerified}
	}

	if deps.SyncEmailVerified != nil {
		if syncErr := deps.SyncEmailVerified(ctx, acct.ID); syncErr != nil {
			warn(ctx, deps.Warn, "email verification flag not persisted", "account_id", acct.ID, "error", syncErr)
		}
	}

	status, err := deps.LoadStatus(ctx, acct.ID)
	if err != nil {
		warn(ctx, deps.Warn, "verification status load failed", "account_id", acct.ID, "error", err)
	}
	status.EmailVerified = true

	if !status.PhoneVerified && !deps.BypassPhoneVerification {
		metricInc(deps.MetricInc, deps.Metrics.PhoneUnverified)
		emitAudit(ctx, deps, deps.Events.SignIn, true, acct.ID, nil, func() map[string]string {
			return map[string]string{"next": "verify_phone"}
		})
		return SignInResult{Next: NextVerifyPhone, Account: acct, Status: status}
	}

	metricInc(deps.MetricInc, deps.Metrics.Success)
	emitAudit(ctx, deps, deps.Events.SignIn, true, acct.ID, nil, nil)
	return SignInResult{Next: NextAuthenticated, Account: acct, Status: status}
}

func emitAudit(
	ctx context.Context,
	deps SignInDeps,
	event string,
	success bool,
	accountID string,
	err error,
	meta func() map[string]string,
) {
	if deps.EmitAudit != nil {
		deps.EmitAudit(ctx, event, success, accountID, err, meta)
	}
}

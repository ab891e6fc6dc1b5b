package healthauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/healthauth/internal/flows"
)

// SignInNext is the step the caller takes after SignIn.
type SignInNext uint8

const (
	// NextAuthenticated grants access to the application.
	NextAuthenticated SignInNext = iota + 1
	// NextVerifyEmail blocks entry; the account was signed out and a
	// verification email sent.
	NextVerifyEmail
	// NextVerifyPhone requires the returned standalone phone flow.
	NextVerifyPhone
	// NextResolveChallenge requires the returned resolve phone flow.
	NextResolveChallenge
)

func (n SignInNext) String() string {
	switch n {
	case NextAuthenticated:
		return "authenticated"
	case NextVerifyEmail:
		return "verify_email"
	case NextVerifyPhone:
		return "verify_phone"
	case NextResolveChallenge:
		return "resolve_challenge"
	default:
		return "none"
	}
}

// SignInResult is the outcome of a sign-in attempt that reached the
// provider. Flow is set for NextVerifyPhone and NextResolveChallenge.
type SignInResult struct {
	Next      SignInNext
	Account   *Account
	Status    VerificationStatus
	Flow      *PhoneFlow
	Challenge *ChallengeContext
}

func validateSignInInput(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return fieldError("form", "Please enter your email and password")
	}
	return nil
}

// SignIn signs in with email and password and decides what must happen
// before access is granted. An unverified email returns NextVerifyEmail
// together with ErrEmailNotVerified.
func (e *Engine) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.SignIn(ctx, strings.TrimSpace(email), password)
	out := &SignInResult{
		Status: VerificationStatus{
			EmailVerified: res.Status.EmailVerified,
			PhoneVerified: res.Status.PhoneVerified,
			PhoneNumber:   res.Status.PhoneNumber,
		},
	}
	if res.Account.ID != "" {
		out.Account = &Account{
			ID:            res.Account.ID,
			Email:         res.Account.Email,
			EmailVerified: res.Account.EmailVerified,
		}
		if cur := e.provider.CurrentAccount(); cur != nil && cur.ID == res.Account.ID {
			cp := *cur
			out.Account = &cp
		}
		if st, ok := e.tracker.Status(res.Account.ID); ok {
			out.Status = st
			out.Status.EmailVerified = out.Status.EmailVerified || res.Account.EmailVerified
		}
	}

	switch res.Next {
	case flows.NextResolveChallenge:
		ch, _ := ChallengeOf(res.Err)
		out.Next = NextResolveChallenge
		out.Challenge = ch
		flow, err := e.NewPhoneFlow(ctx, PhoneFlowOptions{Intent: IntentResolve, Challenge: ch})
		if err != nil {
			return nil, err
		}
		out.Flow = flow
		return out, nil

	case flows.NextVerifyEmail:
		out.Next = NextVerifyEmail
		return out, res.Err

	case flows.NextVerifyPhone:
		out.Next = NextVerifyPhone
		flow := newPhoneFlow(e, PhoneFlowOptions{
			Intent:    IntentStandalone,
			AccountID: res.Account.ID,
		})
		if res.Status.PhoneNumber != "" {
			flow.prefill(res.Status.PhoneNumber)
		}
		out.Flow = flow
		return out, nil

	case flows.NextAuthenticated:
		out.Next = NextAuthenticated
		return out, nil
	}

	if res.Err == nil {
		return nil, ErrEngineNotReady
	}
	return nil, res.Err
}

// SignOut flushes any pending verification write, signs out and clears the
// account's cached fields. The device onboarding flag is kept.
func (e *Engine) SignOut(ctx context.Context) error {
	if e == nil || e.provider == nil {
		return ErrEngineNotReady
	}
	accountID := e.session.AccountID()
	if accountID != "" {
		if err := e.tracker.Flush(ctx, accountID); err != nil {
			e.log.Warn(ctx, "pending verification status not flushed before sign-out", "account_id", accountID, "error", err)
		}
	}

	if err := e.provider.SignOut(ctx); err != nil {
		e.emitAudit(ctx, auditEventSignOut, false, accountID, "", err, nil)
		return err
	}
	if e.session.AccountID() != "" {
		e.session.OnAuthChange(ctx, nil)
	}

	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignOut, true, accountID, "", nil, nil)
	return nil
}

// ResendVerificationEmail sends another verification email to the current
// account.
func (e *Engine) ResendVerificationEmail(ctx context.Context) error {
	if e == nil || e.provider == nil {
		return ErrEngineNotReady
	}
	acct := e.provider.CurrentAccount()
	if acct == nil {
		return ErrNotSignedIn
	}
	if err := e.provider.SendEmailVerification(ctx); err != nil {
		e.emitAudit(ctx, auditEventEmailVerification, false, acct.ID, "", err, nil)
		return err
	}
	e.metricInc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventEmailVerification, true, acct.ID, "", nil, nil)
	return nil
}

// CheckEmailVerified reloads the current account and, once its email is
// verified, records it in the profile and session. Callers poll it while
// the user confirms the email.
func (e *Engine) CheckEmailVerified(ctx context.Context) (bool, error) {
	if e == nil || e.provider == nil {
		return false, ErrEngineNotReady
	}
	if e.provider.CurrentAccount() == nil {
		return false, ErrNotSignedIn
	}
	acct, err := e.provider.ReloadAccount(ctx)
	if err != nil {
		return false, err
	}
	if !acct.EmailVerified {
		return false, nil
	}

	if st, ok := e.tracker.Status(acct.ID); !ok || !st.EmailVerified {
		if err := e.tracker.MarkEmailVerified(ctx, acct.ID, true); err != nil {
			e.log.Warn(ctx, "email verification flag not persisted", "account_id", acct.ID, "error", err)
		}
	}
	e.session.Refresh(ctx)
	return true, nil
}

// SendPasswordReset requests a password reset email. Unknown addresses are
// reported by the provider as KindUserNotFound.
func (e *Engine) SendPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.provider == nil {
		return ErrEngineNotReady
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fieldError("email", "Please enter your email address")
	}
	if !emailPattern.MatchString(email) {
		return fieldError("email", "Please enter a valid email address.")
	}
	if err := e.provider.SendPasswordResetEmail(ctx, email); err != nil {
		e.emitAudit(ctx, auditEventPasswordReset, false, "", "", err, nil)
		return err
	}
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordReset, true, "", "", nil, nil)
	return nil
}

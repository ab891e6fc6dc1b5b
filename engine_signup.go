package healthauth

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrEthical07/healthauth/phone"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SignUpRequest is the sign-up form. CallingCode is the selected country's
// calling code; PhoneNumber is the subscriber number as typed.
type SignUpRequest struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
	CallingCode     string
	PhoneNumber     string
}

// SignUpResult carries the new account and the phone verification flow the
// caller must complete before the account is granted access. ProfileErr is
// set when the profile document could not be written; the session creates
// a default document on the next load.
type SignUpResult struct {
	Account    *Account
	Flow       *PhoneFlow
	ProfileErr error
}

func (r SignUpRequest) validate(minLength int) (string, error) {
	if strings.TrimSpace(r.FirstName) == "" ||
		strings.TrimSpace(r.LastName) == "" ||
		strings.TrimSpace(r.Email) == "" ||
		r.Password == "" ||
		r.ConfirmPassword == "" {
		return "", fieldError("form", "Please fill out all required fields.")
	}
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return "", fieldError("phoneNumber", "Phone number is required for account verification.")
	}
	if len(r.Password) < minLength {
		return "", fieldError("password", "Password must be at least 8 characters long.")
	}
	if !emailPattern.MatchString(strings.TrimSpace(r.Email)) {
		return "", fieldError("email", "Please enter a valid email address.")
	}
	if r.Password != r.ConfirmPassword {
		return "", fieldError("confirmPassword", "Passwords do not match")
	}
	number, err := phone.Format(r.CallingCode, r.PhoneNumber)
	if err != nil {
		return "", fieldError("phoneNumber", "Invalid phone number format. Please check your country code and number.")
	}
	return number, nil
}

// SignUp creates the account, sends the verification email, writes the
// profile document with every verification flag false and returns a
// standalone phone flow already past phone entry.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	if e == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}

	number, err := req.validate(e.config.Password.MinLength)
	if err != nil {
		e.metricInc(MetricSignUpFailure)
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)

	acct, err := e.provider.CreateAccount(ctx, email, req.Password)
	if err != nil {
		e.metricInc(MetricSignUpFailure)
		e.emitAudit(ctx, auditEventSignUp, false, "", "", err, nil)
		return nil, err
	}

	name := first + " " + last
	if err := e.provider.UpdateDisplayName(ctx, name); err != nil {
		e.log.Warn(ctx, "display name not set", "account_id", acct.ID, "error", err)
	} else {
		acct.DisplayName = name
	}

	if err := e.provider.SendEmailVerification(ctx); err != nil {
		e.log.Warn(ctx, "verification email not sent", "account_id", acct.ID, "error", err)
	} else {
		e.metricInc(MetricEmailVerificationSent)
		e.emitAudit(ctx, auditEventEmailVerification, true, acct.ID, "", nil, nil)
	}

	result := &SignUpResult{Account: acct}
	if err := e.writeSignUpProfile(ctx, acct, first, last, number); err != nil {
		e.metricInc(MetricProfileWriteFailure)
		e.log.Warn(ctx, "sign-up profile not written", "account_id", acct.ID, "error", err)
		result.ProfileErr = err
	}
	e.session.Refresh(ctx)

	flow := newPhoneFlow(e, PhoneFlowOptions{
		Intent:     IntentStandalone,
		AccountID:  acct.ID,
		NewAccount: true,
	})
	flow.prefill(number)
	result.Flow = flow

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUp, true, acct.ID, "", nil, nil)
	return result, nil
}

func (e *Engine) writeSignUpProfile(ctx context.Context, acct *Account, first, last, number string) error {
	doc := defaultProfile(acct, e.clock.Now())
	doc.Name = first + " " + last
	doc.FirstName = first
	doc.LastName = last
	doc.PhoneNumber = number
	doc.PhoneVerified = false
	doc.EmailVerified = false
	doc.TwoFactorEnabled = false

	created, err := e.profiles.CreateProfile(ctx, acct.ID, doc)
	if err != nil || created {
		return err
	}

	// The session may have created a default document first.
	_, err = e.profiles.UpdateProfile(ctx, acct.ID, func(p *Profile) error {
		p.Name = doc.Name
		p.FirstName = first
		p.LastName = last
		p.Email = doc.Email
		if !p.PhoneVerified {
			p.PhoneNumber = number
		}
		return nil
	})
	return err
}

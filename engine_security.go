package healthauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/healthauth/phone"
)

// SecurityStatus is the security screen's view of the account.
type SecurityStatus struct {
	Status  VerificationStatus
	Factors []Factor
}

// TwoFactorSetup is an enroll-intent phone flow. When the stored phone
// number parses against the configured countries, Country and Subscriber
// hold the split and the flow is already past phone entry.
type TwoFactorSetup struct {
	Flow       *PhoneFlow
	Country    phone.Country
	Subscriber string
}

// SecurityStatus loads the verification status and the enrolled factors.
// The factor list wins over the stored twoFactorEnabled flag; a mismatch is
// written back.
func (e *Engine) SecurityStatus(ctx context.Context) (*SecurityStatus, error) {
	accountID, err := e.currentAccountID()
	if err != nil {
		return nil, err
	}

	st, err := e.tracker.Load(ctx, accountID)
	if err != nil {
		e.log.Warn(ctx, "verification status load failed", "account_id", accountID, "error", err)
	}

	factors, err := e.provider.ListEnrolledFactors(ctx)
	if err != nil {
		return &SecurityStatus{Status: st}, err
	}

	enabled := len(factors) > 0
	if enabled != st.TwoFactorEnabled {
		if enabled && !st.PhoneVerified && phone.ValidE164(factors[0].PhoneNumber) {
			if err := e.tracker.MarkPhoneVerified(ctx, accountID, factors[0].PhoneNumber); err != nil {
				e.log.Warn(ctx, "phone verification not persisted", "account_id", accountID, "error", err)
			}
		}
		if err := e.tracker.MarkTwoFactorEnabled(ctx, accountID, enabled); err != nil {
			e.log.Warn(ctx, "two-factor flag not reconciled", "account_id", accountID, "error", err)
		} else {
			e.metricInc(MetricStatusReconciled)
		}
		if cur, ok := e.tracker.Status(accountID); ok {
			st = cur
		}
	}

	return &SecurityStatus{Status: st, Factors: factors}, nil
}

// BeginEnableTwoFactor re-authenticates and returns an enroll-intent phone
// flow for the account's verified phone. An account without a verified
// phone is rejected with ErrPhoneNotVerified before any provider call.
func (e *Engine) BeginEnableTwoFactor(ctx context.Context, password string) (*TwoFactorSetup, error) {
	accountID, err := e.currentAccountID()
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fieldError("password", "Please enter your password")
	}
	if err := e.requirePhoneVerified(ctx, accountID); err != nil {
		return nil, err
	}

	if err := e.provider.Reauthenticate(ctx, password); err != nil {
		return nil, err
	}

	flow := newPhoneFlow(e, PhoneFlowOptions{
		Intent:            IntentEnroll,
		AccountID:         accountID,
		FactorDisplayName: "Phone",
	})
	setup := &TwoFactorSetup{Flow: flow}

	st, _ := e.tracker.Status(accountID)
	if st.PhoneNumber != "" {
		// First configured country whose calling code prefixes the number
		// wins; countries sharing a calling code are not told apart.
		country, subscriber, err := phone.Parse(st.PhoneNumber, e.config.Phone.Countries)
		if err == nil {
			setup.Country = country
			setup.Subscriber = subscriber
			flow.prefill(st.PhoneNumber)
		}
	}
	if setup.Country.Code == "" {
		setup.Country, _ = phone.Lookup(e.config.Phone.Countries, e.config.Phone.DefaultCountry)
	}
	return setup, nil
}

// DisableTwoFactor re-authenticates, unenrolls the first enrolled factor
// and clears the twoFactorEnabled flag.
func (e *Engine) DisableTwoFactor(ctx context.Context, password string) error {
	accountID, err := e.currentAccountID()
	if err != nil {
		return err
	}
	if password == "" {
		return fieldError("password", "Please enter your password")
	}
	if err := e.provider.Reauthenticate(ctx, password); err != nil {
		e.emitAudit(ctx, auditEventFactorDisabled, false, accountID, "", err, nil)
		return err
	}

	factors, err := e.provider.ListEnrolledFactors(ctx)
	if err != nil {
		return err
	}
	if len(factors) == 0 {
		if err := e.tracker.MarkTwoFactorEnabled(ctx, accountID, false); err != nil {
			e.log.Warn(ctx, "two-factor flag not cleared", "account_id", accountID, "error", err)
		}
		return ErrTwoFactorNotEnabled
	}

	if err := e.provider.UnenrollSecondFactor(ctx, factors[0].ID); err != nil {
		e.emitAudit(ctx, auditEventFactorDisabled, false, accountID, "", err, nil)
		return err
	}

	persistErr := e.tracker.MarkTwoFactorEnabled(ctx, accountID, false)
	e.metricInc(MetricSecondFactorDisabled)
	e.emitAudit(ctx, auditEventFactorDisabled, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"factor_id": factors[0].ID}
	})
	return persistErr
}

// ChangePassword validates the form, re-authenticates with current and
// sets next. A wrong current password is reported as "The current password
// is incorrect" while keeping KindWrongPassword.
func (e *Engine) ChangePassword(ctx context.Context, current, next, confirm string) error {
	accountID, err := e.currentAccountID()
	if err != nil {
		return err
	}

	switch {
	case current == "":
		return fieldError("currentPassword", "Current password is required")
	case next == "":
		return fieldError("newPassword", "New password is required")
	case len(next) < e.config.Password.MinLength:
		return fieldError("newPassword", "Password must be at least 8 characters")
	case confirm == "":
		return fieldError("confirmPassword", "Please confirm your password")
	case next != confirm:
		return fieldError("confirmPassword", "Passwords do not match")
	case next == current:
		return fieldError("newPassword", "New password must be different from the current password")
	}

	if err := e.provider.Reauthenticate(ctx, current); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, accountID, "", err, nil)
		if KindOf(err) == KindWrongPassword {
			return errors.Join(fieldError("currentPassword", "The current password is incorrect"), err)
		}
		return err
	}

	if err := e.provider.UpdatePassword(ctx, next); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, accountID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, accountID, "", nil, nil)
	return nil
}

package healthauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignUp               = "sign_up"
	auditEventSignIn               = "sign_in"
	auditEventSignOut              = "sign_out"
	auditEventSecondFactorRequired = "second_factor_required"
	auditEventCaptchaFailed        = "captcha_failed"
	auditEventCodeSent             = "phone_code_sent"
	auditEventCodeResent           = "phone_code_resent"
	auditEventCodeConfirm          = "phone_code_confirm"
	auditEventPhoneLinked          = "phone_linked"
	auditEventFactorEnrolled       = "second_factor_enrolled"
	auditEventFactorDisabled       = "second_factor_disabled"
	auditEventChallengeResolved    = "second_factor_resolved"
	auditEventAlreadyLinked        = "provider_already_linked"
	auditEventEnrollRejected       = "enroll_rejected_unverified"
	auditEventStatusWriteFailed    = "verification_status_write_failed"
	auditEventPasswordChange       = "password_change"
	auditEventPasswordReset        = "password_reset_request"
	auditEventEmailVerification    = "email_verification_sent"
)

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	intent string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Intent:    intent,
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.ErrorKind = auditErrorKind(err)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorKind names err by its provider kind, falling back to the
// engine sentinel it matches.
func auditErrorKind(err error) string {
	if kind := KindOf(err); kind != KindUnknown {
		return kind.String()
	}
	switch {
	case errors.Is(err, ErrPhoneNotVerified):
		return "phone_not_verified"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrResendNotReady):
		return "resend_not_ready"
	case errors.Is(err, ErrFlowClosed):
		return "flow_closed"
	case errors.Is(err, ErrBackend):
		return "backend_unavailable"
	default:
		return KindUnknown.String()
	}
}

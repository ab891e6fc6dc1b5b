package internaldefs

import (
	healthauth "github.com/MrEthical07/healthauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   healthauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   healthauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: healthauth.MetricSignUpSuccess, Name: "healthauth_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: healthauth.MetricSignUpFailure, Name: "healthauth_sign_up_failure_total", Help: "Rejected or failed sign-ups."},
	{ID: healthauth.MetricSignInSuccess, Name: "healthauth_sign_in_success_total", Help: "Sign-ins that granted access."},
	{ID: healthauth.MetricSignInFailure, Name: "healthauth_sign_in_failure_total", Help: "Failed sign-in attempts."},
	{ID: healthauth.MetricSignInSecondFactorRequired, Name: "healthauth_sign_in_second_factor_required_total", Help: "Sign-ins stopped for a second factor."},
	{ID: healthauth.MetricSignInEmailUnverified, Name: "healthauth_sign_in_email_unverified_total", Help: "Sign-ins blocked on an unverified email."},
	{ID: healthauth.MetricSignInPhoneUnverified, Name: "healthauth_sign_in_phone_unverified_total", Help: "Sign-ins redirected to phone verification."},
	{ID: healthauth.MetricSignOut, Name: "healthauth_sign_out_total", Help: "Sign-outs."},
	{ID: healthauth.MetricCaptchaFailure, Name: "healthauth_captcha_failure_total", Help: "CAPTCHA challenges that failed."},
	{ID: healthauth.MetricCodeSent, Name: "healthauth_phone_code_sent_total", Help: "Phone verification codes sent."},
	{ID: healthauth.MetricCodeSendFailure, Name: "healthauth_phone_code_send_failure_total", Help: "Phone verification code sends that failed."},
	{ID: healthauth.MetricCodeResent, Name: "healthauth_phone_code_resent_total", Help: "Phone verification codes resent after the countdown."},
	{ID: healthauth.MetricCodeConfirmSuccess, Name: "healthauth_phone_code_confirm_success_total", Help: "Confirmed phone verification codes."},
	{ID: healthauth.MetricCodeConfirmFailure, Name: "healthauth_phone_code_confirm_failure_total", Help: "Rejected phone verification codes."},
	{ID: healthauth.MetricPhoneLinked, Name: "healthauth_phone_linked_total", Help: "Phones verified or linked."},
	{ID: healthauth.MetricAlreadyLinkedAccepted, Name: "healthauth_already_linked_accepted_total", Help: "Already-linked conflicts accepted after re-check."},
	{ID: healthauth.MetricIncompleteSetup, Name: "healthauth_incomplete_setup_total", Help: "Already-linked conflicts with no enrolled factor."},
	{ID: healthauth.MetricSecondFactorEnrolled, Name: "healthauth_second_factor_enrolled_total", Help: "Second factors enrolled."},
	{ID: healthauth.MetricSecondFactorDisabled, Name: "healthauth_second_factor_disabled_total", Help: "Second factors disabled."},
	{ID: healthauth.MetricChallengeResolved, Name: "healthauth_challenge_resolved_total", Help: "Sign-in second-factor challenges resolved."},
	{ID: healthauth.MetricEnrollRejectedUnverified, Name: "healthauth_enroll_rejected_unverified_total", Help: "Enrollments rejected for an unverified phone."},
	{ID: healthauth.MetricStatusWriteFailure, Name: "healthauth_status_write_failure_total", Help: "Verification status writes that did not reach the profile store."},
	{ID: healthauth.MetricStatusReconciled, Name: "healthauth_status_reconciled_total", Help: "Cached verification status overwritten by the remote value."},
	{ID: healthauth.MetricPasswordChangeSuccess, Name: "healthauth_password_change_success_total", Help: "Successful password changes."},
	{ID: healthauth.MetricPasswordChangeFailure, Name: "healthauth_password_change_failure_total", Help: "Failed password changes."},
	{ID: healthauth.MetricPasswordResetRequest, Name: "healthauth_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: healthauth.MetricEmailVerificationSent, Name: "healthauth_email_verification_sent_total", Help: "Verification emails sent."},
	{ID: healthauth.MetricProfileWriteFailure, Name: "healthauth_profile_write_failure_total", Help: "Profile document writes rejected by storage."},
}

var HistogramDefs = []HistogramDef{
	{ID: healthauth.MetricCodeConfirmLatency, Name: "healthauth_phone_code_confirm_latency_seconds", Help: "Phone code confirmation latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

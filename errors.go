package healthauth

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure kinds an IdentityProvider may
// report. Every provider error is decided into exactly one kind at the
// provider boundary.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindEmailInUse
	KindWeakPassword
	KindInvalidEmail
	KindWrongPassword
	KindUserNotFound
	KindUserDisabled
	KindTooManyAttempts
	KindSecondFactorRequired
	KindInvalidPhoneNumber
	KindQuotaExceeded
	KindCaptchaFailed
	KindInvalidCode
	KindCodeExpired
	KindInvalidSession
	KindProviderAlreadyLinked
	KindRequiresRecentLogin
	KindIncompleteSetup
	KindStorageUnauthorized
	KindStorageQuota
	KindNetwork
	errorKindCount
)

var kindNames = [errorKindCount]string{
	KindUnknown:               "unknown",
	KindEmailInUse:            "email_in_use",
	KindWeakPassword:          "weak_password",
	KindInvalidEmail:          "invalid_email",
	KindWrongPassword:         "wrong_password",
	KindUserNotFound:          "user_not_found",
	KindUserDisabled:          "user_disabled",
	KindTooManyAttempts:       "too_many_attempts",
	KindSecondFactorRequired:  "second_factor_required",
	KindInvalidPhoneNumber:    "invalid_phone_number",
	KindQuotaExceeded:         "quota_exceeded",
	KindCaptchaFailed:         "captcha_failed",
	KindInvalidCode:           "invalid_code",
	KindCodeExpired:           "code_expired",
	KindInvalidSession:        "invalid_session",
	KindProviderAlreadyLinked: "provider_already_linked",
	KindRequiresRecentLogin:   "requires_recent_login",
	KindIncompleteSetup:       "incomplete_setup",
	KindStorageUnauthorized:   "storage_unauthorized",
	KindStorageQuota:          "storage_quota",
	KindNetwork:               "network",
}

func (k ErrorKind) String() string {
	if k >= errorKindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

var (
	ErrEmailInUse            = errors.New("email already in use")
	ErrWeakPassword          = errors.New("weak password")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrWrongPassword         = errors.New("wrong password")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserDisabled          = errors.New("user disabled")
	ErrTooManyAttempts       = errors.New("too many attempts")
	ErrSecondFactorRequired  = errors.New("second factor required")
	ErrInvalidPhoneNumber    = errors.New("invalid phone number")
	ErrQuotaExceeded         = errors.New("sms quota exceeded")
	ErrCaptchaFailed         = errors.New("captcha verification failed")
	ErrInvalidCode           = errors.New("invalid verification code")
	ErrCodeExpired           = errors.New("verification code expired")
	ErrInvalidSession        = errors.New("invalid verification session")
	ErrProviderAlreadyLinked = errors.New("provider already linked")
	ErrRequiresRecentLogin   = errors.New("requires recent login")
	ErrIncompleteSetup       = errors.New("incomplete second factor setup")
	ErrStorageUnauthorized   = errors.New("storage write unauthorized")
	ErrStorageQuota          = errors.New("storage quota exceeded")
	ErrNetwork               = errors.New("network failure")
)

var kindSentinels = [errorKindCount]error{
	KindEmailInUse:            ErrEmailInUse,
	KindWeakPassword:          ErrWeakPassword,
	KindInvalidEmail:          ErrInvalidEmail,
	KindWrongPassword:         ErrWrongPassword,
	KindUserNotFound:          ErrUserNotFound,
	KindUserDisabled:          ErrUserDisabled,
	KindTooManyAttempts:       ErrTooManyAttempts,
	KindSecondFactorRequired:  ErrSecondFactorRequired,
	KindInvalidPhoneNumber:    ErrInvalidPhoneNumber,
	KindQuotaExceeded:         ErrQuotaExceeded,
	KindCaptchaFailed:         ErrCaptchaFailed,
	KindInvalidCode:           ErrInvalidCode,
	KindCodeExpired:           ErrCodeExpired,
	KindInvalidSession:        ErrInvalidSession,
	KindProviderAlreadyLinked: ErrProviderAlreadyLinked,
	KindRequiresRecentLogin:   ErrRequiresRecentLogin,
	KindIncompleteSetup:       ErrIncompleteSetup,
	KindStorageUnauthorized:   ErrStorageUnauthorized,
	KindStorageQuota:          ErrStorageQuota,
	KindNetwork:               ErrNetwork,
}

var (
	// ErrEngineNotReady is returned when an Engine method runs on a zero Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrNotSignedIn is returned by operations that need a current account.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrBackend wraps unexpected profile store and cache failures.
	ErrBackend = errors.New("backend unavailable")
	// ErrEmailNotVerified blocks entry until the account's email is verified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrPhoneNotVerified rejects second-factor enrollment before any
	// network call when the account has no verified phone.
	ErrPhoneNotVerified = errors.New("phone not verified")
	// ErrTwoFactorNotEnabled is returned when disabling a factor that is not enrolled.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrFlowBusy is returned when a flow already has a call in flight.
	ErrFlowBusy = errors.New("verification flow busy")
	// ErrFlowClosed is returned for calls on, or results arriving after, a closed flow.
	ErrFlowClosed = errors.New("verification flow closed")
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid verification flow transition")
	// ErrResendNotReady is returned while the resend countdown is running.
	ErrResendNotReady = errors.New("resend not available yet")
	// ErrProfileNotFound is returned when an account has no profile document.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrContactNotFound is returned for unknown emergency contact ids.
	ErrContactNotFound = errors.New("emergency contact not found")
)

// Provider operation names carried in ProviderError.Op.
const (
	OpCreateAccount      = "create_account"
	OpSignIn             = "sign_in"
	OpSignOut            = "sign_out"
	OpReload             = "reload"
	OpUpdateProfile      = "update_profile"
	OpSendEmail          = "send_email"
	OpConfirmEmail       = "confirm_email"
	OpReauthenticate     = "reauthenticate"
	OpUpdatePassword     = "update_password"
	OpSendPhoneCode      = "send_phone_code"
	OpConfirmPhoneCode   = "confirm_phone_code"
	OpLinkPhone          = "link_phone"
	OpEnrollSecondFactor = "enroll_second_factor"
	OpListFactors        = "list_factors"
	OpUnenrollFactor     = "unenroll_factor"
	OpResolveChallenge   = "resolve_challenge"
)

// ProviderError is the typed failure returned by IdentityProvider
// implementations. Challenge is set only for KindSecondFactorRequired.
type ProviderError struct {
	Op        string
	Kind      ErrorKind
	Challenge *ChallengeContext
	Err       error
}

// NewProviderError returns a ProviderError for op of the given kind.
func NewProviderError(op string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return e.Op + ": " + e.Kind.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches another *ProviderError of the same kind and the kind's
// package sentinel, so errors.Is(err, ErrInvalidCode) works on provider errors.
func (e *ProviderError) Is(target error) bool {
	if t, ok := target.(*ProviderError); ok {
		return t.Kind == e.Kind
	}
	if e.Kind < errorKindCount && kindSentinels[e.Kind] != nil {
		return target == kindSentinels[e.Kind]
	}
	return false
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for k := ErrorKind(1); k < errorKindCount; k++ {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindUnknown
}

// ChallengeOf returns the second-factor challenge carried by err, if any.
func ChallengeOf(err error) (*ChallengeContext, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == KindSecondFactorRequired && pe.Challenge != nil {
		return pe.Challenge, true
	}
	return nil, false
}

// FieldError is an input validation failure. It never reaches the provider.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func fieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

const genericMessage = "Something went wrong. Please try again."

var kindMessages = [errorKindCount]string{
	KindEmailInUse:            "An account with this email already exists.",
	KindWeakPassword:          "Password is too weak. Please use a stronger password.",
	KindInvalidEmail:          "Invalid email address",
	KindWrongPassword:         "Incorrect password",
	KindUserNotFound:          "No account found with this email",
	KindUserDisabled:          "This account has been disabled",
	KindTooManyAttempts:       "Too many failed attempts. Please try again later",
	KindSecondFactorRequired:  "Two-factor authentication is required. Enter the code sent to your phone.",
	KindInvalidPhoneNumber:    "Invalid phone number format. Please check your country code and number.",
	KindQuotaExceeded:         "Too many codes requested. Please try again later.",
	KindCaptchaFailed:         "reCAPTCHA verification failed. Please try again.",
	KindInvalidCode:           "Invalid verification code. Please try again.",
	KindCodeExpired:           "The verification code has expired. Please request a new code.",
	KindInvalidSession:        "Invalid verification code. Please try again.",
	KindProviderAlreadyLinked: "This phone number is already linked to your account.",
	KindRequiresRecentLogin:   "This operation is sensitive and requires recent authentication. Please sign in again before retrying",
	KindIncompleteSetup:       "Two-factor setup is incomplete. Please request a new code.",
	KindStorageUnauthorized:   "You do not have permission to save this change.",
	KindStorageQuota:          "Storage is full. Your change was kept on this device.",
	KindNetwork:               "Network error. Please check your connection and try again.",
}

// UserMessage returns the fixed user-facing text for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Message
	}
	switch {
	case errors.Is(err, ErrEmailNotVerified):
		return "Please verify your email before signing in. Check your inbox."
	case errors.Is(err, ErrPhoneNotVerified):
		return "Please verify your phone number before enabling two-factor authentication."
	case errors.Is(err, ErrResendNotReady):
		return "Please wait before requesting a new code."
	case errors.Is(err, ErrNotSignedIn):
		return "You must be logged in to continue"
	}
	if kind := KindOf(err); kind != KindUnknown {
		return kindMessages[kind]
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if msg, ok := opFallbackMessages[pe.Op]; ok {
			return msg
		}
	}
	return genericMessage
}

var opFallbackMessages = map[string]string{
	OpCreateAccount:      "Failed to create an account. Please try again.",
	OpSignIn:             "Failed to sign in. Please try again",
	OpSendPhoneCode:      "Failed to send verification code. Please try again.",
	OpConfirmPhoneCode:   "Failed to verify code. Please try again.",
	OpLinkPhone:          "Failed to set up 2FA",
	OpEnrollSecondFactor: "Failed to set up 2FA",
	OpResolveChallenge:   "Failed to complete authentication",
	OpUpdatePassword:     "Failed to update password. Please try again",
	OpSendEmail:          "Failed to send verification email. Please try again.",
}

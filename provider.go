package healthauth

import "context"

// IdentityProvider is the remote identity service. Implementations hold the
// device's current account, like a client SDK, and report every failure as
// a *ProviderError whose Kind callers switch on exhaustively. No method
// mutates local state outside the provider itself.
type IdentityProvider interface {
	// CreateAccount registers email/password and signs the new account in.
	// Fails with KindEmailInUse, KindWeakPassword or KindInvalidEmail.
	CreateAccount(ctx context.Context, email, password string) (*Account, error)
	// SignIn fails with KindWrongPassword, KindUserNotFound, KindUserDisabled,
	// KindTooManyAttempts or KindSecondFactorRequired carrying a challenge.
	SignIn(ctx context.Context, email, password string) (*Account, error)
	SignOut(ctx context.Context) error
	// CurrentAccount returns the signed-in account or nil.
	CurrentAccount() *Account
	// ReloadAccount refreshes the current account from the service.
	ReloadAccount(ctx context.Context) (*Account, error)
	UpdateDisplayName(ctx context.Context, name string) error

	SendEmailVerification(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email string) error
	// Reauthenticate proves the current password, opening the recent-login
	// window required by UpdatePassword and factor changes.
	Reauthenticate(ctx context.Context, password string) error
	UpdatePassword(ctx context.Context, newPassword string) error

	// SendPhoneCode texts a code and returns the verification session id.
	// Fails with KindInvalidPhoneNumber, KindQuotaExceeded or KindCaptchaFailed.
	SendPhoneCode(ctx context.Context, req PhoneCodeRequest) (string, error)
	// ConfirmPhoneCode consumes sessionID. Fails with KindInvalidCode,
	// KindCodeExpired or KindInvalidSession.
	ConfirmPhoneCode(ctx context.Context, sessionID, code string) (Credential, error)
	// LinkPhone attaches the verified number to the current account.
	LinkPhone(ctx context.Context, cred Credential) error
	EnrollSecondFactor(ctx context.Context, cred Credential, displayName string) error
	ListEnrolledFactors(ctx context.Context) ([]Factor, error)
	UnenrollSecondFactor(ctx context.Context, factorID string) error
	// ResolveSecondFactor completes a sign-in stopped by challenge.
	ResolveSecondFactor(ctx context.Context, challenge *ChallengeContext, cred Credential) (*Account, error)

	// SubscribeAuthState calls fn with the current account, then on every
	// sign-in and sign-out (nil account). The returned func unsubscribes.
	SubscribeAuthState(fn func(*Account)) (unsubscribe func())
}

// CaptchaVerifier completes a CAPTCHA challenge on the device and returns the
// token SendPhoneCode expects.
type CaptchaVerifier interface {
	Verify(ctx context.Context) (string, error)
}

// CaptchaFunc adapts a function to CaptchaVerifier.
type CaptchaFunc func(ctx context.Context) (string, error)

func (f CaptchaFunc) Verify(ctx context.Context) (string, error) {
	return f(ctx)
}

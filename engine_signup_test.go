package healthauth

import (
	"context"
	"errors"
	"testing"
)

func validSignUp() SignUpRequest {
	return SignUpRequest{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "a@b.com",
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
		CallingCode:     "+61",
		PhoneNumber:     "412345678",
	}
}

func TestSignUpThenSignInNeverReachesApp(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.SignUp(ctx, validSignUp())
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	defer res.Flow.Close()
	if res.ProfileErr != nil {
		t.Fatalf("unexpected profile error: %v", res.ProfileErr)
	}
	if res.Account.DisplayName != "Ada Lovelace" {
		t.Fatalf("expected display name set, got %q", res.Account.DisplayName)
	}

	p, err := env.profiles.GetProfile(ctx, res.Account.ID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.PhoneVerified || p.EmailVerified || p.TwoFactorEnabled {
		t.Fatalf("expected every flag false, got %+v", p.Status())
	}
	if p.PhoneNumber != "+61412345678" || p.FirstName != "Ada" || p.LastName != "Lovelace" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	snap := res.Flow.Snapshot()
	if snap.State != PhoneAwaitingCaptcha || snap.PhoneNumber != "+61412345678" {
		t.Fatalf("expected phone flow past entry, got %+v", snap)
	}
	if env.engine.Session().Snapshot().Authenticated {
		t.Fatal("new account must not be authenticated")
	}
	if env.provider.callCount(OpSendEmail) != 1 {
		t.Fatal("expected verification email on sign-up")
	}

	signIn, err := env.engine.SignIn(ctx, "a@b.com", "correct-horse")
	if !errors.Is(err, ErrEmailNotVerified) || signIn.Next != NextVerifyEmail {
		t.Fatalf("expected NextVerifyEmail, got %v / %v", signIn, err)
	}
	if env.engine.Session().AccountID() != "" {
		t.Fatal("unverified email must leave the account signed out")
	}
	if UserMessage(err) != "Please verify your email before signing in. Check your inbox." {
		t.Fatalf("unexpected message: %q", UserMessage(err))
	}

	env.provider.setEmailVerified("a@b.com")
	signIn, err = env.engine.SignIn(ctx, "a@b.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	defer signIn.Flow.Close()
	if signIn.Next != NextVerifyPhone {
		t.Fatalf("expected NextVerifyPhone, got %s", signIn.Next)
	}
	if signIn.Flow.Snapshot().PhoneNumber != "+61412345678" {
		t.Fatal("expected stored number prefilled")
	}
	if env.engine.Session().Snapshot().Authenticated {
		t.Fatal("account without verified phone must not reach the app")
	}
	remote, _ := env.profiles.ReadStatus(ctx, res.Account.ID)
	if !remote.EmailVerified {
		t.Fatal("expected emailVerified synced to the profile")
	}
	if env.metric(MetricSignInEmailUnverified) != 1 || env.metric(MetricSignInPhoneUnverified) != 1 {
		t.Fatalf("unexpected metrics: %+v", env.engine.MetricsSnapshot().Counters)
	}
}

func TestSignUpValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SignUpRequest)
		field   string
		message string
	}{
		{"missing name", func(r *SignUpRequest) { r.FirstName = " " }, "form", "Please fill out all required fields."},
		{"missing phone", func(r *SignUpRequest) { r.PhoneNumber = "" }, "phoneNumber", "Phone number is required for account verification."},
		{"short password", func(r *SignUpRequest) { r.Password, r.ConfirmPassword = "short", "short" }, "password", "Password must be at least 8 characters long."},
		{"bad email", func(r *SignUpRequest) { r.Email = "a@b" }, "email", "Please enter a valid email address."},
		{"mismatch", func(r *SignUpRequest) { r.ConfirmPassword = "correct-horsf" }, "confirmPassword", "Passwords do not match"},
		{"bad phone", func(r *SignUpRequest) { r.PhoneNumber = "12ab" }, "phoneNumber", "Invalid phone number format. Please check your country code and number."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := validSignUp()
			tt.mutate(&req)

			_, err := env.engine.SignUp(context.Background(), req)
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field || fe.Message != tt.message {
				t.Fatalf("unexpected error: %v", err)
			}
			if env.provider.callCount(OpCreateAccount) != 0 {
				t.Fatal("invalid form must not reach the provider")
			}
			if env.metric(MetricSignUpFailure) != 1 {
				t.Fatal("expected sign-up failure metric")
			}
		})
	}
}

func TestSignUpEmailInUse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.addAccount("a@b.com", "whatever-1", false)

	_, err := env.engine.SignUp(context.Background(), validSignUp())
	if KindOf(err) != KindEmailInUse {
		t.Fatalf("expected KindEmailInUse, got %v", err)
	}
	if UserMessage(err) != "An account with this email already exists." {
		t.Fatalf("unexpected message: %q", UserMessage(err))
	}
}

func TestCheckEmailVerified(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.CheckEmailVerified(ctx); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}

	res, err := env.engine.SignUp(ctx, validSignUp())
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	defer res.Flow.Close()

	ok, err := env.engine.CheckEmailVerified(ctx)
	if err != nil || ok {
		t.Fatalf("expected unverified, got %v, %v", ok, err)
	}

	env.provider.setEmailVerified("a@b.com")
	ok, err = env.engine.CheckEmailVerified(ctx)
	if err != nil || !ok {
		t.Fatalf("expected verified, got %v, %v", ok, err)
	}
	remote, _ := env.profiles.ReadStatus(ctx, res.Account.ID)
	if !remote.EmailVerified {
		t.Fatal("expected emailVerified persisted")
	}
	if !env.engine.Session().Snapshot().Status.EmailVerified {
		t.Fatal("expected session refreshed")
	}
}

package redisid

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/captcha"
	"github.com/MrEthical07/healthauth/password"
)

func expectWeak(t *testing.T, err error, op string, cause error) {
	t.Helper()
	var perr *healthauth.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.Kind != healthauth.KindWeakPassword || perr.Op != op {
		t.Fatalf("expected %s weak_password, got %s %s", op, perr.Op, perr.Kind)
	}
	if !errors.Is(err, healthauth.ErrWeakPassword) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrWeakPassword wrapping %v, got %v", cause, err)
	}
}

func TestCreateAccountPasswordBounds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.client.CreateAccount(ctx, "amy@example.com", "seven77")
	expectWeak(t, err, healthauth.OpCreateAccount, password.ErrTooShort)

	_, err = h.client.CreateAccount(ctx, "amy@example.com", strings.Repeat("x", 1025))
	expectWeak(t, err, healthauth.OpCreateAccount, password.ErrTooLong)

	if _, err := h.client.CreateAccount(ctx, "amy@example.com", "eight888"); err != nil {
		t.Fatalf("CreateAccount with 8 characters: %v", err)
	}
}

func TestUpdatePasswordBounds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.client.CreateAccount(ctx, "amy@example.com", "correct-horse"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	err := h.client.UpdatePassword(ctx, "seven77")
	expectWeak(t, err, healthauth.OpUpdatePassword, password.ErrTooShort)

	err = h.client.UpdatePassword(ctx, strings.Repeat("x", 1025))
	expectWeak(t, err, healthauth.OpUpdatePassword, password.ErrTooLong)

	if err := h.client.UpdatePassword(ctx, "eight888"); err != nil {
		t.Fatalf("UpdatePassword with 8 characters: %v", err)
	}
	_ = h.client.SignOut(ctx)

	_, err = h.client.SignIn(ctx, "amy@example.com", "correct-horse")
	expectKind(t, err, healthauth.KindWrongPassword)
	if _, err := h.client.SignIn(ctx, "amy@example.com", "eight888"); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}
}

func TestConfirmPasswordResetWeakPasswordKeepsToken(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.client.CreateAccount(ctx, "amy@example.com", "correct-horse"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	_ = h.client.SignOut(ctx)
	if err := h.client.SendPasswordResetEmail(ctx, "amy@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail: %v", err)
	}
	token := h.mail.lastToken(t, MailPasswordReset)

	err := h.client.ConfirmPasswordReset(ctx, token, "short")
	expectWeak(t, err, healthauth.OpUpdatePassword, password.ErrTooShort)

	if err := h.client.ConfirmPasswordReset(ctx, token, "battery-staple"); err != nil {
		t.Fatalf("ConfirmPasswordReset after weak attempt: %v", err)
	}
}

func TestCustomPasswordPolicy(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Passwords = password.Policy{MinLength: 12, MaxBytes: 64} })
	ctx := context.Background()

	_, err := h.client.CreateAccount(ctx, "amy@example.com", "eleven-char")
	expectWeak(t, err, healthauth.OpCreateAccount, password.ErrTooShort)

	if _, err := h.client.CreateAccount(ctx, "amy@example.com", "twelve-chars"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func TestSignInRehashesStaleHash(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.client.CreateAccount(ctx, "amy@example.com", "correct-horse"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	before, err := h.client.accounts.GetByEmail(ctx, "amy@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}

	cfg := testConfig()
	cfg.Hashing.Time = 2
	raised, err := New(h.rdb, cfg, Deps{
		Captcha: captcha.StaticChecker{Token: testCaptcha},
		SMS:     h.sms,
		Mail:    h.mail,
		Now:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := raised.SignIn(ctx, "amy@example.com", "correct-horse"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	after, err := raised.accounts.GetByEmail(ctx, "amy@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if after.PasswordHash == before.PasswordHash || !strings.Contains(after.PasswordHash, ",t=2,") {
		t.Fatalf("expected rehash with t=2, got %q", after.PasswordHash)
	}

	_ = raised.SignOut(ctx)
	if _, err := raised.SignIn(ctx, "amy@example.com", "correct-horse"); err != nil {
		t.Fatalf("SignIn after rehash: %v", err)
	}
}

func TestConfigRejectsInvalidPasswordSettings(t *testing.T) {
	h := newHarness(t, nil)

	cfg := testConfig()
	cfg.Passwords.MinLength = 0
	if _, err := New(h.rdb, cfg, Deps{Captcha: captcha.StaticChecker{}, SMS: h.sms, Mail: h.mail}); err == nil {
		t.Fatal("expected error for zero MinLength")
	}

	cfg = testConfig()
	cfg.Hashing.MemoryKiB = 1024
	if _, err := New(h.rdb, cfg, Deps{Captcha: captcha.StaticChecker{}, SMS: h.sms, Mail: h.mail}); err == nil {
		t.Fatal("expected error for MemoryKiB below the floor")
	}
}

package redisid

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/internal"
	"github.com/MrEthical07/healthauth/internal/stores"
)

// SendEmailVerification mails a verification token to the signed-in
// account, throttled per recipient.
func (c *Client) SendEmailVerification(ctx context.Context) error {
	id, err := c.currentID(healthauth.OpSendEmail)
	if err != nil {
		return err
	}
	record, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return accountError(healthauth.OpSendEmail, err)
	}
	return c.sendMailToken(ctx, MailVerifyEmail, record, c.cfg.EmailTokenTTL)
}

// ConfirmEmailVerification redeems the token mailed by
// SendEmailVerification, as following the emailed link would.
func (c *Client) ConfirmEmailVerification(ctx context.Context, token string) error {
	id, err := c.takeMailToken(ctx, MailVerifyEmail, token)
	if err != nil {
		return err
	}
	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		r.EmailVerified = true
		return nil
	})
	if err != nil {
		return accountError(healthauth.OpConfirmEmail, err)
	}
	c.refreshCurrent(record)
	c.log.Info(ctx, "email verified", "account_id", id)
	return nil
}

// SendPasswordResetEmail mails a reset token when the address has an
// account.
func (c *Client) SendPasswordResetEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return providerError(healthauth.OpSendEmail, healthauth.KindInvalidEmail, nil)
	}
	record, err := c.accounts.GetByEmail(ctx, email)
	if err != nil {
		return accountError(healthauth.OpSendEmail, err)
	}
	return c.sendMailToken(ctx, MailPasswordReset, record, c.cfg.ResetTokenTTL)
}

// ConfirmPasswordReset sets a new password using a reset token and clears
// the account's failed sign-in counter.
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	hash, err := c.hashPassword(healthauth.OpUpdatePassword, newPassword)
	if err != nil {
		return err
	}
	id, err := c.takeMailToken(ctx, MailPasswordReset, token)
	if err != nil {
		return err
	}
	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		r.PasswordHash = hash
		return nil
	})
	if err != nil {
		return accountError(healthauth.OpUpdatePassword, err)
	}
	if err := c.signIns.Reset(ctx, record.Email); err != nil {
		c.log.Warn(ctx, "sign-in limiter reset failed", "error", err)
	}
	c.log.Info(ctx, "password reset", "account_id", id)
	return nil
}

func (c *Client) sendMailToken(ctx context.Context, kind MailKind, record *stores.AccountRecord, ttl time.Duration) error {
	if err := c.mailLimiter.CheckSend(ctx, string(kind), strings.ToLower(record.Email)); err != nil {
		return mailLimitError(err)
	}
	token, err := internal.NewOpaqueID()
	if err != nil {
		return providerError(healthauth.OpSendEmail, healthauth.KindUnknown, err)
	}
	if err := c.mailTokens.Put(ctx, mailTokenKey(kind, token), record.ID, ttl); err != nil {
		return backendError(healthauth.OpSendEmail, err)
	}
	if err := c.mailer.SendMail(ctx, Mail{To: record.Email, Kind: kind, Token: token}); err != nil {
		return backendError(healthauth.OpSendEmail, err)
	}
	return nil
}

func (c *Client) takeMailToken(ctx context.Context, kind MailKind, token string) (string, error) {
	if !internal.ValidOpaqueID(token) {
		return "", providerError(healthauth.OpConfirmEmail, healthauth.KindInvalidCode, nil)
	}
	id, err := c.mailTokens.Take(ctx, mailTokenKey(kind, token))
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return "", providerError(healthauth.OpConfirmEmail, healthauth.KindCodeExpired, nil)
		}
		return "", backendError(healthauth.OpConfirmEmail, err)
	}
	return id, nil
}

func mailTokenKey(kind MailKind, token string) string {
	return string(kind) + ":" + token
}

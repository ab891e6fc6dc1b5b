package redisid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/internal"
	"github.com/MrEthical07/healthauth/internal/stores"
	"github.com/MrEthical07/healthauth/phone"
	"github.com/google/uuid"
)

// proof is what a confirmed code session turns into. It remembers which
// challenge, if any, the code was issued for.
type proof struct {
	PhoneNumber string
	AccountID   string
	ChallengeID string
}

func (p proof) encode() string {
	return p.PhoneNumber + "|" + p.AccountID + "|" + p.ChallengeID
}

func decodeProof(raw string) (proof, bool) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[0] == "" {
		return proof{}, false
	}
	return proof{PhoneNumber: parts[0], AccountID: parts[1], ChallengeID: parts[2]}, true
}

// SendPhoneCode texts a fresh code and returns the opaque session id that
// confirms it. A request carrying a challenge sends to the hinted factor's
// number and binds the session to that challenge. Sends are subject to the
// per-number and per-caller SMS quota.
func (c *Client) SendPhoneCode(ctx context.Context, req healthauth.PhoneCodeRequest) (string, error) {
	if req.CaptchaToken == "" {
		return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindCaptchaFailed, nil)
	}
	if err := c.captcha.Check(ctx, req.CaptchaToken); err != nil {
		return "", captchaError(err)
	}

	session := &stores.PhoneCodeSession{PhoneNumber: req.PhoneNumber}
	caller := ""
	if req.Challenge != nil {
		claims, err := c.signer.ParseChallenge(req.Challenge.Session)
		if err != nil || !claims.HasFactor(req.HintID) {
			return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindInvalidSession, err)
		}
		record, err := c.accounts.GetByID(ctx, claims.Subject)
		if err != nil {
			return "", accountError(healthauth.OpSendPhoneCode, err)
		}
		factor, ok := findFactor(record, req.HintID)
		if !ok {
			return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindInvalidSession, errFactorNotFound)
		}
		session.PhoneNumber = factor.PhoneNumber
		session.AccountID = record.ID
		session.ChallengeID = claims.ID
		caller = record.ID
	} else {
		if !phone.ValidE164(req.PhoneNumber) {
			return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindInvalidPhoneNumber, nil)
		}
		c.mu.Lock()
		if c.current != nil {
			caller = c.current.ID
		}
		c.mu.Unlock()
	}

	if err := c.smsLimiter.CheckSend(ctx, session.PhoneNumber, caller); err != nil {
		return "", smsLimitError(err)
	}

	sessionID, err := internal.NewOpaqueID()
	if err != nil {
		return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindUnknown, err)
	}
	code, err := internal.NewOTP(c.cfg.CodeLength)
	if err != nil {
		return "", providerError(healthauth.OpSendPhoneCode, healthauth.KindUnknown, err)
	}
	session.CodeHash = internal.HashCode(sessionID, code)
	now := c.now()
	session.ExpiresAt = now.Add(c.cfg.CodeTTL).Unix()

	if err := c.codes.Save(ctx, sessionID, session, now); err != nil {
		return "", backendError(healthauth.OpSendPhoneCode, err)
	}
	msg := fmt.Sprintf("%s is your verification code.", code)
	if err := c.sms.SendSMS(ctx, session.PhoneNumber, msg); err != nil {
		_, _ = c.codes.Delete(ctx, sessionID)
		return "", backendError(healthauth.OpSendPhoneCode, err)
	}

	c.log.Debug(ctx, "phone code sent", "phone", phone.Mask(session.PhoneNumber), "challenge", session.ChallengeID != "")
	return sessionID, nil
}

// ConfirmPhoneCode redeems a session with its code. The session is consumed
// by the attempt whether or not the code matches; a match yields a
// single-use proof in the Credential.
func (c *Client) ConfirmPhoneCode(ctx context.Context, sessionID, code string) (healthauth.Credential, error) {
	if !internal.ValidOpaqueID(sessionID) {
		return healthauth.Credential{}, providerError(healthauth.OpConfirmPhoneCode, healthauth.KindInvalidSession, nil)
	}
	if !phone.IsCode(code, c.cfg.CodeLength) {
		return healthauth.Credential{}, providerError(healthauth.OpConfirmPhoneCode, healthauth.KindInvalidCode, nil)
	}

	session, err := c.codes.Consume(ctx, sessionID, internal.HashCode(sessionID, code), c.cfg.MaxCodeAttempts, c.now())
	if err != nil {
		return healthauth.Credential{}, codeError(err)
	}

	token, err := internal.NewOpaqueID()
	if err != nil {
		return healthauth.Credential{}, providerError(healthauth.OpConfirmPhoneCode, healthauth.KindUnknown, err)
	}
	p := proof{PhoneNumber: session.PhoneNumber, AccountID: session.AccountID, ChallengeID: session.ChallengeID}
	if err := c.proofs.Put(ctx, token, p.encode(), c.cfg.ProofTTL); err != nil {
		return healthauth.Credential{}, backendError(healthauth.OpConfirmPhoneCode, err)
	}
	return healthauth.Credential{SessionID: sessionID, PhoneNumber: session.PhoneNumber, Proof: token}, nil
}

// takeProof redeems cred. Proofs issued for a sign-in challenge are only
// accepted when challengeID matches.
func (c *Client) takeProof(ctx context.Context, op string, cred healthauth.Credential, challengeID string) (proof, error) {
	raw, err := c.proofs.Take(ctx, cred.Proof)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return proof{}, providerError(op, healthauth.KindInvalidSession, nil)
		}
		return proof{}, backendError(op, err)
	}
	p, ok := decodeProof(raw)
	if !ok || p.ChallengeID != challengeID {
		return proof{}, providerError(op, healthauth.KindInvalidSession, nil)
	}
	if cred.PhoneNumber != "" && cred.PhoneNumber != p.PhoneNumber {
		return proof{}, providerError(op, healthauth.KindInvalidSession, nil)
	}
	return p, nil
}

// LinkPhone sets the signed-in account's phone from a proof.
func (c *Client) LinkPhone(ctx context.Context, cred healthauth.Credential) error {
	id, err := c.currentID(healthauth.OpLinkPhone)
	if err != nil {
		return err
	}
	p, err := c.takeProof(ctx, healthauth.OpLinkPhone, cred, "")
	if err != nil {
		return err
	}

	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		if r.PhoneNumber != "" {
			return providerError(healthauth.OpLinkPhone, healthauth.KindProviderAlreadyLinked, nil)
		}
		r.PhoneNumber = p.PhoneNumber
		return nil
	})
	if err != nil {
		var pe *healthauth.ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		return accountError(healthauth.OpLinkPhone, err)
	}
	c.refreshCurrent(record)
	c.log.Info(ctx, "phone linked", "account_id", id)
	return nil
}

// EnrollSecondFactor adds the proven number as a second factor. It needs a
// recent sign-in or reauthentication.
func (c *Client) EnrollSecondFactor(ctx context.Context, cred healthauth.Credential, displayName string) error {
	id, err := c.recentLogin(healthauth.OpEnrollSecondFactor)
	if err != nil {
		return err
	}
	p, err := c.takeProof(ctx, healthauth.OpEnrollSecondFactor, cred, "")
	if err != nil {
		return err
	}

	now := c.now()
	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		for _, f := range r.Factors {
			if f.PhoneNumber == p.PhoneNumber {
				return providerError(healthauth.OpEnrollSecondFactor, healthauth.KindProviderAlreadyLinked, nil)
			}
		}
		r.Factors = append(r.Factors, stores.FactorRecord{
			ID:          uuid.NewString(),
			PhoneNumber: p.PhoneNumber,
			DisplayName: displayName,
			EnrolledAt:  now.Unix(),
		})
		return nil
	})
	if err != nil {
		var pe *healthauth.ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		return accountError(healthauth.OpEnrollSecondFactor, err)
	}
	c.refreshCurrent(record)
	c.log.Info(ctx, "second factor enrolled", "account_id", id)
	return nil
}

// ListEnrolledFactors returns the signed-in account's factors with full
// numbers.
func (c *Client) ListEnrolledFactors(ctx context.Context) ([]healthauth.Factor, error) {
	id, err := c.currentID(healthauth.OpListFactors)
	if err != nil {
		return nil, err
	}
	record, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, accountError(healthauth.OpListFactors, err)
	}
	return toFactors(record.Factors, false), nil
}

// UnenrollSecondFactor removes factorID. It needs a recent sign-in.
func (c *Client) UnenrollSecondFactor(ctx context.Context, factorID string) error {
	id, err := c.recentLogin(healthauth.OpUnenrollFactor)
	if err != nil {
		return err
	}
	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		for i, f := range r.Factors {
			if f.ID == factorID {
				r.Factors = append(r.Factors[:i], r.Factors[i+1:]...)
				return nil
			}
		}
		return providerError(healthauth.OpUnenrollFactor, healthauth.KindUnknown, errFactorNotFound)
	})
	if err != nil {
		var pe *healthauth.ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		return accountError(healthauth.OpUnenrollFactor, err)
	}
	c.refreshCurrent(record)
	return nil
}

// ResolveSecondFactor completes a sign-in challenge with a proof issued for
// that same challenge and signs the account in.
func (c *Client) ResolveSecondFactor(ctx context.Context, challenge *healthauth.ChallengeContext, cred healthauth.Credential) (*healthauth.Account, error) {
	if challenge == nil {
		return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindInvalidSession, nil)
	}
	claims, err := c.signer.ParseChallenge(challenge.Session)
	if err != nil {
		return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindInvalidSession, err)
	}
	p, err := c.takeProof(ctx, healthauth.OpResolveChallenge, cred, claims.ID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != claims.Subject {
		return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindInvalidSession, nil)
	}

	// Each challenge resolves once.
	owner, err := c.challenges.Take(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindInvalidSession, nil)
		}
		return nil, backendError(healthauth.OpResolveChallenge, err)
	}
	if owner != claims.Subject {
		return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindInvalidSession, nil)
	}

	record, err := c.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, accountError(healthauth.OpResolveChallenge, err)
	}
	if record.Disabled {
		return nil, providerError(healthauth.OpResolveChallenge, healthauth.KindUserDisabled, nil)
	}
	return c.completeSignIn(ctx, record.ID, healthauth.OpResolveChallenge)
}

func (c *Client) issueChallenge(ctx context.Context, record *stores.AccountRecord) (*healthauth.ChallengeContext, error) {
	challengeID := uuid.NewString()
	factorIDs := make([]string, 0, len(record.Factors))
	for _, f := range record.Factors {
		factorIDs = append(factorIDs, f.ID)
	}

	session, err := c.signer.CreateChallenge(record.ID, challengeID, factorIDs, c.now())
	if err != nil {
		return nil, providerError(healthauth.OpSignIn, healthauth.KindUnknown, err)
	}
	if err := c.challenges.Put(ctx, challengeID, record.ID, c.signer.TTL()); err != nil {
		return nil, backendError(healthauth.OpSignIn, err)
	}
	return &healthauth.ChallengeContext{
		Hints:   toFactors(record.Factors, true),
		Session: session,
	}, nil
}

func findFactor(record *stores.AccountRecord, id string) (stores.FactorRecord, bool) {
	for _, f := range record.Factors {
		if f.ID == id {
			return f, true
		}
	}
	return stores.FactorRecord{}, false
}

func toFactors(records []stores.FactorRecord, masked bool) []healthauth.Factor {
	out := make([]healthauth.Factor, 0, len(records))
	for _, f := range records {
		number := f.PhoneNumber
		if masked {
			number = phone.Mask(number)
		}
		out = append(out, healthauth.Factor{
			ID:          f.ID,
			PhoneNumber: number,
			DisplayName: f.DisplayName,
			EnrolledAt:  time.Unix(f.EnrolledAt, 0).UTC(),
		})
	}
	return out
}

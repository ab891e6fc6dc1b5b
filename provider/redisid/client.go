package redisid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/captcha"
	"github.com/MrEthical07/healthauth/internal/limiters"
	"github.com/MrEthical07/healthauth/internal/logging"
	"github.com/MrEthical07/healthauth/internal/rate"
	"github.com/MrEthical07/healthauth/internal/stores"
	"github.com/MrEthical07/healthauth/jwt"
	"github.com/MrEthical07/healthauth/password"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) error
}

// MailKind distinguishes the mails a Client sends.
type MailKind string

const (
	MailVerifyEmail   MailKind = "verify_email"
	MailPasswordReset MailKind = "password_reset"
)

// Mail carries a single-use token to be embedded in a link.
type Mail struct {
	To    string
	Kind  MailKind
	Token string
}

// Mailer delivers Mail.
type Mailer interface {
	SendMail(ctx context.Context, mail Mail) error
}

// Deps are the collaborators of a Client. Captcha, SMS and Mail are
// required; Logger and Now default to a no-op logger and time.Now.
type Deps struct {
	Captcha captcha.Checker
	SMS     SMSSender
	Mail    Mailer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Client implements healthauth.IdentityProvider on Redis. It is safe for
// concurrent use.
type Client struct {
	cfg Config

	accounts   *stores.AccountStore
	codes      *stores.PhoneCodeStore
	proofs     *stores.TokenStore
	mailTokens *stores.TokenStore
	challenges *stores.TokenStore

	smsLimiter  *limiters.SMSLimiter
	mailLimiter *limiters.MailLimiter
	signIns     *rate.Limiter
	hasher      *password.Hasher
	signer      *jwt.Manager

	captcha captcha.Checker
	sms     SMSSender
	mailer  Mailer
	now     func() time.Time
	log     logging.Logger

	mu        sync.Mutex
	current   *stores.AccountRecord
	reauthAt  time.Time
	listeners map[uint64]func(*healthauth.Account)
	nextID    uint64
}

var _ healthauth.IdentityProvider = (*Client)(nil)

// New validates cfg and returns a Client with no signed-in account.
func New(client redis.UniversalClient, cfg Config, deps Deps) (*Client, error) {
	if client == nil {
		return nil, errors.New("redisid: redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Captcha == nil || deps.SMS == nil || deps.Mail == nil {
		return nil, errors.New("redisid: captcha, SMS and mail dependencies are required")
	}
	hasher, err := password.NewHasher(cfg.Hashing, cfg.Passwords)
	if err != nil {
		return nil, fmt.Errorf("redisid: %w", err)
	}
	signer, err := jwt.NewManager(cfg.Challenge)
	if err != nil {
		return nil, fmt.Errorf("redisid: %w", err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	p := cfg.KeyPrefix
	return &Client{
		cfg:         cfg,
		accounts:    stores.NewAccountStore(client, p),
		codes:       stores.NewPhoneCodeStore(client, p+":code"),
		proofs:      stores.NewTokenStore(client, p+":proof"),
		mailTokens:  stores.NewTokenStore(client, p+":mail"),
		challenges:  stores.NewTokenStore(client, p+":chal"),
		smsLimiter:  limiters.NewSMSLimiter(client, cfg.SMS),
		mailLimiter: limiters.NewMailLimiter(client, cfg.Mail),
		signIns:     rate.New(client, cfg.SignIn),
		hasher:      hasher,
		signer:      signer,
		captcha:     deps.Captcha,
		sms:         deps.SMS,
		mailer:      deps.Mail,
		now:         now,
		log:         logging.NewSlogLogger(deps.Logger).With("component", "redisid"),
		listeners:   make(map[uint64]func(*healthauth.Account)),
	}, nil
}

// CreateAccount registers email with an argon2id hash of pass and signs the
// new account in.
func (c *Client) CreateAccount(ctx context.Context, email, pass string) (*healthauth.Account, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil, providerError(healthauth.OpCreateAccount, healthauth.KindInvalidEmail, nil)
	}
	hash, err := c.hashPassword(healthauth.OpCreateAccount, pass)
	if err != nil {
		return nil, err
	}

	now := c.now()
	record := &stores.AccountRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now.Unix(),
		LastSignInAt: now.Unix(),
	}
	if err := c.accounts.Create(ctx, record); err != nil {
		if errors.Is(err, stores.ErrAccountExists) {
			return nil, providerError(healthauth.OpCreateAccount, healthauth.KindEmailInUse, nil)
		}
		return nil, backendError(healthauth.OpCreateAccount, err)
	}

	c.log.Info(ctx, "account created", "account_id", record.ID)
	return c.setCurrent(record, now), nil
}

// SignIn checks email and pass. An account with enrolled factors is not
// signed in; the error carries a ChallengeContext instead.
func (c *Client) SignIn(ctx context.Context, email, pass string) (*healthauth.Account, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil, providerError(healthauth.OpSignIn, healthauth.KindInvalidEmail, nil)
	}
	if err := c.signIns.CheckSignIn(ctx, email); err != nil {
		return nil, rateError(healthauth.OpSignIn, err)
	}

	record, err := c.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			return nil, providerError(healthauth.OpSignIn, healthauth.KindUserNotFound, nil)
		}
		return nil, backendError(healthauth.OpSignIn, err)
	}
	if record.Disabled {
		return nil, providerError(healthauth.OpSignIn, healthauth.KindUserDisabled, nil)
	}

	ok, err := c.hasher.Verify(pass, record.PasswordHash)
	if err != nil {
		return nil, providerError(healthauth.OpSignIn, healthauth.KindUnknown, err)
	}
	if !ok {
		if err := c.signIns.RecordFailure(ctx, email); err != nil {
			return nil, rateError(healthauth.OpSignIn, err)
		}
		return nil, providerError(healthauth.OpSignIn, healthauth.KindWrongPassword, nil)
	}
	if err := c.signIns.Reset(ctx, email); err != nil {
		c.log.Warn(ctx, "sign-in limiter reset failed", "error", err)
	}
	c.rehashIfStale(ctx, record, pass)

	if len(record.Factors) > 0 {
		challenge, err := c.issueChallenge(ctx, record)
		if err != nil {
			return nil, err
		}
		return nil, &healthauth.ProviderError{
			Op:        healthauth.OpSignIn,
			Kind:      healthauth.KindSecondFactorRequired,
			Challenge: challenge,
		}
	}

	return c.completeSignIn(ctx, record.ID, healthauth.OpSignIn)
}

func (c *Client) completeSignIn(ctx context.Context, accountID, op string) (*healthauth.Account, error) {
	now := c.now()
	record, err := c.accounts.Update(ctx, accountID, func(r *stores.AccountRecord) error {
		r.LastSignInAt = now.Unix()
		return nil
	})
	if err != nil {
		return nil, accountError(op, err)
	}
	return c.setCurrent(record, now), nil
}

// SignOut clears the current account and notifies subscribers.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	was := c.current
	c.current = nil
	c.reauthAt = time.Time{}
	c.mu.Unlock()

	if was != nil {
		c.log.Debug(ctx, "signed out", "account_id", was.ID)
		c.notify(nil)
	}
	return nil
}

// CurrentAccount returns a copy of the signed-in account, or nil.
func (c *Client) CurrentAccount() *healthauth.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return toAccount(c.current)
}

// ReloadAccount re-reads the signed-in account from Redis.
func (c *Client) ReloadAccount(ctx context.Context) (*healthauth.Account, error) {
	id, err := c.currentID(healthauth.OpReload)
	if err != nil {
		return nil, err
	}
	record, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, accountError(healthauth.OpReload, err)
	}
	if record.Disabled {
		return nil, providerError(healthauth.OpReload, healthauth.KindUserDisabled, nil)
	}
	return c.refreshCurrent(record), nil
}

// UpdateDisplayName sets the signed-in account's display name.
func (c *Client) UpdateDisplayName(ctx context.Context, name string) error {
	id, err := c.currentID(healthauth.OpUpdateProfile)
	if err != nil {
		return err
	}
	record, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		r.DisplayName = strings.TrimSpace(name)
		return nil
	})
	if err != nil {
		return accountError(healthauth.OpUpdateProfile, err)
	}
	c.refreshCurrent(record)
	return nil
}

// Reauthenticate re-checks the password and restarts the recent-login
// window.
func (c *Client) Reauthenticate(ctx context.Context, pass string) error {
	id, err := c.currentID(healthauth.OpReauthenticate)
	if err != nil {
		return err
	}
	record, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return accountError(healthauth.OpReauthenticate, err)
	}
	if err := c.signIns.CheckSignIn(ctx, record.Email); err != nil {
		return rateError(healthauth.OpReauthenticate, err)
	}
	ok, err := c.hasher.Verify(pass, record.PasswordHash)
	if err != nil {
		return providerError(healthauth.OpReauthenticate, healthauth.KindUnknown, err)
	}
	if !ok {
		if err := c.signIns.RecordFailure(ctx, record.Email); err != nil {
			return rateError(healthauth.OpReauthenticate, err)
		}
		return providerError(healthauth.OpReauthenticate, healthauth.KindWrongPassword, nil)
	}

	c.mu.Lock()
	if c.current != nil && c.current.ID == id {
		c.reauthAt = c.now()
	}
	c.mu.Unlock()
	return nil
}

// UpdatePassword replaces the password hash. It needs a recent sign-in.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	id, err := c.recentLogin(healthauth.OpUpdatePassword)
	if err != nil {
		return err
	}
	hash, err := c.hashPassword(healthauth.OpUpdatePassword, newPassword)
	if err != nil {
		return err
	}
	if _, err := c.accounts.Update(ctx, id, func(r *stores.AccountRecord) error {
		r.PasswordHash = hash
		return nil
	}); err != nil {
		return accountError(healthauth.OpUpdatePassword, err)
	}
	c.log.Info(ctx, "password updated", "account_id", id)
	return nil
}

// SetDisabled enables or disables an account. A disabled account cannot
// sign in, and the current session is signed out if it belongs to it.
func (c *Client) SetDisabled(ctx context.Context, accountID string, disabled bool) error {
	if _, err := c.accounts.Update(ctx, accountID, func(r *stores.AccountRecord) error {
		r.Disabled = disabled
		return nil
	}); err != nil {
		return accountError(healthauth.OpUpdateProfile, err)
	}
	if disabled {
		c.mu.Lock()
		signedIn := c.current != nil && c.current.ID == accountID
		c.mu.Unlock()
		if signedIn {
			return c.SignOut(ctx)
		}
	}
	return nil
}

// SubscribeAuthState calls fn with the current account now and after every
// sign-in and sign-out. The returned func unsubscribes.
func (c *Client) SubscribeAuthState(fn func(*healthauth.Account)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	var current *healthauth.Account
	if c.current != nil {
		current = toAccount(c.current)
	}
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) setCurrent(record *stores.AccountRecord, now time.Time) *healthauth.Account {
	c.mu.Lock()
	c.current = record
	c.reauthAt = now
	acct := toAccount(record)
	c.mu.Unlock()

	c.notify(acct)
	return toAccount(record)
}

// refreshCurrent replaces the cached record without announcing a new
// sign-in.
func (c *Client) refreshCurrent(record *stores.AccountRecord) *healthauth.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.ID == record.ID {
		c.current = record
	}
	return toAccount(record)
}

func (c *Client) notify(acct *healthauth.Account) {
	c.mu.Lock()
	fns := make([]func(*healthauth.Account), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		if acct == nil {
			fn(nil)
			continue
		}
		cp := *acct
		fn(&cp)
	}
}

func (c *Client) currentID(op string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", providerError(op, healthauth.KindUnknown, healthauth.ErrNotSignedIn)
	}
	return c.current.ID, nil
}

func (c *Client) recentLogin(op string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", providerError(op, healthauth.KindUnknown, healthauth.ErrNotSignedIn)
	}
	if c.reauthAt.IsZero() || c.now().Sub(c.reauthAt) > c.cfg.RecentLoginWindow {
		return "", providerError(op, healthauth.KindRequiresRecentLogin, nil)
	}
	return c.current.ID, nil
}

func (c *Client) hashPassword(op, pass string) (string, error) {
	hash, err := c.hasher.Hash(pass)
	if err != nil {
		var perr *healthauth.ProviderError
		if errors.As(err, &perr) {
			return "", providerError(op, perr.Kind, perr.Err)
		}
		return "", providerError(op, healthauth.KindUnknown, err)
	}
	return hash, nil
}

// rehashIfStale replaces a hash made with older cost parameters. Failures
// only log; the sign-in has already succeeded.
func (c *Client) rehashIfStale(ctx context.Context, record *stores.AccountRecord, pass string) {
	stale, err := c.hasher.Stale(record.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := c.hasher.Hash(pass)
	if err != nil {
		c.log.Warn(ctx, "password rehash failed", "account_id", record.ID, "error", err)
		return
	}
	if _, err := c.accounts.Update(ctx, record.ID, func(r *stores.AccountRecord) error {
		if r.PasswordHash == record.PasswordHash {
			r.PasswordHash = hash
		}
		return nil
	}); err != nil {
		c.log.Warn(ctx, "password rehash failed", "account_id", record.ID, "error", err)
	}
}

func toAccount(r *stores.AccountRecord) *healthauth.Account {
	return &healthauth.Account{
		ID:            r.ID,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		EmailVerified: r.EmailVerified,
		PhoneNumber:   r.PhoneNumber,
		CreatedAt:     time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1 && !strings.Contains(domain, "@")
}

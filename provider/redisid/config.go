package redisid

import (
	"errors"
	"time"

	"github.com/MrEthical07/healthauth/internal/limiters"
	"github.com/MrEthical07/healthauth/internal/rate"
	"github.com/MrEthical07/healthauth/jwt"
	"github.com/MrEthical07/healthauth/password"
)

// Config tunes the identity service.
type Config struct {
	KeyPrefix string

	CodeLength int
	CodeTTL    time.Duration
	// MaxCodeAttempts is how many wrong codes a verification session
	// tolerates before it is deleted. One makes every session single-use.
	MaxCodeAttempts int
	ProofTTL        time.Duration

	// RecentLoginWindow is how long a sign-in or Reauthenticate allows
	// password and factor changes.
	RecentLoginWindow time.Duration

	EmailTokenTTL time.Duration
	ResetTokenTTL time.Duration

	SMS       limiters.SMSConfig
	Mail      limiters.MailConfig
	SignIn    rate.Config
	Passwords password.Policy
	Hashing   password.Params
	// Challenge signs the session carried by second-factor challenges.
	Challenge jwt.Config
}

// DefaultConfig returns production defaults. Challenge.PrivateKey must
// still be set.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:         "hid",
		CodeLength:        6,
		CodeTTL:           5 * time.Minute,
		MaxCodeAttempts:   1,
		ProofTTL:          10 * time.Minute,
		RecentLoginWindow: 5 * time.Minute,
		EmailTokenTTL:     24 * time.Hour,
		ResetTokenTTL:     time.Hour,
		SMS: limiters.SMSConfig{
			MaxPerNumber: 5,
			MaxPerCaller: 10,
			Window:       time.Hour,
		},
		Mail: limiters.MailConfig{
			MaxPerRecipient: 5,
			Window:          time.Hour,
		},
		SignIn: rate.Config{
			MaxSignInAttempts: 5,
			SignInCooldown:    15 * time.Minute,
		},
		Passwords: password.DefaultPolicy(),
		Hashing:   password.DefaultParams(),
		Challenge: jwt.Config{
			ChallengeTTL:  5 * time.Minute,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "healthauth",
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("redisid: KeyPrefix must be set")
	}
	if c.CodeLength < 4 || c.CodeLength > 10 {
		return errors.New("redisid: CodeLength must be between 4 and 10")
	}
	if c.CodeTTL <= 0 {
		return errors.New("redisid: CodeTTL must be > 0")
	}
	if c.MaxCodeAttempts < 1 {
		return errors.New("redisid: MaxCodeAttempts must be >= 1")
	}
	if c.ProofTTL <= 0 {
		return errors.New("redisid: ProofTTL must be > 0")
	}
	if c.RecentLoginWindow <= 0 {
		return errors.New("redisid: RecentLoginWindow must be > 0")
	}
	if c.EmailTokenTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("redisid: mail token TTLs must be > 0")
	}
	if c.SMS.MaxPerNumber > 0 && c.SMS.Window <= 0 {
		return errors.New("redisid: SMS.Window must be > 0 when SMS quota is enabled")
	}
	if c.Mail.MaxPerRecipient > 0 && c.Mail.Window <= 0 {
		return errors.New("redisid: Mail.Window must be > 0 when mail throttling is enabled")
	}
	if c.SignIn.MaxSignInAttempts > 0 && c.SignIn.SignInCooldown <= 0 {
		return errors.New("redisid: SignIn.SignInCooldown must be > 0")
	}
	return nil
}

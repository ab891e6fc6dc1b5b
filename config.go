package healthauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/healthauth/phone"
)

// Config holds engine policy. It is copied at Build time and treated as
// immutable afterwards.
type Config struct {
	Phone    PhoneConfig
	Password PasswordConfig
	Session  SessionConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// PhoneConfig controls phone entry and the code resend countdown.
type PhoneConfig struct {
	ResendCooldown time.Duration
	CodeLength     int
	DefaultCountry string
	// Countries is the ordered list used to format entered numbers and to
	// split stored numbers. The first country whose calling code prefixes a
	// stored number wins.
	Countries []phone.Country
}

// PasswordConfig holds the client-side password policy.
type PasswordConfig struct {
	MinLength int
}

// SessionConfig controls session context behaviour.
type SessionConfig struct {
	// NewAccountWindow forces onboarding for accounts created this recently.
	NewAccountWindow time.Duration
	// BypassPhoneVerification grants access without a verified phone.
	// Development builds only.
	BypassPhoneVerification bool
}

// CacheConfig controls local cache key namespacing.
type CacheConfig struct {
	KeyPrefix        string
	DevicePrefix     string
	FlushOnLoad      bool
	PendingKeySuffix string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Phone: PhoneConfig{
			ResendCooldown: 60 * time.Second,
			CodeLength:     phone.CodeLength,
			DefaultCountry: "AU",
			Countries:      append([]phone.Country(nil), phone.DefaultCountries...),
		},
		Password: PasswordConfig{
			MinLength: 8,
		},
		Session: SessionConfig{
			NewAccountWindow:        5 * time.Minute,
			BypassPhoneVerification: false,
		},
		Cache: CacheConfig{
			KeyPrefix:        "@user",
			DevicePrefix:     "@device",
			FlushOnLoad:      true,
			PendingKeySuffix: "pending",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Phone.Countries = append([]phone.Country(nil), cfg.Phone.Countries...)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Phone
	if c.Phone.ResendCooldown <= 0 {
		return errors.New("Phone ResendCooldown must be > 0")
	}
	if c.Phone.CodeLength < 4 || c.Phone.CodeLength > 10 {
		return errors.New("Phone CodeLength must be between 4 and 10")
	}
	if len(c.Phone.Countries) == 0 {
		return errors.New("Phone Countries must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Phone.Countries))
	for _, country := range c.Phone.Countries {
		if country.Code == "" {
			return errors.New("Phone Countries entries require a Code")
		}
		if _, dup := seen[country.Code]; dup {
			return errors.New("Phone Countries contains duplicate code " + country.Code)
		}
		seen[country.Code] = struct{}{}
		if _, err := phone.Format(country.CallingCode, "000000"); err != nil {
			return errors.New("Phone Countries entry " + country.Code + " has an invalid calling code")
		}
	}
	if _, ok := phone.Lookup(c.Phone.Countries, c.Phone.DefaultCountry); !ok {
		return errors.New("Phone DefaultCountry must be one of Countries")
	}

	// Password
	if c.Password.MinLength < 6 {
		return errors.New("Password MinLength must be >= 6")
	}

	// Session
	if c.Session.NewAccountWindow < 0 {
		return errors.New("Session NewAccountWindow must be >= 0")
	}

	// Cache
	if strings.TrimSpace(c.Cache.KeyPrefix) == "" {
		return errors.New("Cache KeyPrefix must not be empty")
	}
	if strings.TrimSpace(c.Cache.DevicePrefix) == "" {
		return errors.New("Cache DevicePrefix must not be empty")
	}
	if c.Cache.KeyPrefix == c.Cache.DevicePrefix {
		return errors.New("Cache KeyPrefix and DevicePrefix must differ")
	}
	if strings.TrimSpace(c.Cache.PendingKeySuffix) == "" {
		return errors.New("Cache PendingKeySuffix must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

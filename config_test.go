package healthauth

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/healthauth/phone"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(*Config) {},
		},
		{
			name:    "zero resend cooldown",
			mutate:  func(c *Config) { c.Phone.ResendCooldown = 0 },
			wantErr: "ResendCooldown",
		},
		{
			name:    "code too short",
			mutate:  func(c *Config) { c.Phone.CodeLength = 3 },
			wantErr: "CodeLength",
		},
		{
			name:    "no countries",
			mutate:  func(c *Config) { c.Phone.Countries = nil },
			wantErr: "Countries must not be empty",
		},
		{
			name: "duplicate country",
			mutate: func(c *Config) {
				c.Phone.Countries = append(c.Phone.Countries, phone.Country{Code: "AU", CallingCode: "61"})
			},
			wantErr: "duplicate code AU",
		},
		{
			name: "bad calling code",
			mutate: func(c *Config) {
				c.Phone.Countries = append(c.Phone.Countries, phone.Country{Code: "XX", CallingCode: "0"})
			},
			wantErr: "invalid calling code",
		},
		{
			name:    "unknown default country",
			mutate:  func(c *Config) { c.Phone.DefaultCountry = "NZ" },
			wantErr: "DefaultCountry",
		},
		{
			name:    "short password minimum",
			mutate:  func(c *Config) { c.Password.MinLength = 4 },
			wantErr: "MinLength",
		},
		{
			name:    "negative new account window",
			mutate:  func(c *Config) { c.Session.NewAccountWindow = -time.Second },
			wantErr: "NewAccountWindow",
		},
		{
			name:    "shared cache prefix",
			mutate:  func(c *Config) { c.Cache.DevicePrefix = c.Cache.KeyPrefix },
			wantErr: "must differ",
		},
		{
			name:    "blank pending suffix",
			mutate:  func(c *Config) { c.Cache.PendingKeySuffix = " " },
			wantErr: "PendingKeySuffix",
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantErr: "BufferSize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCloneConfigCopiesCountries(t *testing.T) {
	cfg := DefaultConfig()
	clone := cloneConfig(cfg)
	clone.Phone.Countries[0].Code = "ZZ"
	if cfg.Phone.Countries[0].Code == "ZZ" {
		t.Fatal("clone shares the countries slice")
	}
	if phone.DefaultCountries[0].Code != "AU" {
		t.Fatal("default config shares the package countries slice")
	}
}

func TestBuilderRequirements(t *testing.T) {
	if _, err := New().Build(); err == nil || !strings.Contains(err.Error(), "identity provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, err := New().WithProvider(newFakeProvider(newManualClock())).Build(); err == nil {
		t.Fatal("expected profile store error")
	}

	bad := DefaultConfig()
	bad.Phone.ResendCooldown = 0
	if _, err := New().WithConfig(bad).WithProvider(newFakeProvider(newManualClock())).Build(); err == nil {
		t.Fatal("expected invalid config to fail Build")
	}

	_, rdb := newTestRedis(t)
	b := New().WithProvider(newFakeProvider(newManualClock())).WithRedis(rdb)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build with redis failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestEngineConfigIsCopy(t *testing.T) {
	env := newTestEnv(t, nil)
	cfg := env.engine.Config()
	cfg.Phone.Countries[0].Code = "ZZ"
	if env.engine.Config().Phone.Countries[0].Code != "AU" {
		t.Fatal("Config exposed internal state")
	}
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = ".healthauthctl"
	envPrefix  = "HEALTHAUTH"
)

// Settings is the CLI configuration. Values come from flags, then
// HEALTHAUTH_* environment variables, then ~/.healthauthctl.yaml.
type Settings struct {
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// ChallengeKey signs second-factor challenge sessions (HS256, 32+ bytes).
	ChallengeKey string `mapstructure:"challenge_key"`
	CacheFile    string `mapstructure:"cache_file"`
	LogLevel     string `mapstructure:"log_level"`
	Audit        bool   `mapstructure:"audit"`

	// BypassPhoneVerification is for development builds only.
	BypassPhoneVerification bool `mapstructure:"bypass_phone_verification"`

	Captcha CaptchaSettings `mapstructure:"captcha"`
	Hashing HashSettings    `mapstructure:"hashing"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

type CaptchaSettings struct {
	// Token is the device-side token; with no Secret it is also the only
	// token the service accepts.
	Token    string        `mapstructure:"token"`
	Secret   string        `mapstructure:"secret"`
	Endpoint string        `mapstructure:"endpoint"`
	MinScore float64       `mapstructure:"min_score"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type HashSettings struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

type MetricsSettings struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_addr", "")
	v.SetDefault("key_prefix", "hid")
	v.SetDefault("challenge_key", "")
	v.SetDefault("cache_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("audit", false)
	v.SetDefault("bypass_phone_verification", false)
	v.SetDefault("captcha.token", "healthauthctl")
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.endpoint", "")
	v.SetDefault("captcha.min_score", 0)
	v.SetDefault("captcha.timeout", "5s")
	v.SetDefault("hashing.memory_kib", 64*1024)
	v.SetDefault("hashing.time", 1)
	v.SetDefault("hashing.parallelism", 1)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// loadSettings reads cfgFile, or ~/.healthauthctl.yaml when cfgFile is
// empty. A missing default file is not an error.
func loadSettings(v *viper.Viper, cfgFile string) (Settings, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(configName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if s.CacheFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			s.CacheFile = filepath.Join(home, configName, "cache.yaml")
		}
	}
	return s, nil
}

// requireChallengeKey reports a missing signing key with the config key
// that sets it.
func (s Settings) requireChallengeKey() error {
	if len(s.ChallengeKey) < 32 {
		return errors.New("challenge_key must be set to at least 32 bytes (HEALTHAUTH_CHALLENGE_KEY)")
	}
	return nil
}

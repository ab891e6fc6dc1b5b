package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/captcha"
	"github.com/MrEthical07/healthauth/provider/redisid"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// consoleSMS delivers texts by logging them. It stands in for an SMS
// gateway on a developer machine.
type consoleSMS struct {
	log *slog.Logger
}

func (c consoleSMS) SendSMS(ctx context.Context, number, message string) error {
	c.log.InfoContext(ctx, "sms delivered", "to", number, "message", message)
	return nil
}

type consoleMail struct {
	log *slog.Logger
}

func (c consoleMail) SendMail(ctx context.Context, m redisid.Mail) error {
	c.log.InfoContext(ctx, "mail delivered", "to", m.To, "kind", string(m.Kind), "token", m.Token)
	return nil
}

// runtime is everything one command invocation talks to.
type runtime struct {
	settings Settings
	log      *slog.Logger
	rdb      redis.UniversalClient
	provider *redisid.Client
	engine   *healthauth.Engine
	embedded bool

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a *App) newLogger(s Settings) *slog.Logger {
	return slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: parseLevel(s.LogLevel)}))
}

// connectRedis dials s.RedisAddr, or starts an in-process miniredis when
// no address is configured. Embedded data lives only as long as the
// command.
func connectRedis(ctx context.Context, s Settings) (redis.UniversalClient, func(), bool, error) {
	if s.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, false, fmt.Errorf("start embedded redis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, true, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{s.RedisAddr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, false, fmt.Errorf("redis %s: %w", s.RedisAddr, err)
	}
	return client, func() { _ = client.Close() }, false, nil
}

func (a *App) captchaChecker(s Settings) (captcha.Checker, error) {
	if s.Captcha.Secret == "" {
		return captcha.StaticChecker{Token: s.Captcha.Token}, nil
	}
	return captcha.NewSiteVerifier(captcha.SiteVerifyConfig{
		Endpoint: s.Captcha.Endpoint,
		Secret:   s.Captcha.Secret,
		MinScore: s.Captcha.MinScore,
		Timeout:  s.Captcha.Timeout,
		Retries:  2,
	})
}

func providerConfig(s Settings) redisid.Config {
	cfg := redisid.DefaultConfig()
	cfg.KeyPrefix = s.KeyPrefix
	cfg.Challenge.PrivateKey = []byte(s.ChallengeKey)
	if s.Hashing.MemoryKiB > 0 {
		cfg.Hashing.MemoryKiB = s.Hashing.MemoryKiB
	}
	if s.Hashing.Time > 0 {
		cfg.Hashing.Time = s.Hashing.Time
	}
	if s.Hashing.Parallelism > 0 {
		cfg.Hashing.Parallelism = s.Hashing.Parallelism
	}
	return cfg
}

func engineConfig(s Settings) healthauth.Config {
	cfg := healthauth.DefaultConfig()
	cfg.Session.BypassPhoneVerification = s.BypassPhoneVerification
	cfg.Audit.Enabled = s.Audit
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// newProvider builds an identity client on rdb. Every engine needs its
// own client because a client holds one signed-in account.
func (a *App) newProvider(rdb redis.UniversalClient, s Settings, log *slog.Logger) (*redisid.Client, error) {
	checker, err := a.captchaChecker(s)
	if err != nil {
		return nil, err
	}
	sms := a.SMS
	if sms == nil {
		sms = consoleSMS{log: log}
	}
	mail := a.Mail
	if mail == nil {
		mail = consoleMail{log: log}
	}
	return redisid.New(rdb, providerConfig(s), redisid.Deps{
		Captcha: checker,
		SMS:     sms,
		Mail:    mail,
		Logger:  log,
	})
}

// newEngine wires and starts an engine around provider. local may be nil
// for an in-memory device cache.
func (a *App) newEngine(ctx context.Context, rdb redis.UniversalClient, provider *redisid.Client, local healthauth.LocalStore, s Settings, log *slog.Logger) (*healthauth.Engine, error) {
	b := healthauth.New().
		WithConfig(engineConfig(s)).
		WithProvider(provider).
		WithRedis(rdb).
		WithCaptcha(captcha.StaticToken(s.Captcha.Token)).
		WithLogger(log)
	if local != nil {
		b = b.WithLocalStore(local)
	}
	if s.Audit {
		b = b.WithAuditSink(healthauth.NewJSONWriterSink(a.Err))
	}
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

// open connects to Redis and starts an engine backed by the device cache
// file.
func (a *App) open(ctx context.Context) (*runtime, error) {
	s := a.settings
	if err := s.requireChallengeKey(); err != nil {
		return nil, err
	}
	log := a.newLogger(s)
	rt := &runtime{settings: s, log: log}

	rdb, closeRedis, embedded, err := connectRedis(ctx, s)
	if err != nil {
		return nil, err
	}
	rt.rdb = rdb
	rt.embedded = embedded
	rt.closers = append(rt.closers, closeRedis)
	if embedded {
		log.Warn("no redis_addr configured; using embedded redis, data is discarded on exit")
	}

	var local healthauth.LocalStore
	if s.CacheFile != "" {
		fs, err := healthauth.OpenFileLocalStore(s.CacheFile)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		local = fs
	}

	rt.provider, err = a.newProvider(rdb, s, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine, err = a.newEngine(ctx, rdb, rt.provider, local, s, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.engine.Close)
	return rt, nil
}

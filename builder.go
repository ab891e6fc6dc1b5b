package healthauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/healthauth/internal/flows"
	"github.com/MrEthical07/healthauth/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Builder configures an Engine. A Builder is single-use: Build may succeed
// only once.
type Builder struct {
	config Config

	provider IdentityProvider
	captcha  CaptchaVerifier
	profiles ProfileStore
	redis    redis.UniversalClient
	local    LocalStore
	clock    Clock
	logger   *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithProvider sets the identity provider. Required.
func (b *Builder) WithProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithCaptcha sets the CAPTCHA verifier completed before each code send.
func (b *Builder) WithCaptcha(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithProfileStore sets the remote profile store. It takes precedence over
// WithRedis.
func (b *Builder) WithProfileStore(s ProfileStore) *Builder {
	b.profiles = s
	return b
}

// WithRedis stores profile documents in Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLocalStore sets the device-local cache. Defaults to an in-memory store.
func (b *Builder) WithLocalStore(s LocalStore) *Builder {
	b.local = s
	return b
}

// WithClock replaces the wall clock, for the resend countdown and audit
// timestamps.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger. Nil discards all output.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the code confirmation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}

	profiles := b.profiles
	if profiles == nil {
		if b.redis == nil {
			return nil, errors.New("profile store or redis client required")
		}
		profiles = NewRedisProfileStore(b.redis, "")
	}

	local := b.local
	if local == nil {
		local = NewMemoryLocalStore()
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	var log logging.Logger = logging.Nop()
	if b.logger != nil {
		log = logging.NewSlogLogger(b.logger).With("component", "healthauth")
	}

	engine := &Engine{
		config:   cfg,
		provider: b.provider,
		captcha:  b.captcha,
		profiles: profiles,
		local:    local,
		keys:     newCacheKeys(cfg.Cache),
		clock:    clock,
		log:      log,
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.tracker = NewVerificationTracker(profiles, local, cfg.Cache, log.With("component", "tracker"))
	engine.session = newSession(b.provider, profiles, engine.tracker, local, cfg, clock, log.With("component", "session"))
	engine.tracker.hooks = trackerHooks{
		changed: engine.session.applyStatus,
		writeFailed: func(ctx context.Context, accountID string, err error) {
			engine.metricInc(MetricStatusWriteFailure)
			engine.emitAudit(ctx, auditEventStatusWriteFailed, false, accountID, "", err, nil)
		},
		reconciled: func(context.Context, string) {
			engine.metricInc(MetricStatusReconciled)
		},
	}

	engine.flows = flows.New(engine.buildFlowDeps())

	b.built = true

	return engine, nil
}

package tokengate

import (
	"errors"
	"os"
	"time"

	"github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/MrEthical07/tokengate/revocation"
	"github.com/MrEthical07/tokengate/token"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    logrus.FieldLogger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. cfg is deep-copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the revocation store and the rate
// limiters. The client must be created with ContextTimeoutEnabled: without it
// go-redis ignores context deadlines on the socket and the gate would wait for
// the client's ReadTimeout instead of Store.OperationTimeout.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger overrides the logger built from Config.Logging.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the clock used for token issuance and verification.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Configuration
// problems are reported as *ConfigError.
//
// A *redis.Client without ContextTimeoutEnabled is refused. Other
// UniversalClient implementations cannot be inspected; the caller must enable
// context timeouts on them as well.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c, ok := b.redis.(*redis.Client); ok && !c.Options().ContextTimeoutEnabled {
		return nil, &ConfigError{Field: "Redis", Reason: "client must set ContextTimeoutEnabled"}
	}

	codec, err := token.NewCodec(token.Config{
		Secret: cloneBytes(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		Leeway: cfg.JWT.Leeway,
		Now:    b.now,
	})
	if err != nil {
		return nil, &ConfigError{Field: "JWT", Reason: "codec rejected configuration", Err: err}
	}

	log := b.logger
	if log == nil {
		log = newLogger(cfg.Logging)
	}

	store := revocation.NewStore(b.redis, revocation.Config{
		KeyPrefix:        cfg.Store.KeyPrefix,
		OperationTimeout: cfg.Store.OperationTimeout,
		ScanBatchSize:    cfg.Store.ScanBatchSize,
	})
	limiter := rate.New(b.redis, rate.Config{
		KeyPrefix:             cfg.Store.KeyPrefix,
		EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
		MaxLoginAttemptsPerIP: cfg.RateLimit.MaxLoginAttemptsPerIP,
		LoginWindow:           cfg.RateLimit.LoginWindow,
		MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
		RefreshWindow:         cfg.Security.RefreshWindow,
	})
	lockout := rate.NewLockout(b.redis, rate.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		KeyPrefix: cfg.Store.KeyPrefix,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
	})

	lifetimes := flows.Lifetimes{Access: cfg.JWT.AccessTTL, Refresh: cfg.JWT.RefreshTTL}
	refreshDeps := flows.RefreshDeps{
		Codec:             codec,
		Store:             store,
		Lifetimes:         lifetimes,
		RevokeAllOnReplay: cfg.Security.RevokeAllOnReplay,
		Logger:            log,
	}
	loginDeps := flows.LoginDeps{
		Codec:     codec,
		Store:     store,
		Lifetimes: lifetimes,
	}
	if cfg.Security.EnableRefreshThrottle {
		refreshDeps.RateLimiter = limiter
	}
	if cfg.Lockout.Enabled {
		refreshDeps.Locks = lockout
		loginDeps.Locks = lockout
	}

	engine := &Engine{
		config:  cfg,
		codec:   codec,
		store:   store,
		limiter: limiter,
		lockout: lockout,
		log:     log,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		flows: flows.New(flows.Deps{
			Login:   loginDeps,
			Refresh: refreshDeps,
			Logout:  flows.LogoutDeps{Codec: codec, Store: store},
			Authenticate: flows.AuthenticateDeps{
				Codec:     codec,
				Blacklist: store,
				Timeout:   cfg.Store.OperationTimeout,
			},
		}),
	}

	b.built = true

	return engine, nil
}

func newLogger(cfg LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level := logrus.InfoLevel
	if cfg.Level != "" {
		if parsed, err := logrus.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
	return log
}

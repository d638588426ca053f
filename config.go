package tokengate

import (
	"fmt"
	"time"

	"github.com/MrEthical07/tokengate/token"
	"github.com/sirupsen/logrus"
)

// Config is the complete engine configuration. Builder.Build deep-copies and
// validates it once; the engine never mutates it afterwards.
type Config struct {
	JWT       JWTConfig
	Store     StoreConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	// Secret is the shared HS256 key; at least token.MinSecretBytes long.
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway is the clock tolerance applied to exp, at most 2m.
	Leeway time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the Redis revocation store.
type StoreConfig struct {
	KeyPrefix        string
	OperationTimeout time.Duration
	ScanBatchSize    int
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls refresh rotation hardening.
type SecurityConfig struct {
	// RevokeAllOnReplay deletes every refresh entry of a user when a rotated
	// refresh token is presented again.
	RevokeAllOnReplay     bool
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is a fixed window budget.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig controls the login throttle and the API request windows
// applied by middleware.RateLimit.
type RateLimitConfig struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	MaxLoginAttemptsPerIP int
	LoginWindow           time.Duration
	// Classes maps a request class to its window. Requests whose class is
	// not listed use the "default" rule; without one they are not limited.
	Classes map[string]RateLimitRule
}

// Rate limit classes used by the bundled classifier.
const (
	RateClassAuth    = "auth"
	RateClassUser    = "user"
	RateClassDefault = "default"
)

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls automatic account lockout after repeated failures.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

/*
====================================
AUDIT / METRICS / LOGGING CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LoggingConfig configures the default logger. It is ignored when the
// builder receives a logger through WithLogger.
type LoggingConfig struct {
	Level  string
	Format string // "text" (default) or "json"
}

// DefaultConfig returns the production defaults. JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:     "tokengate",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			OperationTimeout: 250 * time.Millisecond,
			ScanBatchSize:    500,
		},
		Security: SecurityConfig{
			RevokeAllOnReplay:     true,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshWindow:         time.Minute,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:      true,
			MaxLoginAttempts:      5,
			MaxLoginAttemptsPerIP: 20,
			LoginWindow:           15 * time.Minute,
			Classes: map[string]RateLimitRule{
				RateClassAuth:    {Limit: 10, Window: time.Minute},
				RateClassUser:    {Limit: 200, Window: time.Minute},
				RateClassDefault: {Limit: 60, Window: time.Minute},
			},
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 10,
			Window:    time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.RateLimit.Classes != nil {
		out.RateLimit.Classes = make(map[string]RateLimitRule, len(cfg.RateLimit.Classes))
		for k, v := range cfg.RateLimit.Classes {
			out.RateLimit.Classes[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration problem as a *ConfigError.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < token.MinSecretBytes {
		return &ConfigError{Field: "JWT.Secret", Reason: fmt.Sprintf("must be at least %d bytes", token.MinSecretBytes), Err: token.ErrSecretTooShort}
	}
	if c.JWT.Issuer == "" {
		return configErr("JWT.Issuer", "must not be empty")
	}
	if c.JWT.AccessTTL <= 0 {
		return configErr("JWT.AccessTTL", "must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return configErr("JWT.RefreshTTL", "must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return configErr("JWT.RefreshTTL", "must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return &ConfigError{Field: "JWT.Leeway", Reason: "must be between 0 and 2m", Err: token.ErrInvalidLeeway}
	}

	if c.Store.OperationTimeout <= 0 {
		return configErr("Store.OperationTimeout", "must be > 0")
	}
	if c.Store.ScanBatchSize <= 0 {
		return configErr("Store.ScanBatchSize", "must be > 0")
	}

	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return configErr("Security.MaxRefreshAttempts", "must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshWindow <= 0 {
			return configErr("Security.RefreshWindow", "must be > 0 when refresh throttle is enabled")
		}
	}

	if c.RateLimit.MaxLoginAttempts <= 0 {
		return configErr("RateLimit.MaxLoginAttempts", "must be > 0")
	}
	if c.RateLimit.LoginWindow <= 0 {
		return configErr("RateLimit.LoginWindow", "must be > 0")
	}
	if c.RateLimit.EnableIPThrottle && c.RateLimit.MaxLoginAttemptsPerIP <= 0 {
		return configErr("RateLimit.MaxLoginAttemptsPerIP", "must be > 0 when IP throttle is enabled")
	}
	for class, rule := range c.RateLimit.Classes {
		if class == "" {
			return configErr("RateLimit.Classes", "class name must not be empty")
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			return configErr("RateLimit.Classes."+class, "limit and window must be > 0")
		}
	}

	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return configErr("Lockout.Threshold", "must be > 0 when lockout is enabled")
		}
		if c.Lockout.Window <= 0 {
			return configErr("Lockout.Window", "must be > 0 when lockout is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configErr("Audit.BufferSize", "must be > 0 when audit is enabled")
	}

	if c.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
			return &ConfigError{Field: "Logging.Level", Reason: "unknown level", Err: err}
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return configErr("Logging.Format", "must be 'text' or 'json'")
	}

	return nil
}

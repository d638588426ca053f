package tokengate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/tokengate/token"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
		wantField string
	}{
		{
			name:      "defaults with secret valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway too large",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantField: "JWT.Leeway",
		},
		{
			name: "jwt leeway negative",
			mutate: func(c *Config) {
				c.JWT.Leeway = -time.Second
			},
			wantField: "JWT.Leeway",
		},
		{
			name: "empty issuer",
			mutate: func(c *Config) {
				c.JWT.Issuer = ""
			},
			wantField: "JWT.Issuer",
		},
		{
			name: "refresh shorter than access",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = time.Minute
			},
			wantField: "JWT.RefreshTTL",
		},
		{
			name: "zero store timeout",
			mutate: func(c *Config) {
				c.Store.OperationTimeout = 0
			},
			wantField: "Store.OperationTimeout",
		},
		{
			name: "refresh throttle without budget",
			mutate: func(c *Config) {
				c.Security.MaxRefreshAttempts = 0
			},
			wantField: "Security.MaxRefreshAttempts",
		},
		{
			name: "refresh throttle disabled ignores budget",
			mutate: func(c *Config) {
				c.Security.EnableRefreshThrottle = false
				c.Security.MaxRefreshAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "ip throttle without budget",
			mutate: func(c *Config) {
				c.RateLimit.MaxLoginAttemptsPerIP = 0
			},
			wantField: "RateLimit.MaxLoginAttemptsPerIP",
		},
		{
			name: "bad rate class",
			mutate: func(c *Config) {
				c.RateLimit.Classes["search"] = RateLimitRule{Limit: 0, Window: time.Minute}
			},
			wantField: "RateLimit.Classes.search",
		},
		{
			name: "lockout without threshold",
			mutate: func(c *Config) {
				c.Lockout.Threshold = 0
			},
			wantField: "Lockout.Threshold",
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantField: "Audit.BufferSize",
		},
		{
			name: "unknown log level",
			mutate: func(c *Config) {
				c.Logging.Level = "loud"
			},
			wantField: "Logging.Level",
		},
		{
			name: "unknown log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantField: "Logging.Format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q", tc.wantField, cfgErr.Field)
			}
		})
	}
}

func TestConfigValidateWrapsCodecErrors(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = []byte("too-short")
	if err := cfg.Validate(); !errors.Is(err, token.ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}

	cfg = testConfig()
	cfg.JWT.Leeway = 5 * time.Minute
	if err := cfg.Validate(); !errors.Is(err, token.ErrInvalidLeeway) {
		t.Fatalf("expected ErrInvalidLeeway, got %v", err)
	}
}

func TestDefaultConfigHasNoSecret(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.JWT.Secret) != 0 {
		t.Fatal("default config must not carry a secret")
	}
	if err := cfg.Validate(); !errors.Is(err, token.ErrSecretTooShort) {
		t.Fatalf("expected defaults to fail without a secret, got %v", err)
	}
}

func TestWithConfigCopiesInput(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)

	cfg.JWT.Secret[0] = 'X'
	cfg.RateLimit.Classes[RateClassAuth] = RateLimitRule{Limit: 1, Window: time.Second}

	if b.config.JWT.Secret[0] == 'X' {
		t.Fatal("builder must not share the secret slice")
	}
	if b.config.RateLimit.Classes[RateClassAuth].Limit == 1 {
		t.Fatal("builder must not share the classes map")
	}
}

const sampleConfigYAML = `
jwt:
  secret_env: TOKENGATE_TEST_SECRET
  issuer: billing-api
  access_ttl: 5m
  refresh_ttl: 720h
  leeway: 30
store:
  key_prefix: "tg:"
  operation_timeout: 100ms
security:
  revoke_all_on_replay: false
  max_refresh_attempts: 12
rate_limit:
  max_login_attempts: 4
  classes:
    auth:
      limit: 3
      window: 30s
    search:
      limit: 50
      window: 1m
lockout:
  enabled: false
audit:
  enabled: true
logging:
  level: debug
  format: json
`

func TestParseConfigOverlaysDefaults(t *testing.T) {
	env := map[string]string{"TOKENGATE_TEST_SECRET": testSecret}
	cfg, err := ParseConfig([]byte(sampleConfigYAML), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if string(cfg.JWT.Secret) != testSecret {
		t.Fatal("secret not read from the environment")
	}
	if cfg.JWT.Issuer != "billing-api" || cfg.JWT.AccessTTL != 5*time.Minute || cfg.JWT.RefreshTTL != 720*time.Hour {
		t.Fatalf("unexpected jwt section %+v", cfg.JWT)
	}
	if cfg.JWT.Leeway != 30*time.Second {
		t.Fatalf("integer durations are seconds, got %v", cfg.JWT.Leeway)
	}
	if cfg.Store.KeyPrefix != "tg:" || cfg.Store.OperationTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected store section %+v", cfg.Store)
	}
	if cfg.Store.ScanBatchSize != 500 {
		t.Fatalf("unset fields keep defaults, got %d", cfg.Store.ScanBatchSize)
	}
	if cfg.Security.RevokeAllOnReplay || cfg.Security.MaxRefreshAttempts != 12 || !cfg.Security.EnableRefreshThrottle {
		t.Fatalf("unexpected security section %+v", cfg.Security)
	}
	if cfg.RateLimit.MaxLoginAttempts != 4 || cfg.RateLimit.MaxLoginAttemptsPerIP != 20 {
		t.Fatalf("unexpected rate limit section %+v", cfg.RateLimit)
	}
	if got := cfg.RateLimit.Classes[RateClassAuth]; got.Limit != 3 || got.Window != 30*time.Second {
		t.Fatalf("unexpected auth class %+v", got)
	}
	if got := cfg.RateLimit.Classes["search"]; got.Limit != 50 || got.Window != time.Minute {
		t.Fatalf("unexpected search class %+v", got)
	}
	if _, ok := cfg.RateLimit.Classes[RateClassDefault]; !ok {
		t.Fatal("default class must survive the overlay")
	}
	if cfg.Lockout.Enabled || !cfg.Audit.Enabled {
		t.Fatal("boolean overrides not applied")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging section %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("parsed config must validate: %v", err)
	}
}

func TestParseConfigMissingSecretEnv(t *testing.T) {
	_, err := ParseConfig([]byte(sampleConfigYAML), func(string) (string, bool) { return "", false })
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "jwt.secret_env" {
		t.Fatalf("expected ConfigError for jwt.secret_env, got %v", err)
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	_, err := ParseConfig([]byte("jwt:\n  access_ttl: soon\n"), func(string) (string, bool) { return "", false })
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TOKENGATE_TEST_SECRET", testSecret)

	path := filepath.Join(t.TempDir(), "tokengate.yaml")
	if err := os.WriteFile(path, []byte(sampleConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.JWT.Issuer != "billing-api" {
		t.Fatalf("unexpected issuer %q", cfg.JWT.Issuer)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

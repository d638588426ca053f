package tokengate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings such as "15m".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// FileConfig is the YAML shape of Config. Unset fields keep their defaults.
type FileConfig struct {
	JWT struct {
		// SecretEnv names the environment variable holding the signing
		// secret. Secrets are never read from the file itself.
		SecretEnv  string    `yaml:"secret_env"`
		Issuer     *string   `yaml:"issuer"`
		AccessTTL  *Duration `yaml:"access_ttl"`
		RefreshTTL *Duration `yaml:"refresh_ttl"`
		Leeway     *Duration `yaml:"leeway"`
	} `yaml:"jwt"`

	Store struct {
		KeyPrefix        *string   `yaml:"key_prefix"`
		OperationTimeout *Duration `yaml:"operation_timeout"`
		ScanBatchSize    *int      `yaml:"scan_batch_size"`
	} `yaml:"store"`

	Security struct {
		RevokeAllOnReplay     *bool     `yaml:"revoke_all_on_replay"`
		EnableRefreshThrottle *bool     `yaml:"enable_refresh_throttle"`
		MaxRefreshAttempts    *int      `yaml:"max_refresh_attempts"`
		RefreshWindow         *Duration `yaml:"refresh_window"`
	} `yaml:"security"`

	RateLimit struct {
		EnableIPThrottle      *bool                   `yaml:"enable_ip_throttle"`
		MaxLoginAttempts      *int                    `yaml:"max_login_attempts"`
		MaxLoginAttemptsPerIP *int                    `yaml:"max_login_attempts_per_ip"`
		LoginWindow           *Duration               `yaml:"login_window"`
		Classes               map[string]fileRateRule `yaml:"classes"`
	} `yaml:"rate_limit"`

	Lockout struct {
		Enabled   *bool     `yaml:"enabled"`
		Threshold *int      `yaml:"threshold"`
		Window    *Duration `yaml:"window"`
	} `yaml:"lockout"`

	Audit struct {
		Enabled    *bool `yaml:"enabled"`
		BufferSize *int  `yaml:"buffer_size"`
		DropIfFull *bool `yaml:"drop_if_full"`
	} `yaml:"audit"`

	Metrics struct {
		Enabled                 *bool `yaml:"enabled"`
		EnableLatencyHistograms *bool `yaml:"latency_histograms"`
	} `yaml:"metrics"`

	Logging struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"logging"`
}

type fileRateRule struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
}

// LoadConfigFile reads a YAML file and overlays it on DefaultConfig. The
// result is not validated; Builder.Build does that.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, os.LookupEnv)
}

// ParseConfig decodes YAML config data. lookupEnv resolves jwt.secret_env.
func ParseConfig(data []byte, lookupEnv func(string) (string, bool)) (Config, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := defaultConfig()

	if fc.JWT.SecretEnv != "" {
		secret, ok := lookupEnv(fc.JWT.SecretEnv)
		if !ok || secret == "" {
			return Config{}, &ConfigError{Field: "jwt.secret_env", Reason: fmt.Sprintf("environment variable %s is not set", fc.JWT.SecretEnv)}
		}
		cfg.JWT.Secret = []byte(secret)
	}
	setString(&cfg.JWT.Issuer, fc.JWT.Issuer)
	setDuration(&cfg.JWT.AccessTTL, fc.JWT.AccessTTL)
	setDuration(&cfg.JWT.RefreshTTL, fc.JWT.RefreshTTL)
	setDuration(&cfg.JWT.Leeway, fc.JWT.Leeway)

	setString(&cfg.Store.KeyPrefix, fc.Store.KeyPrefix)
	setDuration(&cfg.Store.OperationTimeout, fc.Store.OperationTimeout)
	setInt(&cfg.Store.ScanBatchSize, fc.Store.ScanBatchSize)

	setBool(&cfg.Security.RevokeAllOnReplay, fc.Security.RevokeAllOnReplay)
	setBool(&cfg.Security.EnableRefreshThrottle, fc.Security.EnableRefreshThrottle)
	setInt(&cfg.Security.MaxRefreshAttempts, fc.Security.MaxRefreshAttempts)
	setDuration(&cfg.Security.RefreshWindow, fc.Security.RefreshWindow)

	setBool(&cfg.RateLimit.EnableIPThrottle, fc.RateLimit.EnableIPThrottle)
	setInt(&cfg.RateLimit.MaxLoginAttempts, fc.RateLimit.MaxLoginAttempts)
	setInt(&cfg.RateLimit.MaxLoginAttemptsPerIP, fc.RateLimit.MaxLoginAttemptsPerIP)
	setDuration(&cfg.RateLimit.LoginWindow, fc.RateLimit.LoginWindow)
	for class, rule := range fc.RateLimit.Classes {
		cfg.RateLimit.Classes[class] = RateLimitRule{Limit: rule.Limit, Window: time.Duration(rule.Window)}
	}

	setBool(&cfg.Lockout.Enabled, fc.Lockout.Enabled)
	setInt(&cfg.Lockout.Threshold, fc.Lockout.Threshold)
	setDuration(&cfg.Lockout.Window, fc.Lockout.Window)

	setBool(&cfg.Audit.Enabled, fc.Audit.Enabled)
	setInt(&cfg.Audit.BufferSize, fc.Audit.BufferSize)
	setBool(&cfg.Audit.DropIfFull, fc.Audit.DropIfFull)

	setBool(&cfg.Metrics.Enabled, fc.Metrics.Enabled)
	setBool(&cfg.Metrics.EnableLatencyHistograms, fc.Metrics.EnableLatencyHistograms)

	setString(&cfg.Logging.Level, fc.Logging.Level)
	setString(&cfg.Logging.Format, fc.Logging.Format)

	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Arbflow    ArbflowConfig    `yaml:"arbflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Venues     []VenueConfig    `yaml:"venues"`
	Symbols    []string         `yaml:"symbols"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Stream     StreamConfig     `yaml:"stream"`
}

type ArbflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	DashboardName  string        `yaml:"dashboard_name"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ResourceHistory int           `yaml:"resource_history"`
}

type GatewayConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheSweep      time.Duration `yaml:"cache_sweep"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Breaker         BreakerConfig `yaml:"breaker"`
	Retry           RetryConfig   `yaml:"retry"`
	Proxies         []string      `yaml:"proxies"`
	UserAgents      []string      `yaml:"user_agents"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	BlockCooldown    time.Duration `yaml:"block_cooldown"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type VenueConfig struct {
	ID            string            `yaml:"id"`
	DisplayName   string            `yaml:"display_name"`
	Priority      int               `yaml:"priority"`
	GeoRestricted bool              `yaml:"geo_restricted"`
	Spot          string            `yaml:"spot_url"`
	Futures       string            `yaml:"futures_url"`
	Probe         string            `yaml:"probe_url"`
	RateLimit     RateBudgetConfig  `yaml:"rate_limit"`
	Credentials   CredentialsConfig `yaml:"credentials"`
}

type RateBudgetConfig struct {
	MaxCallsPerWindow int           `yaml:"max_calls_per_window"`
	Window            time.Duration `yaml:"window"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type CredentialsConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

type ThresholdsConfig struct {
	BasisPercentMin float64 `yaml:"basis_percent_min"`
	FundingRateMin  float64 `yaml:"funding_rate_min"`
}

type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Venue          string        `yaml:"venue"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Buffer         int           `yaml:"buffer"`
}

// knownVenues lists the venue ids the gateway has connectors for.
var knownVenues = map[string]struct{}{
	"binance": {},
	"bybit":   {},
	"okx":     {},
	"kucoin":  {},
}

// defaultConfigPath is the fallback configuration file, with per-environment
// overrides picked up via APP_ENV.
const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Gateway: GatewayConfig{
			CacheTTL:        15 * time.Second,
			CacheSweep:      time.Minute,
			SnapshotTimeout: 15 * time.Second,
			PollInterval:    30 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				Cooldown:         120 * time.Second,
				BlockCooldown:    15 * time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets credentials and the proxy pool come from the
// environment so secrets stay out of config files.
func applyEnvOverrides(cfg *Config) {
	for i := range cfg.Venues {
		id := strings.ToUpper(cfg.Venues[i].ID)
		if v := os.Getenv("ARBFLOW_" + id + "_API_KEY"); v != "" {
			cfg.Venues[i].Credentials.APIKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("ARBFLOW_" + id + "_API_SECRET"); v != "" {
			cfg.Venues[i].Credentials.APISecret = strings.TrimSpace(v)
		}
		if v := os.Getenv("ARBFLOW_" + id + "_PASSPHRASE"); v != "" {
			cfg.Venues[i].Credentials.Passphrase = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("ARBFLOW_PROXIES"); v != "" {
		parts := strings.Split(v, ",")
		proxies := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
		if len(proxies) > 0 {
			cfg.Gateway.Proxies = proxies
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Arbflow.Name == "" {
		return fmt.Errorf("arbflow.name is required")
	}

	if cfg.Arbflow.Version == "" {
		return fmt.Errorf("arbflow.version is required")
	}

	if len(cfg.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}

	seenIDs := make(map[string]struct{}, len(cfg.Venues))
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		v.ID = strings.ToLower(strings.TrimSpace(v.ID))
		if v.ID == "" {
			return fmt.Errorf("venues[%d].id is required", i)
		}
		if _, ok := knownVenues[v.ID]; !ok {
			return fmt.Errorf("venues[%d].id '%s' is not a supported venue", i, v.ID)
		}
		if _, dup := seenIDs[v.ID]; dup {
			return fmt.Errorf("venue '%s' is configured twice", v.ID)
		}
		seenIDs[v.ID] = struct{}{}

		if v.Priority <= 0 {
			return fmt.Errorf("venue '%s' priority must be greater than 0", v.ID)
		}
		if v.Spot == "" || v.Futures == "" {
			return fmt.Errorf("venue '%s' requires spot_url and futures_url", v.ID)
		}
		if v.RateLimit.MaxCallsPerWindow <= 0 {
			return fmt.Errorf("venue '%s' rate_limit.max_calls_per_window must be greater than 0", v.ID)
		}
		if v.RateLimit.Window <= 0 {
			return fmt.Errorf("venue '%s' rate_limit.window must be greater than 0", v.ID)
		}
		if (v.Credentials.APIKey == "") != (v.Credentials.APISecret == "") {
			return fmt.Errorf("venue '%s' credentials require both api_key and api_secret", v.ID)
		}
	}

	if cfg.Gateway.CacheTTL <= 0 {
		return fmt.Errorf("gateway.cache_ttl must be greater than 0")
	}
	if cfg.Gateway.SnapshotTimeout <= 0 {
		return fmt.Errorf("gateway.snapshot_timeout must be greater than 0")
	}
	if cfg.Gateway.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("gateway.breaker.failure_threshold must be greater than 0")
	}
	if cfg.Gateway.Breaker.Cooldown <= 0 {
		return fmt.Errorf("gateway.breaker.cooldown must be greater than 0")
	}
	if cfg.Gateway.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("gateway.retry.max_attempts must be greater than 0")
	}
	if cfg.Gateway.Retry.BaseDelay <= 0 {
		return fmt.Errorf("gateway.retry.base_delay must be greater than 0")
	}

	if cfg.Stream.Enabled && cfg.Stream.Venue == "" {
		return fmt.Errorf("stream.venue is required when the stream is enabled")
	}

	return nil
}

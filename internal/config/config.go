// Package config provides configuration management for CEREBRO.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all CEREBRO configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Feed       FeedConfig       `yaml:"feed"`
	Forensics  ForensicsConfig  `yaml:"forensics"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Reports    ReportsConfig    `yaml:"reports"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestTimeout bounds each request, including the forensics probes
	// of a URL assessment.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// Password resolves the Redis password from the configured env var.
func (c RedisConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// FeedConfig holds threat feed settings.
type FeedConfig struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	CachePath      string        `yaml:"cache_path"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxSize        int64         `yaml:"max_size"`
	WriteCache     bool          `yaml:"write_cache"`
	ReloadSchedule string        `yaml:"reload_schedule"` // cron spec, empty disables
}

// ForensicsConfig holds DNS and TLS probe settings.
type ForensicsConfig struct {
	DNSResolver string        `yaml:"dns_resolver"` // host:port or "system"
	DNSTimeout  time.Duration `yaml:"dns_timeout"`
	TLSTimeout  time.Duration `yaml:"tls_timeout"`
	TLSPort     int           `yaml:"tls_port"`
}

// ClassifierConfig holds model service settings.
type ClassifierConfig struct {
	URLEndpoint   string        `yaml:"url_endpoint"`
	EmailEndpoint string        `yaml:"email_endpoint"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ReportsConfig holds indicator report sink settings.
type ReportsConfig struct {
	OutputDir string          `yaml:"output_dir"`
	HEC       HECSenderConfig `yaml:"hec"`
}

// HECSenderConfig holds Splunk HEC sender settings.
type HECSenderConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HECURL     string        `yaml:"hec_url"`
	TokenEnv   string        `yaml:"token_env"`
	Index      string        `yaml:"index"`
	SourceType string        `yaml:"sourcetype"`
	Source     string        `yaml:"source"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// IncidentsConfig holds incident log settings.
type IncidentsConfig struct {
	Key        string `yaml:"key"`
	MaxEntries int64  `yaml:"max_entries"`
}

// RateLimitConfig holds API rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool                      `yaml:"enabled"`
	RequestsPerMinute int                       `yaml:"requests_per_minute"`
	IncludeHeaders    bool                      `yaml:"include_headers"`
	Endpoints         map[string]EndpointLimits `yaml:"endpoints"`
}

// EndpointLimits overrides the per-minute budget for one route.
type EndpointLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	CostMultiplier    int `yaml:"cost_multiplier"`
}

// TelemetryConfig holds logging, metrics and tracing settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	LogLevel       string  `yaml:"log_level"`  // debug, info, warn, error
	LogFormat      string  `yaml:"log_format"` // json, console
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to DefaultConfig when the
// file does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	cfg = DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  15 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Feed: FeedConfig{
			Name:           "URLHaus (Abuse.ch)",
			URL:            "https://urlhaus.abuse.ch/downloads/csv_recent/",
			CachePath:      "data/urlhaus_online.csv",
			FetchTimeout:   10 * time.Second,
			MaxSize:        100 * 1024 * 1024,
			WriteCache:     true,
			ReloadSchedule: "@every 6h",
		},
		Forensics: ForensicsConfig{
			DNSResolver: "8.8.8.8:53",
			DNSTimeout:  3 * time.Second,
			TLSTimeout:  3 * time.Second,
			TLSPort:     443,
		},
		Classifier: ClassifierConfig{
			URLEndpoint:   "http://localhost:5001/models/url",
			EmailEndpoint: "http://localhost:5001/models/email",
			APIKeyEnv:     "CEREBRO_MODEL_API_KEY",
			Timeout:       20 * time.Second,
		},
		Reports: ReportsConfig{
			OutputDir: "submitted_reports",
			HEC: HECSenderConfig{
				Enabled:    false,
				TokenEnv:   "SPLUNK_HEC_TOKEN",
				Index:      "cerebro_reports",
				SourceType: "stix:bundle",
				Source:     "cerebro",
				Timeout:    30 * time.Second,
				RetryCount: 3,
			},
		},
		Incidents: IncidentsConfig{
			Key:        "cerebro:incidents",
			MaxEntries: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			IncludeHeaders:    true,
			Endpoints: map[string]EndpointLimits{
				"POST:/api/v1/analyze/url":        {RequestsPerMinute: 60, CostMultiplier: 1},
				"POST:/api/v1/analyze/email":      {RequestsPerMinute: 60, CostMultiplier: 1},
				"POST:/api/v1/notify-cert":        {RequestsPerMinute: 20, CostMultiplier: 1},
				"POST:/api/v1/threat-feed/reload": {RequestsPerMinute: 5, CostMultiplier: 1},
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "cerebro",
			Environment:    "development",
			LogLevel:       "info",
			LogFormat:      "json",
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   1.0,
			MetricsEnabled: true,
		},
	}
}

// applyEnv overlays deployment-critical values from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CEREBRO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse CEREBRO_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CEREBRO_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CEREBRO_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("CEREBRO_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
	return nil
}

// Validate checks values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Feed.URL == "" && c.Feed.CachePath == "" {
		errs = append(errs, errors.New("feed needs a url or a cache_path"))
	}
	if c.Forensics.DNSTimeout <= 0 || c.Forensics.TLSTimeout <= 0 {
		errs = append(errs, errors.New("forensics timeouts must be positive"))
	}
	if c.Forensics.TLSPort <= 0 || c.Forensics.TLSPort > 65535 {
		errs = append(errs, fmt.Errorf("forensics.tls_port out of range: %d", c.Forensics.TLSPort))
	}
	if c.Reports.HEC.Enabled && c.Reports.HEC.HECURL == "" {
		errs = append(errs, errors.New("reports.hec.hec_url is required when hec is enabled"))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be within [0,1]: %v", c.Telemetry.SamplingRate))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

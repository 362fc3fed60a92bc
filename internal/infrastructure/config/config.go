// Package config provides configuration structs and utilities for tempo.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the root configuration for tempo.
type Config struct {
	Account       AccountConfig       `yaml:"account"`
	Storage       StorageConfig       `yaml:"storage"`
	Remote        RemoteConfig        `yaml:"remote"`
	Sync          SyncConfig          `yaml:"sync"`
	Network       NetworkConfig       `yaml:"network"`
	Presence      PresenceConfig      `yaml:"presence"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
}

// AccountConfig identifies the signed-in user and this device.
type AccountConfig struct {
	UserID      string `yaml:"user_id"`
	DeviceID    string `yaml:"device_id"`
	DeviceLabel string `yaml:"device_label"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"` // Per-account databases live under <data_dir>/accounts
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Backend           string        `yaml:"backend"` // http, memory
	BaseURL           string        `yaml:"base_url,omitempty"`
	APITokenEncrypted string        `yaml:"api_token_encrypted,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around remote calls.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// SyncConfig controls cycle scheduling.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables periodic cycles
	Backoff  BackoffConfig `yaml:"backoff"`
}

// BackoffConfig controls retry delays after an aborted cycle.
type BackoffConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// NetworkConfig controls connectivity detection.
type NetworkConfig struct {
	Debounce      time.Duration `yaml:"debounce"`
	ProbeURL      string        `yaml:"probe_url,omitempty"` // Defaults to <remote.base_url>/health
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// PresenceConfig configures the Redis presence source.
type PresenceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password,omitempty"`
	RedisDB           int           `yaml:"redis_db"`
	TTL               time.Duration `yaml:"ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ObservabilityConfig holds configuration for observability features.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`       // Whether tracing is enabled
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // OTLP collector endpoint
	SampleRate   float64 `yaml:"sample_rate"`   // Sampling rate (0.0 to 1.0)
	ServiceName  string  `yaml:"service_name"`  // Service name for traces
}

// DashboardConfig configures the live status server run by the daemon.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default configuration values.
const (
	DefaultUserID    = "local"
	DefaultDataDir   = "~/.tempo"
	DefaultBackend   = "memory"
	DefaultTimeout   = 15 * time.Second
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	// Breaker defaults
	DefaultBreakerMaxRequests      = 1
	DefaultBreakerInterval         = time.Minute
	DefaultBreakerTimeout          = 30 * time.Second
	DefaultBreakerFailureThreshold = 5

	// Sync defaults
	DefaultSyncInterval           = 30 * time.Second
	DefaultBackoffInitialInterval = time.Second
	DefaultBackoffMaxInterval     = 5 * time.Minute
	DefaultBackoffMultiplier      = 2.0

	// Network defaults
	DefaultDebounce      = 300 * time.Millisecond
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	// Presence defaults
	DefaultRedisAddr         = "localhost:6379"
	DefaultPresenceTTL       = 2 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultLookupTimeout     = 3 * time.Second

	// Observability defaults
	DefaultMetricsEnabled      = true
	DefaultTracingEnabled      = false
	DefaultTracingExporterType = "none"
	DefaultTracingSampleRate   = 1.0
	DefaultTracingServiceName  = "tempo"

	DefaultDashboardAddr = "127.0.0.1:7420"
)

// Valid log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid log formats.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Valid remote backends.
var validBackends = map[string]bool{
	"http":   true,
	"memory": true,
}

// Valid tracing exporter types.
var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

// NewDefaultConfig creates a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			UserID: DefaultUserID,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Remote: RemoteConfig{
			Backend: DefaultBackend,
			Timeout: DefaultTimeout,
			Breaker: BreakerConfig{
				MaxRequests:      DefaultBreakerMaxRequests,
				Interval:         DefaultBreakerInterval,
				Timeout:          DefaultBreakerTimeout,
				FailureThreshold: DefaultBreakerFailureThreshold,
			},
		},
		Sync: SyncConfig{
			Interval: DefaultSyncInterval,
			Backoff: BackoffConfig{
				InitialInterval: DefaultBackoffInitialInterval,
				MaxInterval:     DefaultBackoffMaxInterval,
				Multiplier:      DefaultBackoffMultiplier,
			},
		},
		Network: NetworkConfig{
			Debounce:      DefaultDebounce,
			ProbeInterval: DefaultProbeInterval,
			ProbeTimeout:  DefaultProbeTimeout,
		},
		Presence: PresenceConfig{
			Enabled:           false,
			RedisAddr:         DefaultRedisAddr,
			TTL:               DefaultPresenceTTL,
			HeartbeatInterval: DefaultHeartbeatInterval,
			LookupTimeout:     DefaultLookupTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				Enabled:      DefaultTracingEnabled,
				ExporterType: DefaultTracingExporterType,
				SampleRate:   DefaultTracingSampleRate,
				ServiceName:  DefaultTracingServiceName,
			},
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    DefaultDashboardAddr,
		},
	}
}

// ProbeURL returns the connectivity probe target: the configured URL, or the
// remote health route when the remote is HTTP. Empty means no probing.
func (c *Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	if c.Remote.Backend == "http" && c.Remote.BaseURL != "" {
		return strings.TrimRight(c.Remote.BaseURL, "/") + "/health"
	}
	return ""
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Account.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("account: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := c.Network.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("network: %w", err))
	}
	if err := c.Presence.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("presence: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	if err := c.Dashboard.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dashboard: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the AccountConfig is valid.
func (a *AccountConfig) Validate() error {
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	if strings.ContainsAny(a.UserID, `/\`) || a.UserID == "." || a.UserID == ".." {
		return fmt.Errorf("invalid user_id %q", a.UserID)
	}
	return nil
}

// Validate checks if the StorageConfig is valid.
func (s *StorageConfig) Validate() error {
	if s.DataDir == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// Validate checks if the RemoteConfig is valid.
func (r *RemoteConfig) Validate() error {
	var errs []error

	if !validBackends[r.Backend] {
		errs = append(errs, fmt.Errorf("invalid backend %q: must be one of http, memory", r.Backend))
	}

	if r.Backend == "http" {
		if r.BaseURL == "" {
			errs = append(errs, errors.New("base_url is required for the http backend"))
		} else if err := validateHTTPURL(r.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("base_url: %w", err))
		}
	}

	if r.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}
	if r.Breaker.Interval < 0 || r.Breaker.Timeout < 0 {
		errs = append(errs, errors.New("breaker durations must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the SyncConfig is valid.
func (s *SyncConfig) Validate() error {
	var errs []error

	if s.Interval < 0 {
		errs = append(errs, errors.New("interval must be non-negative"))
	}
	if s.Backoff.InitialInterval < 0 || s.Backoff.MaxInterval < 0 {
		errs = append(errs, errors.New("backoff intervals must be non-negative"))
	}
	if s.Backoff.MaxInterval > 0 && s.Backoff.InitialInterval > s.Backoff.MaxInterval {
		errs = append(errs, errors.New("backoff initial_interval must not exceed max_interval"))
	}
	if s.Backoff.Multiplier != 0 && s.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the NetworkConfig is valid.
func (n *NetworkConfig) Validate() error {
	var errs []error

	if n.Debounce < 0 {
		errs = append(errs, errors.New("debounce must be non-negative"))
	}
	if n.ProbeURL != "" {
		if err := validateHTTPURL(n.ProbeURL); err != nil {
			errs = append(errs, fmt.Errorf("probe_url: %w", err))
		}
	}
	if n.ProbeInterval < 0 || n.ProbeTimeout < 0 {
		errs = append(errs, errors.New("probe durations must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the PresenceConfig is valid.
func (p *PresenceConfig) Validate() error {
	var errs []error

	if p.Enabled && p.RedisAddr == "" {
		errs = append(errs, errors.New("redis_addr is required when enabled"))
	}
	if p.RedisDB < 0 {
		errs = append(errs, errors.New("redis_db must be non-negative"))
	}
	if p.TTL < 0 || p.HeartbeatInterval < 0 || p.LookupTimeout < 0 {
		errs = append(errs, errors.New("durations must be non-negative"))
	}
	if p.TTL > 0 && p.HeartbeatInterval > 0 && p.HeartbeatInterval >= p.TTL {
		errs = append(errs, errors.New("heartbeat_interval must be shorter than ttl"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	if err := o.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	var errs []error

	if t.Enabled {
		if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
			errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
		}
		if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
		}
		if t.ServiceName == "" {
			errs = append(errs, errors.New("service_name is required when tracing is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the DashboardConfig is valid.
func (d *DashboardConfig) Validate() error {
	if d.Enabled && d.Addr == "" {
		return errors.New("addr is required when enabled")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

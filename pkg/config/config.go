package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
// Configuration is loaded from a JSON or YAML file and then overridden by
// ADSB_SCANNER_* environment variables.
type Config struct {
	Scanner    ScannerConfig    `json:"scanner" yaml:"scanner"`
	Providers  []ProviderConfig `json:"providers" yaml:"providers"`
	Normalizer NormalizerConfig `json:"normalizer" yaml:"normalizer"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
}

// ScannerConfig contains the initial scanner settings and loop timing.
type ScannerConfig struct {
	// PreferredProvider is the provider name the failover cursor starts on
	PreferredProvider string `json:"preferred_provider" yaml:"preferred_provider"`

	// OriginLatitude in decimal degrees (-90 to +90)
	OriginLatitude float64 `json:"origin_latitude" yaml:"origin_latitude"`

	// OriginLongitude in decimal degrees (-180 to +180)
	OriginLongitude float64 `json:"origin_longitude" yaml:"origin_longitude"`

	// RangeKm is the search radius around the origin
	RangeKm float64 `json:"range_km" yaml:"range_km"`

	// SecureOrigin makes plain-http provider URLs fail with a mixed-content error.
	// Set this when the consumer is served over https and cannot load http resources.
	SecureOrigin bool `json:"secure_origin" yaml:"secure_origin"`

	// AutoStart starts scanning as soon as the process is up
	AutoStart bool `json:"auto_start" yaml:"auto_start"`

	// EventBufferSize caps the undelivered diagnostic event queue
	EventBufferSize int `json:"event_buffer_size" yaml:"event_buffer_size"`

	// Schedule holds the loop delays
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
}

// ScheduleConfig holds loop delays in milliseconds.
type ScheduleConfig struct {
	// ShortIntervalMS is the delay after a successful fetch at normal range
	ShortIntervalMS int `json:"short_interval_ms" yaml:"short_interval_ms"`

	// LongIntervalMS is the delay after a successful fetch beyond LongRangeKm
	LongIntervalMS int `json:"long_interval_ms" yaml:"long_interval_ms"`

	// LongRangeKm is the range above which LongIntervalMS applies
	LongRangeKm float64 `json:"long_range_km" yaml:"long_range_km"`

	// RetryDelayMS is the delay after a failure that does not trigger failover
	RetryDelayMS int `json:"retry_delay_ms" yaml:"retry_delay_ms"`

	// FailoverDelayMS is the delay after rotating to the next provider
	FailoverDelayMS int `json:"failover_delay_ms" yaml:"failover_delay_ms"`

	// UnreachableDelayMS is the delay while the network is unreachable
	UnreachableDelayMS int `json:"unreachable_delay_ms" yaml:"unreachable_delay_ms"`

	// FailoverThreshold is the number of consecutive failures that rotates providers
	FailoverThreshold int `json:"failover_threshold" yaml:"failover_threshold"`
}

// ProviderConfig represents a single ADS-B data provider.
// Providers are tried in the order they are listed.
type ProviderConfig struct {
	// Name is the provider identity (e.g., "airplanes.live")
	Name string `json:"name" yaml:"name"`

	// Type is the API flavour: "readsb" (radial /point endpoint) or "opensky" (bounding box)
	Type string `json:"type" yaml:"type"`

	// Enabled determines if this provider takes part in failover
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BaseURL is the API base URL
	BaseURL string `json:"base_url" yaml:"base_url"`

	// MaxRangeNM caps radial queries (readsb providers)
	MaxRangeNM float64 `json:"max_range_nm,omitempty" yaml:"max_range_nm,omitempty"`

	// MaxRangeKm caps bounding-box queries (opensky)
	MaxRangeKm float64 `json:"max_range_km,omitempty" yaml:"max_range_km,omitempty"`

	// TimeoutSeconds bounds each request
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`

	// RateLimitSeconds is the minimum time between API calls in seconds
	// 0 = no rate limit, >0 = enforce minimum delay between calls
	RateLimitSeconds float64 `json:"rate_limit_seconds" yaml:"rate_limit_seconds"`
}

// NormalizerConfig contains target normalization settings.
type NormalizerConfig struct {
	// RCSRules replaces the built-in radar cross-section table when non-empty.
	// Rules are evaluated in order; the first matching prefix wins.
	RCSRules []RCSRuleConfig `json:"rcs_rules,omitempty" yaml:"rcs_rules,omitempty"`

	// DefaultRCS is used when no rule matches (square meters); 0 keeps the built-in default
	DefaultRCS float64 `json:"default_rcs,omitempty" yaml:"default_rcs,omitempty"`
}

// RCSRuleConfig maps type-code prefixes to a radar cross-section estimate.
type RCSRuleConfig struct {
	Class    string   `json:"class" yaml:"class"`
	Prefixes []string `json:"prefixes" yaml:"prefixes"`
	RCS      float64  `json:"rcs" yaml:"rcs"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is "json" or "text"
	Format string `json:"format" yaml:"format"`

	// File is the log file path; empty logs to stderr
	File string `json:"file" yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep
	MaxBackups int `json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the number of days to keep rotated files
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files
	Compress bool `json:"compress" yaml:"compress"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`

	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" yaml:"port"`

	// MetricsEnabled exposes Prometheus metrics at /metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`

	// AllowedOrigins lists CORS origins for the API
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// JWTSecret signs operator tokens for the control routes. Empty leaves
	// them open. Prefer ADSB_SCANNER_JWT_SECRET over the config file.
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`

	// TokenHours is the lifetime of issued tokens (default: 24)
	TokenHours int `json:"token_hours" yaml:"token_hours"`
}

// DatabaseConfig contains settings for the diagnostic event archive.
type DatabaseConfig struct {
	// Enabled turns on archiving of diagnostic events to PostgreSQL
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`

	// RetentionHours is how long archived events are kept
	RetentionHours int `json:"retention_hours" yaml:"retention_hours"`
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Lists are replaced, not merged, when the file provides them
	defaultProviders := cfg.Providers
	defaultOrigins := cfg.Server.AllowedOrigins
	cfg.Providers = nil
	cfg.Server.AllowedOrigins = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = defaultOrigins
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scanner: ScannerConfig{
			PreferredProvider: "airplanes.live",
			OriginLatitude:    51.4700,
			OriginLongitude:   -0.4543,
			RangeKm:           100.0,
			SecureOrigin:      false,
			AutoStart:         true,
			EventBufferSize:   256,
			Schedule: ScheduleConfig{
				ShortIntervalMS:    6000,
				LongIntervalMS:     15000,
				LongRangeKm:        300.0,
				RetryDelayMS:       3000,
				FailoverDelayMS:    1000,
				UnreachableDelayMS: 5000,
				FailoverThreshold:  2,
			},
		},
		Providers: []ProviderConfig{
			{
				Name:             "airplanes.live",
				Type:             "readsb",
				Enabled:          true,
				BaseURL:          "https://api.airplanes.live/v2",
				MaxRangeNM:       250.0,
				TimeoutSeconds:   10.0,
				RateLimitSeconds: 1.0,
			},
			{
				Name:             "adsb.lol",
				Type:             "readsb",
				Enabled:          true,
				BaseURL:          "https://api.adsb.lol/v2",
				MaxRangeNM:       250.0,
				TimeoutSeconds:   10.0,
				RateLimitSeconds: 1.0,
			},
			{
				Name:             "opensky",
				Type:             "opensky",
				Enabled:          true,
				BaseURL:          "https://opensky-network.org/api",
				MaxRangeKm:       500.0,
				TimeoutSeconds:   15.0,
				RateLimitSeconds: 5.0,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  32,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8080",
			MetricsEnabled: true,
			AllowedOrigins: []string{"*"},
			TokenHours:     24,
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "adsbscanner",
			Username:       "adsbscanner",
			SSLMode:        "disable",
			MaxOpenConns:   5,
			MaxIdleConns:   2,
			RetentionHours: 72,
		},
	}
}

// Validate checks the configuration for values the scanner cannot run with.
func (c *Config) Validate() error {
	var errs []error

	s := c.Scanner
	if s.OriginLatitude < -90 || s.OriginLatitude > 90 {
		errs = append(errs, fmt.Errorf("scanner.origin_latitude %.4f out of range", s.OriginLatitude))
	}
	if s.OriginLongitude < -180 || s.OriginLongitude > 180 {
		errs = append(errs, fmt.Errorf("scanner.origin_longitude %.4f out of range", s.OriginLongitude))
	}
	if s.RangeKm <= 0 {
		errs = append(errs, fmt.Errorf("scanner.range_km must be positive, got %.1f", s.RangeKm))
	}
	if s.Schedule.FailoverThreshold < 1 {
		errs = append(errs, errors.New("scanner.schedule.failover_threshold must be at least 1"))
	}

	seen := make(map[string]bool)
	enabled := 0
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Type != "readsb" && p.Type != "opensky" {
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider %q: base_url is required", p.Name))
		}
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("at least one provider must be enabled"))
	}
	if s.PreferredProvider != "" && !seen[s.PreferredProvider] {
		errs = append(errs, fmt.Errorf("scanner.preferred_provider %q is not configured", s.PreferredProvider))
	}

	return errors.Join(errs...)
}

// Provider returns the named provider configuration.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows deployment-specific values and secrets to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("ADSB_SCANNER_PORT"); port != "" {
		c.Server.Port = port
	}
	if provider := os.Getenv("ADSB_SCANNER_PROVIDER"); provider != "" {
		c.Scanner.PreferredProvider = provider
	}
	if lat, ok := envFloat("ADSB_SCANNER_ORIGIN_LAT"); ok {
		c.Scanner.OriginLatitude = lat
	}
	if lon, ok := envFloat("ADSB_SCANNER_ORIGIN_LON"); ok {
		c.Scanner.OriginLongitude = lon
	}
	if rangeKm, ok := envFloat("ADSB_SCANNER_RANGE_KM"); ok {
		c.Scanner.RangeKm = rangeKm
	}
	if level := os.Getenv("ADSB_SCANNER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dbHost := os.Getenv("ADSB_SCANNER_DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPassword := os.Getenv("ADSB_SCANNER_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if secret := os.Getenv("ADSB_SCANNER_JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
}

// envFloat parses a float environment variable; unset or invalid values are ignored.
func envFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

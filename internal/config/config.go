// Package config loads YAML configuration for taior sessions and the
// relay server, with environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Cover     CoverConfig     `yaml:"cover"`
	Relay     RelayConfig     `yaml:"relay"`
	Directory DirectoryConfig `yaml:"directory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// SessionConfig holds session and circuit settings
type SessionConfig struct {
	MinHops        int           `yaml:"min_hops"`
	MaxHops        int           `yaml:"max_hops"`
	CircuitTTL     time.Duration `yaml:"circuit_ttl"`
	BootstrapNodes []string      `yaml:"bootstrap_nodes"`
}

// CoverConfig holds cover traffic settings
type CoverConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Ratio            float64       `yaml:"ratio"`
	PacketsPerSecond float64       `yaml:"packets_per_second"`
	MinSize          int           `yaml:"min_size"`
	MaxSize          int           `yaml:"max_size"`
	Jitter           time.Duration `yaml:"jitter"`
	TargetRatio      float64       `yaml:"target_ratio"`
}

// RelayConfig holds relay server settings
type RelayConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxClients      int           `yaml:"max_clients"`
	ClientTTL       time.Duration `yaml:"client_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
}

// RateLimit holds per-IP rate limiting settings
type RateLimit struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	BanDuration       time.Duration `yaml:"ban_duration"`
	MaxViolations     int           `yaml:"max_violations"`
}

// DirectoryConfig holds bootstrap directory settings
type DirectoryConfig struct {
	URL             string        `yaml:"url"`
	RegisterTTL     time.Duration `yaml:"register_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
	ReadyPath  string `yaml:"ready_path"`
	Port       int    `yaml:"port"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MinHops:    1,
			MaxHops:    5,
			CircuitTTL: 600 * time.Second,
		},
		Cover: CoverConfig{
			Enabled:          false,
			Ratio:            0.3,
			PacketsPerSecond: 2.0,
			MinSize:          512,
			MaxSize:          2048,
			Jitter:           500 * time.Millisecond,
			TargetRatio:      0.5,
		},
		Relay: RelayConfig{
			Host:            "0.0.0.0",
			Port:            4700,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxClients:      10000,
			ClientTTL:       1 * time.Hour,
			CleanupInterval: 5 * time.Minute,
			RateLimit: RateLimit{
				Enabled:           true,
				RequestsPerSecond: 50,
				BurstSize:         100,
				CleanupInterval:   10 * time.Minute,
				BanDuration:       1 * time.Hour,
				MaxViolations:     5,
			},
		},
		Directory: DirectoryConfig{
			RegisterTTL:     1 * time.Hour,
			RefreshInterval: 10 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Path:       "/metrics",
			HealthPath: "/health",
			ReadyPath:  "/ready",
			Port:       9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvironment overrides config values from environment variables
func (c *Config) ApplyEnvironment() {
	// Relay
	if v := os.Getenv("TAIOR_RELAY_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("TAIOR_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Relay.Port = port
		}
	}
	if v := os.Getenv("TAIOR_RELAY_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Relay.MaxClients = n
		}
	}

	// Session
	if v := os.Getenv("TAIOR_MAX_HOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxHops = n
		}
	}
	if v := os.Getenv("TAIOR_CIRCUIT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.CircuitTTL = d
		}
	}

	// Cover traffic
	if v := os.Getenv("TAIOR_COVER_ENABLED"); v != "" {
		c.Cover.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TAIOR_COVER_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cover.Ratio = r
		}
	}

	// Directory
	if v := os.Getenv("TAIOR_DIRECTORY_URL"); v != "" {
		c.Directory.URL = v
	}

	// Metrics
	if v := os.Getenv("TAIOR_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TAIOR_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Metrics.Port = port
		}
	}

	// Logging
	if v := os.Getenv("TAIOR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TAIOR_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Package config defines the admission service configuration and how it is
// layered from defaults, an optional YAML file and TURNSTILE_* environment
// variables.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Env is "dev" or "prod". Unknown values fall back to dev.
	Env string `koanf:"env"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DB
	DBDriver    string `koanf:"db_driver"` // "memory" | "sqlite" | "postgres"
	DBPath      string `koanf:"db_path"`   // e.g. "./data/turnstile.db"
	PostgresDSN string `koanf:"postgres_dsn"`

	// ToleranceMinutes is the grace-period window after a billable entry.
	ToleranceMinutes int `koanf:"tolerance_minutes"`

	// Broadcast hub
	PublishTimeout    time.Duration `koanf:"publish_timeout"`
	ClientBuffer      int           `koanf:"client_buffer"`
	DispatchQueueSize int           `koanf:"dispatch_queue_size"`
	Keepalive         time.Duration `koanf:"keepalive"`

	// DefaultDeviceID is used when a request omits deviceId.
	DefaultDeviceID string `koanf:"default_device_id"`

	// Auth
	DeviceSecrets  []string `koanf:"device_secrets"`
	SessionSecret  string   `koanf:"session_secret"`
	StreamRoles    []string `koanf:"stream_roles"`
	AllowedOrigins []string `koanf:"allowed_origins"`

	// Redis relay; empty RedisAddr disables cross-instance fan-out.
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// Reader retention
	ReaderRetentionDays int `koanf:"reader_retention_days"` // 0 = keep forever
	SweepIntervalHours  int `koanf:"sweep_interval_hours"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Addr:                ":8080",
		Env:                 "dev",
		LogLevel:            "info",
		DBDriver:            "sqlite",
		DBPath:              "./data/turnstile.db",
		ToleranceMinutes:    20,
		PublishTimeout:      250 * time.Millisecond,
		ClientBuffer:        16,
		DispatchQueueSize:   1024,
		Keepalive:           25 * time.Second,
		DefaultDeviceID:     "entrance",
		StreamRoles:         []string{"admin", "staff"},
		RedisChannel:        "turnstile:access",
		ReaderRetentionDays: 30,
		SweepIntervalHours:  6,
	}
}

// Tolerance returns the grace-period window as a duration.
func (c *Config) Tolerance() time.Duration {
	return time.Duration(c.ToleranceMinutes) * time.Minute
}

// normalize trims values, applies fail-soft fallbacks and flattens list
// values that arrived as a single comma-separated string (env vars).
func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DefaultDeviceID = strings.TrimSpace(c.DefaultDeviceID)

	c.DeviceSecrets = flattenCSV(c.DeviceSecrets)
	c.StreamRoles = flattenCSV(c.StreamRoles)
	c.AllowedOrigins = flattenCSV(c.AllowedOrigins)
}

func flattenCSV(in []string) []string {
	var out []string
	for _, v := range in {
		out = append(out, splitCSV(v)...)
	}
	return out
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// MaxPublishTimeout caps how long one stalled dashboard can hold up the
// dispatcher per event.
const MaxPublishTimeout = 5 * time.Second

const (
	envPrefix  = "TURNSTILE_"
	envConfig  = "TURNSTILE_CONFIG"
	koanfDelim = "."
)

// Load builds a Config by layering, lowest precedence first:
//  1. defaults (New)
//  2. YAML file at path, or at $TURNSTILE_CONFIG when path is empty
//  3. env (prefix TURNSTILE_), e.g. TURNSTILE_TOLERANCE_MINUTES=15
func Load(_ context.Context, path string) (*Config, error) {
	k := koanf.New(koanfDelim)

	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %v", ErrLoadConfig, path, err)
		}
	}

	// TURNSTILE_PUBLISH_TIMEOUT -> publish_timeout. Underscores are kept so
	// keys match the flat koanf tags on Config.
	envProvider := env.Provider(envPrefix, koanfDelim, func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrLoadConfig, err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBDriver != "memory" && c.DBDriver != "sqlite" && c.DBDriver != "postgres":
		return fmt.Errorf("%w: unknown db_driver %q", ErrInvalidConfig, c.DBDriver)
	case c.DBDriver == "postgres" && strings.TrimSpace(c.PostgresDSN) == "":
		return fmt.Errorf("%w: postgres_dsn is required for db_driver=postgres", ErrInvalidConfig)
	case c.ToleranceMinutes < 0:
		return fmt.Errorf("%w: tolerance_minutes must be >= 0", ErrInvalidConfig)
	case c.PublishTimeout <= 0:
		return fmt.Errorf("%w: publish_timeout must be positive", ErrInvalidConfig)
	case c.PublishTimeout > MaxPublishTimeout:
		return fmt.Errorf("%w: publish_timeout must be at most %s", ErrInvalidConfig, MaxPublishTimeout)
	case c.ClientBuffer <= 0:
		return fmt.Errorf("%w: client_buffer must be positive", ErrInvalidConfig)
	case c.DispatchQueueSize <= 0:
		return fmt.Errorf("%w: dispatch_queue_size must be positive", ErrInvalidConfig)
	case c.DefaultDeviceID == "":
		return fmt.Errorf("%w: default_device_id must not be empty", ErrInvalidConfig)
	case c.Env == "prod" && c.SessionSecret == "":
		return fmt.Errorf("%w: session_secret is required in prod", ErrInvalidConfig)
	}
	return nil
}

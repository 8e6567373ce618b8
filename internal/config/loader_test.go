package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"TURNSTILE_CONFIG",
	"TURNSTILE_ADDR",
	"TURNSTILE_ENV",
	"TURNSTILE_DB_DRIVER",
	"TURNSTILE_POSTGRES_DSN",
	"TURNSTILE_TOLERANCE_MINUTES",
	"TURNSTILE_PUBLISH_TIMEOUT",
	"TURNSTILE_DEVICE_SECRETS",
	"TURNSTILE_STREAM_ROLES",
	"TURNSTILE_SESSION_SECRET",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turnstile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then the admission defaults apply", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.ToleranceMinutes, convey.ShouldEqual, 20)
			convey.So(cfg.Tolerance(), convey.ShouldEqual, 20*time.Minute)
			convey.So(cfg.PublishTimeout, convey.ShouldEqual, 250*time.Millisecond)
			convey.So(cfg.DefaultDeviceID, convey.ShouldEqual, "entrance")
			convey.So(cfg.StreamRoles, convey.ShouldResemble, []string{"admin", "staff"})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.DBDriver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.ToleranceMinutes, convey.ShouldEqual, 20)
		})

		convey.Convey("When environment variables are set", func() {
			_ = os.Setenv("TURNSTILE_ADDR", ":9090")
			_ = os.Setenv("TURNSTILE_TOLERANCE_MINUTES", "15")
			_ = os.Setenv("TURNSTILE_PUBLISH_TIMEOUT", "100ms")
			_ = os.Setenv("TURNSTILE_DEVICE_SECRETS", "reader-a, reader-b")

			cfg, err := config.Load(ctx, "")

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.ToleranceMinutes, convey.ShouldEqual, 15)
			convey.So(cfg.PublishTimeout, convey.ShouldEqual, 100*time.Millisecond)
			convey.So(cfg.DeviceSecrets, convey.ShouldResemble, []string{"reader-a", "reader-b"})
		})

		convey.Convey("When a YAML file is given", func() {
			path := writeConfigFile(t, `
addr: ":7070"
db_driver: memory
tolerance_minutes: 30
client_buffer: 4
stream_roles:
  - admin
`)
			_ = os.Setenv("TURNSTILE_TOLERANCE_MINUTES", "10")

			cfg, err := config.Load(ctx, path)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			convey.So(cfg.DBDriver, convey.ShouldEqual, "memory")
			convey.So(cfg.ClientBuffer, convey.ShouldEqual, 4)
			convey.So(cfg.StreamRoles, convey.ShouldResemble, []string{"admin"})

			convey.Convey("Then env overrides the file", func() {
				convey.So(cfg.ToleranceMinutes, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			cfg, err := config.Load(ctx, "/non/existent/turnstile.yaml")

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the db driver is unknown", func() {
			_ = os.Setenv("TURNSTILE_DB_DRIVER", "mongo")

			cfg, err := config.Load(ctx, "")

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When postgres is selected without a DSN", func() {
			_ = os.Setenv("TURNSTILE_DB_DRIVER", "postgres")

			_, err := config.Load(ctx, "")

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "postgres_dsn")
		})

		convey.Convey("When publish_timeout exceeds the cap", func() {
			_ = os.Setenv("TURNSTILE_PUBLISH_TIMEOUT", "30s")

			cfg, err := config.Load(ctx, "")

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "publish_timeout")
		})

		convey.Convey("When publish_timeout sits at the cap", func() {
			_ = os.Setenv("TURNSTILE_PUBLISH_TIMEOUT", "5s")

			cfg, err := config.Load(ctx, "")

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.PublishTimeout, convey.ShouldEqual, config.MaxPublishTimeout)
		})

		convey.Convey("When prod runs without a session secret", func() {
			_ = os.Setenv("TURNSTILE_ENV", "prod")

			_, err := config.Load(ctx, "")

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When env is unrecognised", func() {
			_ = os.Setenv("TURNSTILE_ENV", "staging")

			cfg, err := config.Load(ctx, "")

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Env, convey.ShouldEqual, "dev")
		})
	})
}

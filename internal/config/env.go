package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// EnvOverrides are environment variables that take precedence over the file.
// Unset variables leave the file value untouched.
type EnvOverrides struct {
	LogLevel      *string `env:"CRONEXEC_LOG_LEVEL, noinit"`
	Timezone      *string `env:"CRONEXEC_TIMEZONE, noinit"`
	Dialect       *string `env:"CRONEXEC_DIALECT, noinit"`
	Workers       *int    `env:"CRONEXEC_WORKERS, noinit"`
	StorageDriver *string `env:"CRONEXEC_STORAGE_DRIVER, noinit"`
	StoragePath   *string `env:"CRONEXEC_STORAGE_PATH, noinit"`
	AlertURL      *string `env:"CRONEXEC_ALERT_URL, noinit"`
}

// LoadDotEnv loads variables from the given .env files. Missing files are
// ignored; variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays process environment overrides onto cfg.
func ApplyEnv(ctx context.Context, cfg *Config) error {
	return applyEnv(ctx, cfg, envconfig.OsLookuper())
}

func applyEnv(ctx context.Context, cfg *Config, l envconfig.Lookuper) error {
	var o EnvOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &o, Lookuper: l}); err != nil {
		return err
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Timezone != nil {
		cfg.Scheduler.Timezone = *o.Timezone
	}
	if o.Dialect != nil {
		cfg.Scheduler.Dialect = *o.Dialect
	}
	if o.Workers != nil {
		cfg.Engine.Workers = *o.Workers
	}
	if o.StorageDriver != nil || o.StoragePath != nil {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if o.StorageDriver != nil {
			cfg.Storage.Driver = *o.StorageDriver
		}
		if o.StoragePath != nil {
			cfg.Storage.Path = *o.StoragePath
		}
	}
	if o.AlertURL != nil {
		cfg.Logging.Alert.URL = *o.AlertURL
		cfg.Logging.Alert.Enabled = *o.AlertURL != ""
	}
	return nil
}

// ResolvePassword returns the credential password, reading PasswordEnv when set.
func (c CredentialConfig) ResolvePassword() string {
	if name := strings.TrimSpace(c.PasswordEnv); name != "" {
		return os.Getenv(name)
	}
	return c.Password
}

package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"cronexec/internal/config"
	"cronexec/internal/cronspec"
	"cronexec/internal/httpauth"
	"cronexec/internal/storage"
	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	alertTimeout, _ := config.ParseDurationField("logging.alert.timeout", cfg.Logging.Alert.Timeout)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			URL:        cfg.Logging.Alert.URL,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
			Timeout:    alertTimeout,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	defTimeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	lateWarn, err := config.ParseDurationField("engine.late_warn", cfg.Engine.LateWarn)
	if err != nil {
		return engine.Config{}, err
	}

	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.Engine.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	historySize := cfg.Engine.HistorySize
	if historySize <= 0 {
		historySize = 200
	}

	return engine.Config{
		Enabled:        cfg.EngineEnabled(),
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		LateWarn:       lateWarn,
		HistorySize:    historySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapClientConfig(cfg *config.Config) (httpauth.ClientConfig, error) {
	timeout, err := config.ParseDurationOrDefault("http.timeout", cfg.HTTP.Timeout, 30*time.Second)
	if err != nil {
		return httpauth.ClientConfig{}, err
	}
	dial, err := config.ParseDurationField("http.dial_timeout", cfg.HTTP.DialTimeout)
	if err != nil {
		return httpauth.ClientConfig{}, err
	}
	return httpauth.ClientConfig{
		Timeout:         timeout,
		DialTimeout:     dial,
		MaxConnsPerHost: cfg.HTTP.MaxConnsPerHost,
	}, nil
}

// mapCredentials keys credentials by "host:port" for httpauth.Static.Replace.
func mapCredentials(cfg *config.Config) map[string]httpauth.Credentials {
	out := make(map[string]httpauth.Credentials, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		k := net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
		out[k] = httpauth.Credentials{Username: c.Username, Password: c.ResolvePassword()}
	}
	return out
}

func newEvaluator(cfg *config.Config) (*cronspec.Evaluator, error) {
	dialect, err := cronspec.ParseDialect(cfg.Scheduler.Dialect)
	if err != nil {
		return nil, fmt.Errorf("scheduler.dialect: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return cronspec.New(loc, dialect), nil
}

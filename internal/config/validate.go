package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks structural constraints that do not need other packages.
// Cron expressions are checked by the caller with the configured evaluator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	add(err)
	_, err = ParseDurationField("engine.late_warn", cfg.Engine.LateWarn)
	add(err)
	_, err = ParseDurationField("http.timeout", cfg.HTTP.Timeout)
	add(err)
	_, err = ParseDurationField("http.dial_timeout", cfg.HTTP.DialTimeout)
	add(err)
	_, err = ParseDurationField("logging.alert.timeout", cfg.Logging.Alert.Timeout)
	add(err)
	if cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.URL) == "" {
		add(errors.New("logging.alert.url: required when alert is enabled"))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
	}

	for i, c := range cfg.Credentials {
		path := fmt.Sprintf("credentials[%d]", i)
		if strings.TrimSpace(c.Host) == "" {
			add(fmt.Errorf("%s.host: required", path))
		}
		if c.Port <= 0 || c.Port > 65535 {
			add(fmt.Errorf("%s.port: must be 1-65535", path))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else {
			path = fmt.Sprintf("jobs[%s]", name)
			if seen[name] {
				add(fmt.Errorf("%s: duplicate name", path))
			}
			seen[name] = true
		}
		if strings.TrimSpace(j.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", path))
		}
		_, err := ParseDurationField(path+".timeout", j.Timeout)
		add(err)
		add(validateKind(path, j))
	}
	return errors.Join(errs...)
}

func validateKind(path string, j JobConfig) error {
	switch strings.ToLower(strings.TrimSpace(j.Kind)) {
	case KindHTTP:
		u, err := url.Parse(strings.TrimSpace(j.URL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s.url: absolute http(s) url required", path)
		}
		for _, s := range j.ExpectStatus {
			if s < 100 || s > 599 {
				return fmt.Errorf("%s.expect_status: invalid status %d", path, s)
			}
		}
	case KindExec:
		if strings.TrimSpace(j.Command) == "" {
			return fmt.Errorf("%s.command: required", path)
		}
	case KindLog:
	case KindSystemd:
		if strings.TrimSpace(j.Unit) == "" {
			return fmt.Errorf("%s.unit: required", path)
		}
		switch strings.ToLower(strings.TrimSpace(j.Action)) {
		case "", "start", "stop", "restart":
		default:
			return fmt.Errorf("%s.action: want start, stop or restart", path)
		}
	default:
		return fmt.Errorf("%s.kind: unknown kind %q (want http, exec, log or systemd)", path, j.Kind)
	}
	return nil
}

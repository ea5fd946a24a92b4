package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"
)

const sampleYAML = `
logging:
  level: debug
  console: true
engine:
  workers: 4
  default_timeout: 30s
scheduler:
  timezone: UTC
storage:
  driver: sqlite
  path: ./runs.db
credentials:
  - host: repo.example.com
    port: 443
    username: admin
    password_env: REPO_PASSWORD
jobs:
  - name: ping
    kind: http
    schedule: "0 */5 * * * ?"
    fallback: "0 0 * * * ?"
    url: https://repo.example.com/api/ping
    expect_status: [200, 204]
  - name: cleanup
    kind: exec
    schedule: "cron:30 3 * * *"
    command: "/usr/bin/find /tmp -mtime +7 -delete"
    timeout: 5m
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cronexec.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	want := []JobConfig{
		{Name: "ping", Kind: KindHTTP, Schedule: "0 */5 * * * ?", Fallback: "0 0 * * * ?", URL: "https://repo.example.com/api/ping", ExpectStatus: []int{200, 204}},
		{Name: "cleanup", Kind: KindExec, Schedule: "cron:30 3 * * *", Command: "/usr/bin/find /tmp -mtime +7 -delete", Timeout: "5m"},
	}
	if diff := cmp.Diff(want, cfg.Jobs); diff != "" {
		t.Fatalf("jobs -want +got\n%s", diff)
	}
	if !cfg.EngineEnabled() || cfg.Engine.Workers != 4 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Credentials[0].PasswordEnv != "REPO_PASSWORD" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"jobs": [], "telegram": {}}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Decode("c.json", []byte(`{"jobs": []} {"jobs": []}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "duplicate", cfg: Config{Jobs: []JobConfig{
			{Name: "a", Kind: KindLog, Schedule: "0 0 12 * * ?"},
			{Name: "a", Kind: KindLog, Schedule: "0 0 12 * * ?"},
		}}, want: "duplicate name"},
		{name: "unknown kind", cfg: Config{Jobs: []JobConfig{{Name: "a", Kind: "ftp", Schedule: "x"}}}, want: "unknown kind"},
		{name: "relative url", cfg: Config{Jobs: []JobConfig{{Name: "a", Kind: KindHTTP, Schedule: "x", URL: "/ping"}}}, want: "url"},
		{name: "no command", cfg: Config{Jobs: []JobConfig{{Name: "a", Kind: KindExec, Schedule: "x"}}}, want: "command"},
		{name: "no schedule", cfg: Config{Jobs: []JobConfig{{Name: "a", Kind: KindLog}}}, want: "schedule"},
		{name: "bad timeout", cfg: Config{Jobs: []JobConfig{{Name: "a", Kind: KindLog, Schedule: "x", Timeout: "soon"}}}, want: "invalid duration"},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, want: "scheduler.timezone"},
		{name: "bad port", cfg: Config{Credentials: []CredentialConfig{{Host: "h", Port: 0}}}, want: "port"},
		{name: "bad driver", cfg: Config{Storage: &StorageConfig{Driver: "redis"}}, want: "storage.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateStorageDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "file", "sqlite", "sqlite3", "SQLite"} {
		cfg := Config{Storage: &StorageConfig{Driver: driver, Path: "runs"}}
		if err := Validate(&cfg); err != nil {
			t.Errorf("Validate(driver=%q) error: %v", driver, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &Config{Logging: LoggingConfig{Level: "info"}, Engine: EngineConfig{Workers: 2}}
	l := envconfig.MapLookuper(map[string]string{
		"CRONEXEC_LOG_LEVEL":      "debug",
		"CRONEXEC_WORKERS":        "8",
		"CRONEXEC_STORAGE_DRIVER": "file",
	})
	if err := applyEnv(context.Background(), cfg, l); err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || cfg.Engine.Workers != 8 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" || cfg.Storage.Path != "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.Timezone != "" {
		t.Fatalf("unset variable changed timezone to %q", cfg.Scheduler.Timezone)
	}
}

func TestLoadDotEnvIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("CRONEXEC_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CRONEXEC_TEST_DOTENV") })
	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("CRONEXEC_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("CRONEXEC_TEST_DOTENV = %q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Jobs: []JobConfig{
			{Name: "a", Kind: KindLog, Schedule: "0 0 12 * * ?"},
			{Name: "b", Kind: KindLog, Schedule: "0 0 12 * * ?"},
		},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Jobs: []JobConfig{
			{Name: "a", Kind: KindLog, Schedule: "0 0 12 * * ?"},
			{Name: "b", Kind: KindLog, Schedule: "0 0 13 * * ?"},
			{Name: "c", Kind: KindLog, Schedule: "0 0 12 * * ?"},
		},
		Credentials: []CredentialConfig{{Host: "h", Port: 80, Username: "u", Password: "secret"}},
	}
	sections, _, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"http", "jobs"}, sections); diff != "" {
		t.Fatalf("sections -want +got\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, jobs); diff != "" {
		t.Fatalf("jobs -want +got\n%s", diff)
	}
	if SchedulerChanged(oldCfg, newCfg) {
		t.Fatal("scheduler reported as changed")
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cronexec.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"jobs": [{"name": "a", "kind": "log", "schedule": "0 0 12 * * ?"}]}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	write(`{"jobs": [{"name": "b", "kind": "nope", "schedule": "0 0 12 * * ?"}]}`)
	time.Sleep(500 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	default:
	}

	write(`{"jobs": [{"name": "b", "kind": "log", "schedule": "0 0 12 * * ?"}]}`)
	select {
	case cfg := <-ch:
		if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "b" {
			t.Fatalf("published config = %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	if got := m.Get().Jobs[0].Name; got != "b" {
		t.Fatalf("committed job = %q, want b", got)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cronexec.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"jobs": [{"name": "a", "kind": "log", "schedule": "0 0 12 * * ?"}]}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if published, err := m.Reload(ctx); err != nil || published {
		t.Fatalf("Reload(unchanged) = %v, %v", published, err)
	}

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Jobs[0].Name == "rejected" {
			return errors.New("nope")
		}
		return nil
	})
	write(`{"jobs": [{"name": "rejected", "kind": "log", "schedule": "0 0 12 * * ?"}]}`)
	if published, err := m.Reload(ctx); err == nil || published {
		t.Fatalf("Reload(rejected) = %v, %v", published, err)
	}
	if got := m.Get().Jobs[0].Name; got != "a" {
		t.Fatalf("committed job = %q after rejection", got)
	}

	write(`{"jobs": [{"name": "b", "kind": "log", "schedule": "0 0 12 * * ?"}]}`)
	if published, err := m.Reload(ctx); err != nil || !published {
		t.Fatalf("Reload(changed) = %v, %v", published, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Jobs[0].Name != "b" {
			t.Fatalf("published = %+v", cfg.Jobs)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("slow subscriber did not receive the newest config")
	}
}

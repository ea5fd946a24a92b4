package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cronexec/internal/config"
	logx "cronexec/pkg/logx"

	"github.com/google/go-cmp/cmp"
)

const testConfig = `
logging:
  level: error
engine:
  workers: 1
scheduler:
  timezone: UTC
storage:
  driver: file
  path: %DIR%/history
jobs:
  - name: tick
    schedule: "0 0 12 * * ?"
    kind: log
    message: tick
  - name: hourly
    schedule: "0 0 * * * ?"
    kind: log
    message: hourly
  - name: off
    schedule: "0 0 * * * ?"
    kind: log
    disabled: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cronexec.yaml")
	body := strings.ReplaceAll(testConfig, "%DIR%", dir)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func chainNames(a *App) []string {
	var out []string
	for _, c := range a.Scheduler().Chains() {
		out = append(out, c.Name)
	}
	return out
}

func startApp(t *testing.T) (*App, *[]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		states []string
	)
	prev := sdNotify
	sdNotify = func(_ bool, state string) (bool, error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
		return true, nil
	}
	t.Cleanup(func() { sdNotify = prev })

	a, err := NewApp(writeConfig(t))
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a, &states
}

func TestStartRegistersActiveJobs(t *testing.T) {
	a, states := startApp(t)

	if diff := cmp.Diff([]string{"hourly", "tick"}, chainNames(a)); diff != "" {
		t.Fatalf("chains -want +got\n%s", diff)
	}
	if diff := cmp.Diff([]string{"READY=1"}, *states); diff != "" {
		t.Fatalf("notify -want +got\n%s", diff)
	}
	snap := a.Snapshot()
	if snap.Engine == nil || snap.Engine.Workers != 1 {
		t.Fatalf("engine snapshot = %+v", snap.Engine)
	}
}

func TestLogStateListsChainsAndEngine(t *testing.T) {
	a, _ := startApp(t)
	var buf bytes.Buffer
	a.logState(logx.NewWriter(&buf, "info"))

	out := buf.String()
	for _, want := range []string{`"message":"state"`, `"chains":2`, `"workers":1`, `"job":"hourly"`, `"job":"tick"`, `"state":"armed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("state log missing %s:\n%s", want, out)
		}
	}
}

func TestApplyConfigReregistersChangedJobs(t *testing.T) {
	a, _ := startApp(t)
	prev := a.cfgm.Get()
	tickID := chainID(t, a, "tick")
	hourlyID := chainID(t, a, "hourly")

	next := *prev
	next.Jobs = append([]config.JobConfig(nil), prev.Jobs...)
	next.Jobs[1].Schedule = "0 30 * * * ?"
	next.Jobs[2].Disabled = false
	a.applyConfig(context.Background(), prev, &next)

	if diff := cmp.Diff([]string{"hourly", "off", "tick"}, chainNames(a)); diff != "" {
		t.Fatalf("chains -want +got\n%s", diff)
	}
	if got := chainID(t, a, "tick"); got != tickID {
		t.Fatal("unchanged job was re-registered")
	}
	if got := chainID(t, a, "hourly"); got == hourlyID {
		t.Fatal("changed job kept its old chain")
	}
}

func TestApplyConfigSchedulerChangeRebuildsAll(t *testing.T) {
	a, _ := startApp(t)
	prev := a.cfgm.Get()
	old := a.Scheduler()

	next := *prev
	next.Scheduler.Dialect = "standard"
	a.applyConfig(context.Background(), prev, &next)

	if a.Scheduler() == old {
		t.Fatal("scheduler was not rebuilt")
	}
	if !old.Snapshot().Stopped {
		t.Fatal("old scheduler still running")
	}
	if diff := cmp.Diff([]string{"hourly", "tick"}, chainNames(a)); diff != "" {
		t.Fatalf("chains -want +got\n%s", diff)
	}
}

func TestStopNotifiesAndCancelsChains(t *testing.T) {
	a, states := startApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if got := chainNames(a); len(got) != 0 {
		t.Fatalf("chains after stop = %v", got)
	}
	if diff := cmp.Diff([]string{"READY=1", "STOPPING=1"}, *states); diff != "" {
		t.Fatalf("notify -want +got\n%s", diff)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{Jobs: []config.JobConfig{{Name: "a", Schedule: "0 0 12 * * ?", Kind: config.KindLog}}}
	}
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*config.Config) {}},
		{name: "bad schedule", mutate: func(c *config.Config) { c.Jobs[0].Schedule = "a b c d e f" }, wantErr: "schedule"},
		{name: "bad fallback", mutate: func(c *config.Config) { c.Jobs[0].Fallback = "nope" }, wantErr: "fallback"},
		{name: "bad dialect", mutate: func(c *config.Config) { c.Scheduler.Dialect = "vixie" }, wantErr: "scheduler.dialect"},
		{name: "bad exec quoting", mutate: func(c *config.Config) {
			c.Jobs[0].Kind = config.KindExec
			c.Jobs[0].Command = `echo "unterminated`
		}, wantErr: "jobs[0]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateConfig error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateConfig error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func chainID(t *testing.T, a *App, name string) string {
	t.Helper()
	c, ok := a.Scheduler().Get(name)
	if !ok {
		t.Fatalf("chain %q not registered", name)
	}
	return c.ID()
}

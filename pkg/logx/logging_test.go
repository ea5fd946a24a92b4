package logx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Error("nothing", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatal("logger with fields should not report IsZero")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("chain", "nightly"))
	l.Error("boom", String("expr", "0 0 0 1 1 ? 2024"), Duration("delay", time.Second))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["message"] != "boom" || m["level"] != "error" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["chain"] != "nightly" || m["expr"] != "0 0 0 1 1 ? 2024" {
		t.Fatalf("fields missing: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	t.Parallel()
	l := NewWriter(io.Discard, "warn")
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAlertSinkPostsErrors(t *testing.T) {
	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- string(b)
	}))
	defer srv.Close()

	svc, log := New(Config{
		Level: "debug",
		Alert: AlertConfig{Enabled: true, URL: srv.URL, MinLevel: "error", RatePerSec: 10},
	})
	defer svc.Close()

	log.Info("not alerted")
	log.Error("alerted", String("expr", "bad"))

	select {
	case body := <-got:
		if !strings.Contains(body, "alerted") || strings.Contains(body, "not alerted") {
			t.Fatalf("unexpected alert body: %s", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not posted")
	}
}

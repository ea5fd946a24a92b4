package main

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", t.TempDir()+"/missing.env"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNextPrintsInstants(t *testing.T) {
	out, err := execute(t, "next", "0 0 12 * * ?", "-n", "3", "--tz", "UTC")
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("next printed %d lines:\n%s", len(lines), out)
	}
	for _, l := range lines {
		if !strings.HasSuffix(l, "T12:00:00Z") {
			t.Fatalf("unexpected instant %q", l)
		}
	}
}

func TestNextPastYear(t *testing.T) {
	out, err := execute(t, "next", "0 0 0 1 1 ? 2001", "--tz", "UTC")
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if strings.TrimSpace(out) != "no further instants" {
		t.Fatalf("next output = %q", out)
	}
}

func TestNextRejectsInvalid(t *testing.T) {
	if _, err := execute(t, "next", "a b c d e f"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

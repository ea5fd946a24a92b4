// Package systemd wraps the systemctl unit verbs used by systemd jobs.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// systemctl is the binary invoked; tests point it at a stub.
var systemctl = "systemctl"

func IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := exec.CommandContext(ctx, systemctl, "is-active", unit).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		// is-active exits non-zero when inactive; only a missing binary is an error
		if _, ok := err.(*exec.ExitError); !ok {
			return false, err
		}
	}
	return s == "active", nil
}

func Start(ctx context.Context, unit string) error   { return run(ctx, "start", unit) }
func Stop(ctx context.Context, unit string) error    { return run(ctx, "stop", unit) }
func Restart(ctx context.Context, unit string) error { return run(ctx, "restart", unit) }

// Do runs action ("start", "stop" or "restart"; empty means restart) on unit.
func Do(ctx context.Context, action, unit string) error {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "start":
		return Start(ctx, unit)
	case "stop":
		return Stop(ctx, unit)
	case "", "restart":
		return Restart(ctx, unit)
	default:
		return fmt.Errorf("systemd: unknown action %q", action)
	}
}

func run(ctx context.Context, verb, unit string) error {
	out, err := exec.CommandContext(ctx, systemctl, verb, unit).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, unit, err, msg)
		}
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cronexec/internal/cronspec"
	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"
)

var (
	ErrScheduleExhausted = errors.New("schedule exhausted")
	ErrChainExists       = errors.New("chain already registered")
	ErrStopped           = errors.New("scheduler stopped")
)

// ExhaustedError names the expression that has no further matching instant.
type ExhaustedError struct {
	Expression string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("schedule exhausted: no next execution for %q", e.Expression)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrScheduleExhausted }

// Evaluator validates cron expressions. *cronspec.Evaluator satisfies it.
type Evaluator interface {
	Validate(expr string) (cronspec.Handle, error)
}

// Pool runs tasks after a delay. *engine.Service satisfies it.
type Pool interface {
	Schedule(delay time.Duration, t engine.Task) error
}

// Spec describes one recurring command. It is copied on Register.
type Spec struct {
	Name       string
	Command    func(ctx context.Context) error
	Expression string
	// Fallback is used once when Expression has no further match.
	Fallback string
	// Log receives the fallback and exhaustion events. Defaults to the
	// scheduler's logger.
	Log     logx.Logger
	Timeout time.Duration
}

type ChainState string

const (
	StateArmed          ChainState = "armed"
	StateFailedFallback ChainState = "failed_fallback"
	StateTerminated     ChainState = "terminated"
	StateCancelled      ChainState = "cancelled"
)

func (s ChainState) Final() bool { return s == StateTerminated || s == StateCancelled }

// cycle is the per-continuation state; it travels by value.
type cycle struct {
	reference  time.Time
	expression string
}

type ChainInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Expression   string     `json:"expression"`
	Fallback     string     `json:"fallback,omitempty"`
	Active       string     `json:"active"`
	State        ChainState `json:"state"`
	Reference    time.Time  `json:"reference"`
	Next         time.Time  `json:"next"`
	Cycles       uint64     `json:"cycles"`
	FallbackUsed bool       `json:"fallback_used"`
	Err          string     `json:"err,omitempty"`
}

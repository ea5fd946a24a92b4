package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
//
// The scheduler is trigger-only; execution settings belong here.
// The app layer maps config.engine into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables it.
	DefaultTimeout time.Duration

	// LateWarn logs a warning when a delayed task starts more than this
	// long after its due time (pool saturation). 0 disables the warning.
	LateWarn time.Duration

	HistorySize int
}

// Kind labels what a task does inside a chain.
type Kind string

const (
	KindCommand      Kind = "command"
	KindContinuation Kind = "continuation"
)

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Chain   string
	Kind    Kind
	Timeout time.Duration
	Run     func(ctx context.Context) error

	// Due is stamped by Schedule; zero for immediate submissions.
	Due time.Time
}

type HistoryItem struct {
	ID       string
	Name     string
	Chain    string
	Kind     Kind
	Due      time.Time
	Started  time.Time
	Lateness time.Duration
	Duration time.Duration
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Chain    string        `json:"chain,omitempty"`
	Kind     Kind          `json:"kind,omitempty"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Lateness time.Duration `json:"lateness"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	Pending  int
	InFlight int

	Completed uint64
	Failed    uint64

	DefaultTimeout time.Duration
	History        []HistoryItem
}

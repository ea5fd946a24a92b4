package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention is the number of run records kept; 0 means 10000.
	Retention int
}

// RunRecord is one finished task execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Chain    string        `json:"chain,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Lateness time.Duration `json:"lateness"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (r RunRecord) OK() bool { return r.Error == "" }

const defaultRetention = 10000

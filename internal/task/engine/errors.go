package engine

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled = errors.New("task engine disabled")
	ErrStopped  = errors.New("task engine stopped")
	ErrStopping = errors.New("task engine stopping")
)

// PanicError is recorded when a task panics. The worker survives.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }


package scheduler

import (
	"errors"
	"time"

	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a pool rejection, throttled per chain name.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Rejections during shutdown are expected.
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("chain not armed: engine stopping", logx.String("chain", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("chain failed to schedule task", logx.String("chain", name), logx.Err(err))
}

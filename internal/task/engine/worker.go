package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"cronexec/internal/eventbus"
	logx "cronexec/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan Task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, t)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t Task) {
	start := time.Now()
	lateness := time.Duration(0)
	if !t.Due.IsZero() {
		lateness = max(start.Sub(t.Due), 0)
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.LateWarn > 0 && lateness > cfg.LateWarn && s.shouldWarn(&s.lastLateWarnAt, start) {
		s.log.Warn("task started late", logx.String("task", t.Name), logx.String("kind", string(t.Kind)), logx.Duration("lateness", lateness), logx.Int("in_flight", int(atomic.LoadInt32(&s.inFlight))))
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("kind", string(t.Kind)), logx.Duration("lateness", lateness))
	s.publish(eventbus.TaskStarted, start, t, start, lateness, 0, nil)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	// A panicking task must not kill the worker.
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: string(debug.Stack())}
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = t.Run(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Chain: t.Chain, Kind: t.Kind, Due: t.Due, Started: start, Lateness: lateness, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		atomic.AddUint64(&s.failed, 1)
		s.log.Error("task.failed", logx.String("task", t.Name), logx.String("kind", string(t.Kind)), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFailed, time.Now(), t, start, lateness, dur, err)
	} else {
		atomic.AddUint64(&s.completed, 1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.Name), logx.String("kind", string(t.Kind)), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name), logx.String("kind", string(t.Kind)), logx.Duration("dur", dur))
		}
		s.publish(eventbus.TaskFinished, time.Now(), t, start, lateness, dur, nil)
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, t Task, start time.Time, lateness, dur time.Duration, err error) {
	if s.bus == nil {
		return
	}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Chain: t.Chain, Kind: t.Kind, Due: t.Due, Started: start, Lateness: lateness, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

package storage

import (
	"context"
	"time"

	"cronexec/internal/eventbus"
	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"
)

// Record persists finished and failed command runs from bus until ctx is
// done. Continuation tasks are bookkeeping and are skipped. Events dropped
// by the bus under load are not recorded.
func Record(ctx context.Context, bus eventbus.Bus, st Store, log logx.Logger) error {
	if bus == nil || st == nil {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(256, eventbus.TaskFinished, eventbus.TaskFailed)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			te, ok := ev.Data.(engine.TaskEvent)
			if !ok || te.Kind == engine.KindContinuation {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := st.AppendRun(wctx, FromTaskEvent(te))
			cancel()
			if err != nil {
				log.Warn("run record write failed", logx.String("task", te.Name), logx.Err(err))
			}
		}
	}
}

func FromTaskEvent(te engine.TaskEvent) RunRecord {
	return RunRecord{
		TaskID:   te.ID,
		Name:     te.Name,
		Chain:    te.Chain,
		Kind:     string(te.Kind),
		Due:      te.Due,
		Started:  te.Started,
		Lateness: te.Lateness,
		Duration: te.Duration,
		Error:    te.Error,
	}
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cronexec/internal/config"
	"cronexec/internal/cronspec"
	"cronexec/internal/eventbus"
	"cronexec/internal/httpauth"
	"cronexec/internal/runtime/supervisor"
	"cronexec/internal/storage"
	"cronexec/internal/task/engine"
	"cronexec/internal/task/scheduler"
	logx "cronexec/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	creds *httpauth.Static

	engine *engine.Service

	// mu guards the parts rebuilt on reload.
	mu     sync.Mutex
	eval   *cronspec.Evaluator
	client *http.Client
	sched  *scheduler.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)

	eval, err := newEvaluator(cfg)
	if err != nil {
		return nil, err
	}
	ccfg, err := mapClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	creds := httpauth.NewStatic()
	creds.Replace(mapCredentials(cfg))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		creds:   creds,
		engine:  engineSvc,
		eval:    eval,
		client:  httpauth.NewClient(ccfg, creds),
	}
	a.sched = a.newScheduler(eval)
	return a, nil
}

func (a *App) newScheduler(eval *cronspec.Evaluator) *scheduler.Service {
	return scheduler.New(eval, a.engine, a.log.With(logx.String("comp", "scheduler")), a.bus)
}

// Scheduler returns the current chain registry. It is replaced when the
// scheduler or engine config is reloaded.
func (a *App) Scheduler() *scheduler.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sched
}

// Snapshot reports the chains and the engine state.
func (a *App) Snapshot() scheduler.Snapshot {
	return a.Scheduler().Snapshot()
}

// LogState writes the current snapshot to the app log. run calls it on SIGUSR1.
func (a *App) LogState() { a.logState(a.log) }

func (a *App) logState(log logx.Logger) {
	snap := a.Snapshot()
	fields := []logx.Field{logx.Int("chains", len(snap.Chains)), logx.Bool("stopped", snap.Stopped)}
	if e := snap.Engine; e != nil {
		fields = append(fields,
			logx.Int("workers", e.Workers),
			logx.Int("queue_len", e.QueueLen),
			logx.Int("pending", e.Pending),
			logx.Int("in_flight", e.InFlight),
			logx.Uint64("completed", e.Completed),
			logx.Uint64("failed", e.Failed),
		)
	}
	log.Info("state", fields...)
	for _, c := range snap.Chains {
		log.Info("chain",
			logx.String("job", c.Name),
			logx.String("state", string(c.State)),
			logx.String("active", c.Active),
			logx.Time("next", c.Next),
			logx.Uint64("cycles", c.Cycles),
		)
	}
}

// Reload re-reads the config file now instead of waiting for a file event.
func (a *App) Reload(ctx context.Context) (bool, error) {
	return a.cfgm.Reload(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg)
	})

	if a.store != nil {
		a.sup.Go("storage.record", func(c context.Context) error {
			return storage.Record(c, a.bus, a.store, a.log.With(logx.String("comp", "storage")))
		})
	}

	a.engine.Start(a.sup.Context())

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise for frequent chains.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.registerAll(a.sup.Context(), a.cfgm.Get())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.log)
	a.log.Info("app started", logx.Int("chains", len(a.Scheduler().Chains())))
	return nil
}

// applyConfig moves the running app from prev to next. Chains are
// re-registered from now: all of them when the evaluator, the engine or
// the HTTP client changed, otherwise only the changed jobs.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["logging"] {
		a.logs.Apply(mapLogConfig(next))
	}

	rebuild := false
	if changed["http"] {
		a.creds.Replace(mapCredentials(next))
		if prev.HTTP != next.HTTP {
			if ccfg, err := mapClientConfig(next); err != nil {
				a.log.Warn("invalid http config; keeping previous", logx.Err(err))
			} else {
				a.mu.Lock()
				a.client = httpauth.NewClient(ccfg, a.creds)
				a.mu.Unlock()
				rebuild = true
			}
		}
	}
	if changed["engine"] {
		if engCfg, err := mapEngineConfig(next); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, engCfg)
			a.engine.Start(ctx)
			rebuild = true
		}
	}
	if changed["scheduler"] {
		if eval, err := newEvaluator(next); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.mu.Lock()
			a.eval = eval
			a.mu.Unlock()
			rebuild = true
		}
	}

	switch {
	case rebuild:
		a.mu.Lock()
		old := a.sched
		a.sched = a.newScheduler(a.eval)
		a.mu.Unlock()
		old.Stop()
		a.registerAll(ctx, next)
	case len(changedJobs) > 0:
		a.reregister(ctx, next, changedJobs)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// Chains first so no continuation re-arms on a stopping engine.
	step("scheduler", 1*time.Second, func(context.Context) error { a.Scheduler().Stop(); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })

	// Wait for supervised goroutines (config watch/reload, run recorder).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

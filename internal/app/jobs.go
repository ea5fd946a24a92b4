package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cronexec/internal/command"
	"cronexec/internal/config"
	"cronexec/internal/task/scheduler"
	logx "cronexec/pkg/logx"
)

// ValidateConfig runs config.Validate and then checks every job's
// expressions with the configured evaluator and builds its command.
func ValidateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	eval, err := newEvaluator(cfg)
	if err != nil {
		return err
	}
	var errs []error
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d] %q", i, j.Name)
		if _, err := eval.Validate(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: schedule: %w", path, err))
		}
		if fb := strings.TrimSpace(j.Fallback); fb != "" {
			if _, err := eval.Validate(fb); err != nil {
				errs = append(errs, fmt.Errorf("%s: fallback: %w", path, err))
			}
		}
		if _, err := command.Build(j, command.Deps{}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// registerAll registers a chain for every active job on the current scheduler.
func (a *App) registerAll(ctx context.Context, cfg *config.Config) {
	if !a.engine.Enabled() {
		a.log.Warn("engine disabled; jobs are not scheduled", logx.Int("jobs", len(cfg.ActiveJobs())))
		return
	}
	for _, j := range cfg.ActiveJobs() {
		a.register(ctx, j)
	}
}

// reregister cancels the chains of the named jobs and registers the ones
// still active in cfg.
func (a *App) reregister(ctx context.Context, cfg *config.Config, names []string) {
	sched := a.Scheduler()
	active := map[string]config.JobConfig{}
	for _, j := range cfg.ActiveJobs() {
		active[strings.TrimSpace(j.Name)] = j
	}
	for _, name := range names {
		sched.Cancel(name)
		if j, ok := active[name]; ok && a.engine.Enabled() {
			a.register(ctx, j)
		}
	}
}

func (a *App) register(ctx context.Context, j config.JobConfig) {
	a.mu.Lock()
	sched, client := a.sched, a.client
	a.mu.Unlock()

	log := a.log.With(logx.String("comp", "chain"), logx.String("job", j.Name))
	run, err := command.Build(j, command.Deps{HTTP: client, Log: log})
	if err != nil {
		a.log.Error("job not scheduled", logx.String("job", j.Name), logx.Err(err))
		return
	}
	timeout, err := config.ParseDurationField("jobs.timeout", j.Timeout)
	if err != nil {
		a.log.Error("job not scheduled", logx.String("job", j.Name), logx.Err(err))
		return
	}

	c, err := sched.Register(ctx, scheduler.Spec{
		Name:       j.Name,
		Command:    run,
		Expression: j.Schedule,
		Fallback:   j.Fallback,
		Log:        log,
		Timeout:    timeout,
	})
	if err != nil {
		a.log.Error("job not scheduled", logx.String("job", j.Name), logx.Err(err))
		return
	}
	info := c.Info()
	a.log.Debug("job scheduled",
		logx.String("job", j.Name),
		logx.String("expr", info.Active),
		logx.Time("next", info.Next),
	)
}

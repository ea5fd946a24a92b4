package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cronexec/internal/eventbus"
	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"
)

// timeNow is the registration clock. Tests swap it.
var timeNow = time.Now

type Service struct {
	mu sync.Mutex

	eval Evaluator
	pool Pool
	log  logx.Logger
	bus  eventbus.Bus

	chains  map[string]*Chain
	stopped bool

	// Pool error throttling: key is chain name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(eval Evaluator, pool Pool, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		eval:        eval,
		pool:        pool,
		log:         log,
		bus:         bus,
		chains:      map[string]*Chain{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Register validates spec and arms the first cycle, anchored at the current
// time. Invalid expressions fail with cronspec.ErrInvalidExpression; an
// expression (and fallback) with no next instant fails with
// ErrScheduleExhausted and arms nothing.
func (s *Service) Register(ctx context.Context, spec Spec) (*Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Expression = strings.TrimSpace(spec.Expression)
	spec.Fallback = strings.TrimSpace(spec.Fallback)
	if spec.Name == "" {
		return nil, errors.New("chain name required")
	}
	if spec.Command == nil {
		return nil, fmt.Errorf("chain %q: command required", spec.Name)
	}

	primary, err := s.eval.Validate(spec.Expression)
	if err != nil {
		return nil, fmt.Errorf("chain %q: %w", spec.Name, err)
	}
	fallback := primary
	if spec.Fallback != "" && spec.Fallback != spec.Expression {
		if fallback, err = s.eval.Validate(spec.Fallback); err != nil {
			return nil, fmt.Errorf("chain %q fallback: %w", spec.Name, err)
		}
	}

	log := spec.Log
	if log.IsZero() {
		log = s.log
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if _, ok := s.chains[spec.Name]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChainExists, spec.Name)
	}
	c := newChain(spec, primary, fallback, log)
	c.onFinish = s.forget
	s.chains[spec.Name] = c
	s.mu.Unlock()

	if err := s.armCycle(c, cycle{reference: timeNow(), expression: spec.Expression}); err != nil {
		return nil, err
	}
	c.log.Info("chain registered", logx.String("expr", spec.Expression), logx.String("fallback", spec.Fallback))
	return c, nil
}

// armCycle computes the next instant for cyc and submits the command and the
// continuation with the same delay. A failed expression is replaced by the
// fallback at most once; otherwise the chain terminates.
func (s *Service) armCycle(c *Chain, cyc cycle) error {
	if c.ctx.Err() != nil {
		return nil
	}
	for {
		h := c.handle(cyc.expression)
		delay, okDelay := h.TimeToNext(cyc.reference)
		next, okNext := h.NextInstant(cyc.reference)
		if okDelay != okNext {
			c.log.Warn("evaluator disagreement; treating as no next execution",
				logx.String("expr", cyc.expression), logx.Bool("has_delay", okDelay), logx.Bool("has_next", okNext))
		}
		if okDelay && okNext {
			return s.arm(c, cyc, delay, next)
		}

		if c.spec.Fallback == "" || c.spec.Fallback == cyc.expression {
			err := &ExhaustedError{Expression: cyc.expression}
			c.log.Error("no next scheduled execution; chain terminated", logx.String("expr", cyc.expression), logx.Time("reference", cyc.reference))
			s.terminate(c, StateTerminated, err)
			return err
		}

		c.log.Error("cannot compute next scheduled execution; using fallback", logx.String("expr", cyc.expression))
		c.substituted()
		s.publish(eventbus.ChainFallback, c)
		cyc.expression = c.spec.Fallback
	}
}

func (s *Service) arm(c *Chain, cyc cycle, delay time.Duration, next time.Time) error {
	command := engine.Task{
		Name:    c.spec.Name,
		Chain:   c.id,
		Kind:    engine.KindCommand,
		Timeout: c.spec.Timeout,
		Run:     c.runCommand,
	}
	following := cycle{reference: next, expression: cyc.expression}
	continuation := engine.Task{
		Name:  c.spec.Name + ".next",
		Chain: c.id,
		Kind:  engine.KindContinuation,
		Run:   func(context.Context) error { return s.armCycle(c, following) },
	}

	if err := s.pool.Schedule(delay, command); err != nil {
		s.reportEnqueueError(c.spec.Name, err)
		err = fmt.Errorf("chain %q: schedule command: %w", c.spec.Name, err)
		s.terminate(c, StateTerminated, err)
		return err
	}
	if err := s.pool.Schedule(delay, continuation); err != nil {
		s.reportEnqueueError(c.spec.Name, err)
		err = fmt.Errorf("chain %q: schedule continuation: %w", c.spec.Name, err)
		s.terminate(c, StateTerminated, err)
		return err
	}

	c.armed(cyc, next)
	c.log.Debug("chain armed", logx.String("expr", cyc.expression), logx.Time("next", next), logx.Duration("delay", delay))
	s.publish(eventbus.ChainArmed, c)
	return nil
}

func (s *Service) terminate(c *Chain, state ChainState, err error) {
	if c.finish(state, err) {
		s.publish(eventbus.ChainTerminated, c)
	}
}

func (s *Service) forget(c *Chain) {
	s.mu.Lock()
	if s.chains[c.spec.Name] == c {
		delete(s.chains, c.spec.Name)
	}
	s.mu.Unlock()
}

// Get returns the running chain registered under name.
func (s *Service) Get(name string) (*Chain, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[strings.TrimSpace(name)]
	return c, ok
}

// Cancel cancels the chain registered under name.
func (s *Service) Cancel(name string) bool {
	c, ok := s.Get(name)
	if !ok {
		return false
	}
	s.cancelChain(c)
	return true
}

func (s *Service) cancelChain(c *Chain) {
	c.Cancel()
	s.publish(eventbus.ChainCancelled, c)
	c.log.Info("chain cancelled")
}

// Chains lists running chains sorted by name.
func (s *Service) Chains() []ChainInfo {
	s.mu.Lock()
	cs := make([]*Chain, 0, len(s.chains))
	for _, c := range s.chains {
		cs = append(cs, c)
	}
	s.mu.Unlock()

	out := make([]ChainInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every chain and rejects further registrations.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	cs := make([]*Chain, 0, len(s.chains))
	for _, c := range s.chains {
		cs = append(cs, c)
	}
	s.mu.Unlock()

	for _, c := range cs {
		s.cancelChain(c)
	}
	s.log.Info("scheduler stopped", logx.Int("chains", len(cs)))
}

func (s *Service) publish(typ string, c *Chain) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: c.Info()})
}

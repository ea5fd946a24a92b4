package scheduler

import (
	"context"
	"sync"
	"time"

	"cronexec/internal/cronspec"
	logx "cronexec/pkg/logx"

	"github.com/google/uuid"
)

// Chain is the handle of one registered command.
type Chain struct {
	id   string
	spec Spec
	log  logx.Logger

	primary  cronspec.Handle
	fallback cronspec.Handle

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	onFinish func(*Chain)

	mu           sync.Mutex
	state        ChainState
	err          error
	active       string
	reference    time.Time
	next         time.Time
	cycles       uint64
	fallbackUsed bool
}

func newChain(spec Spec, primary, fallback cronspec.Handle, log logx.Logger) *Chain {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Chain{
		id:       id,
		spec:     spec,
		log:      log.With(logx.String("chain", spec.Name), logx.String("chain_id", id)),
		primary:  primary,
		fallback: fallback,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateArmed,
		active:   spec.Expression,
	}
}

func (c *Chain) ID() string   { return c.id }
func (c *Chain) Name() string { return c.spec.Name }

// Done is closed once the chain is terminated or cancelled.
func (c *Chain) Done() <-chan struct{} { return c.done }

// Err reports why the chain ended: an *ExhaustedError, a pool error or
// context.Canceled. It is nil while the chain is running.
func (c *Chain) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Chain) State() ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel stops the chain. Tasks already handed to the pool become no-ops.
func (c *Chain) Cancel() {
	c.cancel()
	c.finish(StateCancelled, context.Canceled)
}

func (c *Chain) Info() ChainInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := ChainInfo{
		ID:           c.id,
		Name:         c.spec.Name,
		Expression:   c.spec.Expression,
		Fallback:     c.spec.Fallback,
		Active:       c.active,
		State:        c.state,
		Reference:    c.reference,
		Next:         c.next,
		Cycles:       c.cycles,
		FallbackUsed: c.fallbackUsed,
	}
	if c.err != nil {
		info.Err = c.err.Error()
	}
	return info
}

func (c *Chain) handle(expr string) cronspec.Handle {
	if expr == c.spec.Expression || c.fallback == nil {
		return c.primary
	}
	return c.fallback
}

func (c *Chain) armed(cyc cycle, next time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Final() {
		return
	}
	c.state = StateArmed
	c.active = cyc.expression
	c.reference = cyc.reference
	c.next = next
	c.cycles++
}

func (c *Chain) substituted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Final() {
		return
	}
	c.state = StateFailedFallback
	c.fallbackUsed = true
}

// finish moves the chain into a final state once; later calls are ignored.
func (c *Chain) finish(state ChainState, err error) bool {
	c.mu.Lock()
	if c.state.Final() {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.err = err
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	if c.onFinish != nil {
		c.onFinish(c)
	}
	return true
}

// runCommand executes the user command unless the chain was cancelled.
// Cancelling the chain also cancels a running command.
func (c *Chain) runCommand(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	return c.spec.Command(ctx)
}

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
)

// State is the sync coordinator state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// BackoffConfig shapes the retry delay after an aborted cycle.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultBackoff returns the default retry schedule.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     2 * time.Minute,
		Multiplier:      2,
	}
}

type cycleFunc func(ctx context.Context, trigger metrics.Trigger) error

// run is one scheduled cycle. Callers waiting on it share its result.
type run struct {
	trigger metrics.Trigger
	done    chan struct{}
	err     error
	waiters int
}

func newRun(t metrics.Trigger) *run {
	return &run{trigger: t, done: make(chan struct{})}
}

// coordinator serializes sync cycles. Automatic triggers arriving while a
// cycle is in flight join it. Forced syncs arriving while a cycle is in
// flight share a single trailing cycle.
type coordinator struct {
	cycle    cycleFunc
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	rerun    *run
	backoff  *backoff.ExponentialBackOff
	// maxRetry caps the jittered delay, which backoff lets exceed MaxInterval.
	maxRetry time.Duration
	retry    *time.Timer
	// retryDue is set when the retry timer fires during a cycle.
	retryDue bool
	stopped  bool
}

func newCoordinator(cycle cycleFunc, interval time.Duration, bc BackoffConfig) *coordinator {
	def := DefaultBackoff()
	if bc.InitialInterval <= 0 {
		bc.InitialInterval = def.InitialInterval
	}
	if bc.MaxInterval <= 0 {
		bc.MaxInterval = def.MaxInterval
	}
	if bc.Multiplier < 1 {
		bc.Multiplier = def.Multiplier
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = bc.InitialInterval
	b.MaxInterval = bc.MaxInterval
	b.Multiplier = bc.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &coordinator{
		cycle:    cycle,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		backoff:  b,
		maxRetry: bc.MaxInterval,
	}
}

// start launches the periodic timer. A non-positive interval disables it.
func (c *coordinator) start() {
	if c.interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.wg.Add(1)
	go c.tick()
}

func (c *coordinator) tick() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.trigger(metrics.TriggerInterval)
		}
	}
}

// trigger starts a cycle unless one is already in flight.
func (c *coordinator) trigger(t metrics.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.state == StateSyncing {
		if t == metrics.TriggerRetry {
			c.retryDue = true
		}
		return
	}
	c.launchLocked(newRun(t))
}

// force runs a cycle and waits for it. While a cycle is in flight, every
// caller waits on the same trailing cycle.
func (c *coordinator) force(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return domainErrors.ErrEngineClosed
	}
	var r *run
	if c.state == StateSyncing {
		if c.rerun == nil {
			c.rerun = newRun(metrics.TriggerForce)
		}
		r = c.rerun
		r.waiters++
	} else {
		r = newRun(metrics.TriggerForce)
		c.launchLocked(r)
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *coordinator) launchLocked(r *run) {
	c.state = StateSyncing
	c.wg.Add(1)
	go c.loop(r)
}

func (c *coordinator) loop(r *run) {
	defer c.wg.Done()

	for r != nil {
		r.err = c.cycle(c.ctx, r.trigger)
		close(r.done)

		c.mu.Lock()
		r, c.rerun = c.rerun, nil
		if r == nil && c.retryDue && !c.stopped {
			r = newRun(metrics.TriggerRetry)
		}
		c.retryDue = false
		if r == nil {
			c.state = StateIdle
		}
		c.mu.Unlock()
	}
}

// scheduleRetry arms the retry timer with the next backoff delay and
// returns the delay.
func (c *coordinator) scheduleRetry() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.backoff.NextBackOff()
	if c.stopped || d == backoff.Stop {
		return d
	}
	d = min(d, c.maxRetry)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(d, func() { c.trigger(metrics.TriggerRetry) })
	return d
}

// resetBackoff restarts the retry schedule after a successful cycle.
func (c *coordinator) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backoff.Reset()
	c.retryDue = false
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *coordinator) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// stop cancels the timer, a pending retry and an in-flight cycle, then
// waits for the coordinator goroutines to exit.
func (c *coordinator) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

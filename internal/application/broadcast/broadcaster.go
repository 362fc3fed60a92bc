// Package broadcast publishes sync status snapshots to in-process
// subscribers such as the CLI, the dashboard feed, and UI bindings.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/jbctechsolutions/tempo/internal/domain/status"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// Broadcaster owns the current status snapshot and an explicit list of
// subscribers.
//
// Each subscriber has an unbounded FIFO queue drained by its own dispatch
// goroutine. Publishing appends to the queue, so a slow subscriber never
// holds up the publisher and still sees every change in order.
type Broadcaster struct {
	mu      sync.Mutex
	current status.Snapshot
	subs    map[uint64]*subscriber
	nextID  uint64
	closed  bool
	logger  *logging.Logger
}

type subscriber struct {
	fn      func(status.Snapshot)
	mu      sync.Mutex
	pending []status.Snapshot
	signal  chan struct{}
	done   chan struct{}
}

// New creates a broadcaster holding initial.
func New(initial status.Snapshot, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.Default()
	}
	return &Broadcaster{
		current: initial.Copy(),
		subs:    make(map[uint64]*subscriber),
		logger:  logger.With("component", "broadcast"),
	}
}

// Current returns the current snapshot.
func (b *Broadcaster) Current() status.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Copy()
}

// Subscribe calls fn with the current snapshot before returning, then with
// every later change until the returned function is called.
func (b *Broadcaster) Subscribe(fn func(status.Snapshot)) (unsubscribe func()) {
	b.mu.Lock()
	initial := b.current.Copy()
	if b.closed {
		b.mu.Unlock()
		b.call(fn, initial)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	b.call(fn, initial)
	go b.dispatch(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.done)
			}
			b.mu.Unlock()
		})
	}
}

// Update applies mutate to a copy of the current snapshot and publishes the
// result if it differs. It reports whether subscribers were notified.
func (b *Broadcaster) Update(mutate func(s *status.Snapshot)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.current.Copy()
	mutate(&next)
	if next.Equal(b.current) {
		return false
	}
	b.current = next
	for _, sub := range b.subs {
		sub.offer(next.Copy())
	}
	return true
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops every dispatcher. Later subscribers only receive the final
// snapshot.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) dispatch(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.signal:
		}
		for _, s := range sub.drain() {
			select {
			case <-sub.done:
				return
			default:
			}
			b.call(sub.fn, s)
		}
	}
}

// call invokes fn and keeps a panicking subscriber from taking the
// dispatcher down with it.
func (b *Broadcaster) call(fn func(status.Snapshot), s status.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(s)
}

func (s *subscriber) offer(snap status.Snapshot) {
	s.mu.Lock()
	s.pending = append(s.pending, snap)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// drain hands back the queued snapshots in publish order and empties the
// queue.
func (s *subscriber) drain() []status.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	return out
}

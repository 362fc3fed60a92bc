// Package network tracks connectivity and exposes a debounced online signal.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// DefaultDebounce is the quiet period a raw connectivity change must survive
// before it becomes the stable signal.
const DefaultDebounce = 300 * time.Millisecond

// Monitor turns raw connectivity reports into a stable signal. A raw change
// (re)starts the debounce timer; when the timer fires the latest raw value
// becomes stable, so flapping inside the window yields at most one
// transition.
type Monitor struct {
	mu        sync.Mutex
	stable    bool
	raw       bool
	window    time.Duration
	timer     *time.Timer
	listeners map[uint64]func(bool)
	nextID    uint64
	closed    bool
	logger    *logging.Logger
}

// NewMonitor creates a monitor whose stable state starts at initial.
func NewMonitor(initial bool, window time.Duration, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	if window < 0 {
		window = 0
	}
	return &Monitor{
		stable:    initial,
		raw:       initial,
		window:    window,
		listeners: make(map[uint64]func(bool)),
		logger:    logger.With("component", "network"),
	}
}

// IsOnline returns the stable connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable
}

// OnChange registers fn for stable transitions. Listeners run on the
// debounce timer goroutine and must not block.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Report feeds a raw connectivity observation.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.closed || online == m.raw {
		m.mu.Unlock()
		return
	}
	m.raw = online

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.window == 0 {
		m.mu.Unlock()
		m.settle()
		return
	}
	m.timer = time.AfterFunc(m.window, m.settle)
	m.mu.Unlock()
}

// Close cancels a pending debounce and drops all listeners.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.listeners = make(map[uint64]func(bool))
}

func (m *Monitor) settle() {
	m.mu.Lock()
	m.timer = nil
	if m.closed || m.raw == m.stable {
		m.mu.Unlock()
		return
	}
	m.stable = m.raw
	online := m.stable
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	logging.LogConnectivityChange(context.Background(), m.logger, online)
	for _, fn := range listeners {
		fn(online)
	}
}

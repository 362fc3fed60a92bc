// Package remote keeps the remote store backends a device can sync with.
package remote

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
)

// ErrUnknownBackend is returned for a backend name nobody registered.
var ErrUnknownBackend = errors.New("unknown remote backend")

// breakerReporter is implemented by backends guarded by a circuit breaker.
type breakerReporter interface {
	BreakerState() string
}

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Name string `json:"name"`
	// Breaker is the circuit breaker state, empty when the backend has none.
	Breaker string `json:"breaker,omitempty"`
}

// Registry maps backend names to remote stores. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]ports.RemoteStorePort
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]ports.RemoteStorePort)}
}

// Register adds store under its own name, replacing any previous store of
// that name.
func (r *Registry) Register(store ports.RemoteStorePort) error {
	if store == nil {
		return fmt.Errorf("remote store cannot be nil")
	}
	name := store.Name()
	if name == "" {
		return fmt.Errorf("remote store name cannot be empty")
	}

	r.mu.Lock()
	r.backends[name] = store
	r.mu.Unlock()
	return nil
}

// Get returns the store registered as name, or nil.
func (r *Registry) Get(name string) ports.RemoteStorePort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[name]
}

// GetRequired is Get for a backend that must exist.
func (r *Registry) GetRequired(name string) (ports.RemoteStorePort, error) {
	if store := r.Get(name); store != nil {
		return store, nil
	}
	return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownBackend, name, r.List())
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.backends))
}

// Describe reports every registered backend in sorted order.
func (r *Registry) Describe() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for _, name := range slices.Sorted(maps.Keys(r.backends)) {
		info := BackendInfo{Name: name}
		if b, ok := r.backends[name].(breakerReporter); ok {
			info.Breaker = b.BreakerState()
		}
		infos = append(infos, info)
	}
	return infos
}

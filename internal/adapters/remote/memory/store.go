// Package memory provides an in-process remote store. It backs local-only
// mode and lets tests play the part of other devices.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
)

// Op names a remote store call for hooks and failure injection.
type Op string

const (
	OpFetch  Op = "fetch"
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Hook runs before every call. A non-nil error fails the call.
type Hook func(ctx context.Context, op Op, ref entity.Ref) error

// Validator inspects the fields of a write; a non-nil error rejects it.
type Validator func(ref entity.Ref, fields entity.Fields) error

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to assign versions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithValidator rejects writes that fail v.
func WithValidator(v Validator) Option {
	return func(s *Store) { s.validate = v }
}

// Store is a thread-safe remote store holding entities in memory. Versions
// are strictly increasing unix millisecond timestamps.
type Store struct {
	mu       sync.Mutex
	items    map[entity.Ref]entity.Remote
	last     entity.Version
	now      func() time.Time
	validate Validator
	hook     Hook
	failures []error
	calls    map[Op]int
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[entity.Ref]entity.Remote),
		now:   time.Now,
		calls: make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements ports.RemoteStorePort.
func (s *Store) Name() string {
	return "memory"
}

// Fetch implements ports.RemoteStorePort.
func (s *Store) Fetch(ctx context.Context, ref entity.Ref) (*entity.Remote, error) {
	if err := s.before(ctx, OpFetch, ref); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[ref]
	if !ok {
		return nil, domainErrors.ErrRemoteNotFound
	}
	return copyRemote(r), nil
}

// Create implements ports.RemoteStorePort.
func (s *Store) Create(ctx context.Context, ref entity.Ref, fields entity.Fields) (*entity.Remote, error) {
	if err := s.before(ctx, OpCreate, ref); err != nil {
		return nil, err
	}
	if err := s.check(ref, fields); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[ref]; ok {
		return nil, domainErrors.ErrRemoteExists
	}
	r := entity.Remote{Ref: ref, Fields: fields.Clone(), Version: s.nextVersionLocked()}
	s.items[ref] = r
	return copyRemote(r), nil
}

// Update implements ports.RemoteStorePort.
func (s *Store) Update(ctx context.Context, ref entity.Ref, fields entity.Fields, base entity.Version) (*entity.Remote, error) {
	if err := s.before(ctx, OpUpdate, ref); err != nil {
		return nil, err
	}
	if err := s.check(ref, fields); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[ref]
	if !ok {
		return nil, domainErrors.ErrRemoteNotFound
	}
	if current.Version != base {
		return nil, domainErrors.ErrVersionMismatch
	}
	r := entity.Remote{Ref: ref, Fields: current.Fields.Merge(fields), Version: s.nextVersionLocked()}
	s.items[ref] = r
	return copyRemote(r), nil
}

// Put writes fields on top of ref as another client would, creating the
// entity if needed, and returns the new state.
func (s *Store) Put(ref entity.Ref, fields entity.Fields) entity.Remote {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.items[ref]
	r := entity.Remote{Ref: ref, Fields: current.Fields.Merge(fields), Version: s.nextVersionLocked()}
	s.items[ref] = r
	return *copyRemote(r)
}

// Restore stores r exactly as given, keeping its version. Later versions
// are assigned above it.
func (s *Store) Restore(r entity.Remote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[r.Ref] = *copyRemote(r)
	if r.Version > s.last {
		s.last = r.Version
	}
}

// Get returns the stored state of ref without counting as a call.
func (s *Store) Get(ref entity.Ref) (entity.Remote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[ref]
	if !ok {
		return entity.Remote{}, false
	}
	return *copyRemote(r), true
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// FailNext makes the next calls fail with errs, one error per call.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// SetHook installs h to run before every call. A nil h removes the hook.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Calls returns how many times op was called.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) before(ctx context.Context, op Op, ref entity.Ref) error {
	s.mu.Lock()
	s.calls[op]++
	hook := s.hook
	var injected error
	if len(s.failures) > 0 {
		injected = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, op, ref); err != nil {
			return err
		}
	}
	return injected
}

func (s *Store) check(ref entity.Ref, fields entity.Fields) error {
	if s.validate == nil {
		return nil
	}
	if err := s.validate(ref, fields); err != nil {
		return domainErrors.Rejected("invalid "+ref.String(), err)
	}
	return nil
}

func (s *Store) nextVersionLocked() entity.Version {
	v := entity.VersionAt(s.now())
	if v <= s.last {
		v = s.last + 1
	}
	s.last = v
	return v
}

func copyRemote(r entity.Remote) *entity.Remote {
	return &entity.Remote{Ref: r.Ref, Fields: r.Fields.Clone(), Version: r.Version}
}

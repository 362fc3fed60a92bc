// Package engine implements the offline-first sync engine: the façade used
// by domain writers and the UI, and the coordinator that drains the outbox
// against the remote store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/tempo/internal/application/broadcast"
	"github.com/jbctechsolutions/tempo/internal/application/conflicts"
	"github.com/jbctechsolutions/tempo/internal/application/devices"
	"github.com/jbctechsolutions/tempo/internal/application/localcache"
	"github.com/jbctechsolutions/tempo/internal/application/network"
	"github.com/jbctechsolutions/tempo/internal/application/observability"
	"github.com/jbctechsolutions/tempo/internal/application/outbox"
	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/device"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/domain/status"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// DefaultInterval is the period of automatic sync cycles.
const DefaultInterval = 30 * time.Second

// Config holds the engine's collaborators. Remote is required; storage ports
// left nil keep that state in memory only.
type Config struct {
	UserID string

	Remote        ports.RemoteStorePort
	MutationLog   ports.MutationLogPort
	CacheStore    ports.CacheSnapshotPort
	ConflictStore ports.ConflictStoragePort
	SyncState     ports.SyncStatePort

	// Presence is optional; without it the device list is always empty.
	Presence          ports.PresenceSourcePort
	Device            device.Device
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
	LookupTimeout     time.Duration

	// Monitor supplies connectivity. When nil the engine assumes it is online
	// until told otherwise through Network().Report.
	Monitor       *network.Monitor
	Observability *observability.Service

	// Interval is the automatic sync period. Zero means DefaultInterval and a
	// negative value disables the periodic timer.
	Interval         time.Duration
	Backoff          BackoffConfig
	RejectionHistory int

	Logger *logging.Logger
	Now    func() time.Time
	NewID  func() string
}

// Engine is the sync engine of one signed-in user. It is safe for concurrent
// use. Create it with New, call Start, and Close it on sign-out.
type Engine struct {
	userID string
	logger *logging.Logger
	now    func() time.Time
	newID  func() string

	remote    ports.RemoteStorePort
	syncState ports.SyncStatePort
	queue     *outbox.Queue
	cache     *localcache.Cache
	conflicts *conflicts.Queue
	status    *broadcast.Broadcaster
	monitor   *network.Monitor
	devices   *devices.Registry
	obs       *observability.Service
	coord     *coordinator
	rejects   *rejectionFeed

	// writeMu serializes queue and cache changes made by domain writes and by
	// the coordinator. Network calls never run under it.
	writeMu sync.Mutex
	// resolveMu serializes manual resolutions.
	resolveMu sync.Mutex

	lifecycleMu sync.Mutex
	started     bool
	closed      atomic.Bool
	unsubscribe []func()
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New wires an engine from cfg. No I/O happens until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Remote == nil {
		return nil, domainErrors.NewError(domainErrors.CodeConfiguration, "remote store is required", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UserID != "" {
		logger = logger.With("user_id", cfg.UserID)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = network.NewMonitor(true, network.DefaultDebounce, logger)
	}
	obs := cfg.Observability
	if obs == nil {
		obs = observability.NewService(observability.ServiceConfig{Logger: logger, Now: now})
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	e := &Engine{
		userID:    cfg.UserID,
		logger:    logger.With("component", "engine"),
		now:       now,
		newID:     newID,
		remote:    cfg.Remote,
		syncState: cfg.SyncState,
		monitor:   monitor,
		obs:       obs,
		rejects:   newRejectionFeed(cfg.RejectionHistory, logger),
	}

	e.conflicts = conflicts.New(cfg.ConflictStore, now)
	e.queue = outbox.New(outbox.Config{
		Log:       cfg.MutationLog,
		Conflicts: e.conflicts,
		Logger:    logger,
		Now:       now,
	})
	e.cache = localcache.New(localcache.Config{
		Store:  cfg.CacheStore,
		Logger: logger,
		Now:    now,
	})
	e.status = broadcast.New(status.Snapshot{IsOnline: monitor.IsOnline()}, logger)
	e.devices = devices.New(devices.Config{
		Source:            cfg.Presence,
		Self:              cfg.Device,
		LookupTimeout:     cfg.LookupTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TTL:               cfg.PresenceTTL,
		Status:            e.status,
		Logger:            logger,
		Now:               now,
	})
	e.coord = newCoordinator(e.runCycle, interval, cfg.Backoff)
	return e, nil
}

// Start restores persisted state, reconciles it and starts the background
// work: connectivity handling, the periodic timer and presence heartbeats.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.closed.Load() {
		return domainErrors.ErrEngineClosed
	}
	if e.started {
		return nil
	}

	if err := e.restore(ctx); err != nil {
		return err
	}

	if m := e.obs.Metrics(); m != nil {
		e.unsubscribe = append(e.unsubscribe, e.status.Subscribe(func(s status.Snapshot) {
			m.SetStatus(s.IsOnline, s.PendingChanges, s.Conflicts, s.ConnectedDevices)
		}))
	}
	e.unsubscribe = append(e.unsubscribe, e.monitor.OnChange(e.onConnectivity))
	e.status.Update(func(s *status.Snapshot) { s.IsOnline = e.monitor.IsOnline() })

	runCtx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.devices.Run(runCtx)
	}()

	e.coord.start()
	e.started = true

	if e.monitor.IsOnline() && e.queue.Len() > 0 {
		e.coord.trigger(metrics.TriggerStartup)
	}
	return nil
}

// restore loads the persisted cache, conflicts and queue, then repairs the
// state a crash may have left behind.
func (e *Engine) restore(ctx context.Context) error {
	if err := e.conflicts.Load(ctx); err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not load conflicts", err)
	}
	if err := e.cache.Load(ctx); err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not load cache snapshot", err)
	}
	if _, err := e.queue.Open(ctx); err != nil {
		return domainErrors.NewError(domainErrors.CodeStorage, "could not open mutation queue", err)
	}

	for _, m := range e.queue.PeekAll() {
		// A crash between persisting a conflict and dequeuing its mutation
		// leaves both behind; the conflict wins.
		if e.conflicts.HasPending(m.Ref) {
			e.logger.WarnContext(ctx, "dropping queued mutation consumed by a conflict",
				"entity", m.Ref.String(),
				"mutation_id", m.ID,
			)
			if err := e.queue.Dequeue(ctx, m.Ref); err != nil {
				return domainErrors.NewError(domainErrors.CodeStorage, "could not reconcile mutation queue", err)
			}
			continue
		}
		e.cache.Stage(ctx, m.Ref, m.Payload)
	}

	var last *time.Time
	if e.syncState != nil {
		t, err := e.syncState.LastSyncTime(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "could not read last sync time", "error", err)
		}
		last = t
	}
	e.refreshStatus(func(s *status.Snapshot) { s.LastSyncTime = last })
	return nil
}

// Close stops all background work. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.closed.Swap(true) {
		return nil
	}
	for _, unsub := range e.unsubscribe {
		unsub()
	}
	e.unsubscribe = nil

	e.coord.stop()
	if e.runCancel != nil {
		e.runCancel()
	}
	e.wg.Wait()

	e.monitor.Close()
	e.status.Close()
	return nil
}

// CreateOffline records a new entity locally under a provisional ID and
// queues its creation. The returned entity shows the unconfirmed fields.
func (e *Engine) CreateOffline(ctx context.Context, t entity.Type, payload entity.Fields) (localcache.Entity, error) {
	if e.closed.Load() {
		return localcache.Entity{}, domainErrors.ErrEngineClosed
	}
	ref, err := entity.NewRef(t, e.newID())
	if err != nil {
		return localcache.Entity{}, domainErrors.NewError(domainErrors.CodeValidation, "invalid entity", err)
	}
	fields, err := normalizePayload(payload)
	if err != nil {
		return localcache.Entity{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, err := e.queue.Enqueue(ctx, ref, mutation.OpCreate, fields, 0, nil); err != nil {
		return localcache.Entity{}, err
	}
	ent := e.cache.Stage(ctx, ref, fields)
	e.refreshStatus(nil)
	return ent, nil
}

// UpdateOffline queues a change to an existing entity and shows it in the
// cache right away. Entities with an unresolved conflict refuse writes with
// ErrConflictPending.
func (e *Engine) UpdateOffline(ctx context.Context, t entity.Type, id string, fields entity.Fields) (localcache.Entity, error) {
	if e.closed.Load() {
		return localcache.Entity{}, domainErrors.ErrEngineClosed
	}
	ref, err := entity.NewRef(t, id)
	if err != nil {
		return localcache.Entity{}, domainErrors.NewError(domainErrors.CodeValidation, "invalid entity", err)
	}
	payload, err := normalizePayload(fields)
	if err != nil {
		return localcache.Entity{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cached, ok := e.cache.Get(ref)
	if !ok {
		return localcache.Entity{}, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeNotFound, "cannot update "+ref.String(), domainErrors.ErrEntityNotFound),
			"entity", ref.String(),
		)
	}
	if _, err := e.queue.Enqueue(ctx, ref, mutation.OpUpdate, payload, cached.Version, cached.Confirmed); err != nil {
		return localcache.Entity{}, err
	}
	ent := e.cache.Stage(ctx, ref, payload)
	e.refreshStatus(nil)
	return ent, nil
}

// Observe records remote state read outside a sync cycle, for example by an
// online query. Queued local fields stay visible on top of it. It reports
// whether the cache changed.
func (e *Engine) Observe(ctx context.Context, ref entity.Ref, fields entity.Fields, version entity.Version) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, domainErrors.NewError(domainErrors.CodeValidation, "invalid entity", err)
	}
	normalized, err := fields.Normalize()
	if err != nil {
		return false, domainErrors.NewError(domainErrors.CodeValidation, "invalid fields", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var pending entity.Fields
	if m, ok := e.queue.Get(ref); ok {
		pending = m.Payload
	}
	return e.cache.ApplyWithPending(ctx, ref, normalized, version, pending), nil
}

// ForceSync runs a sync cycle now and waits for it. Calls made while a
// cycle is running share one extra cycle after it. It fails with ErrOffline
// when the network is down.
func (e *Engine) ForceSync(ctx context.Context) error {
	if e.closed.Load() {
		return domainErrors.ErrEngineClosed
	}
	if !e.monitor.IsOnline() {
		return domainErrors.ErrOffline
	}
	return e.coord.force(ctx)
}

// IsNetworkOnline reports the debounced connectivity state.
func (e *Engine) IsNetworkOnline() bool {
	return e.monitor.IsOnline()
}

// Network returns the connectivity monitor fed by the prober.
func (e *Engine) Network() *network.Monitor {
	return e.monitor
}

// OnSyncStatusChange calls cb with the current status right away and after
// every change until the returned function is called. cb must not block for
// long; a slow callback only delays its own later deliveries.
func (e *Engine) OnSyncStatusChange(cb func(status.Snapshot)) (unsubscribe func()) {
	return e.status.Subscribe(cb)
}

// Status returns the current status snapshot.
func (e *Engine) Status() status.Snapshot {
	return e.status.Current()
}

// State returns the coordinator state.
func (e *Engine) State() State {
	return e.coord.currentState()
}

// GetConflictQueue returns the unresolved conflicts, oldest first.
func (e *Engine) GetConflictQueue() []conflict.Conflict {
	return e.conflicts.List()
}

// GetConnectedDevices lists the other devices syncing this account. It
// never fails; presence problems yield an empty list.
func (e *Engine) GetConnectedDevices(ctx context.Context) []device.Device {
	return e.devices.ListConnectedDevices(ctx)
}

// PendingMutations returns the queued mutations in sync order.
func (e *Engine) PendingMutations() []*mutation.Mutation {
	return e.queue.PeekAll()
}

// Rejections returns the most recent rejected mutations, oldest first.
func (e *Engine) Rejections() []Rejection {
	return e.rejects.list()
}

// OnMutationRejected calls cb for every mutation the remote store rejects.
// cb runs on the sync goroutine and must not block.
func (e *Engine) OnMutationRejected(cb func(Rejection)) (unsubscribe func()) {
	return e.rejects.subscribe(cb)
}

// Entity returns the cached entity for ref.
func (e *Engine) Entity(ref entity.Ref) (localcache.Entity, bool) {
	return e.cache.Get(ref)
}

// Entities returns every cached entity of type t ordered by ID.
func (e *Engine) Entities(t entity.Type) []localcache.Entity {
	return e.cache.GetAll(t)
}

// RemoteName returns the name of the remote backend.
func (e *Engine) RemoteName() string {
	return e.remote.Name()
}

func (e *Engine) onConnectivity(online bool) {
	e.status.Update(func(s *status.Snapshot) { s.IsOnline = online })
	if online {
		e.coord.trigger(metrics.TriggerOnline)
	}
}

// refreshStatus recomputes the queue and conflict counts, applies extra and
// publishes the snapshot if anything changed.
func (e *Engine) refreshStatus(extra func(s *status.Snapshot)) {
	pending, conflicted := e.queue.Len(), e.conflicts.Len()
	e.status.Update(func(s *status.Snapshot) {
		s.PendingChanges = pending
		s.Conflicts = conflicted
		if extra != nil {
			extra(s)
		}
	})
}

func normalizePayload(fields entity.Fields) (entity.Fields, error) {
	if len(fields) == 0 {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, "nothing to write", domainErrors.ErrEmptyPayload)
	}
	normalized, err := fields.Normalize()
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, fmt.Sprintf("invalid payload: %v", err), domainErrors.ErrEmptyPayload)
	}
	return normalized, nil
}

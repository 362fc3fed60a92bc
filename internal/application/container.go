// Package application wires the sync engine of one signed-in user from
// configuration.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jbctechsolutions/tempo/internal/adapters/connectivity"
	presence "github.com/jbctechsolutions/tempo/internal/adapters/presence/redis"
	"github.com/jbctechsolutions/tempo/internal/adapters/remote"
	"github.com/jbctechsolutions/tempo/internal/adapters/remote/httpstore"
	"github.com/jbctechsolutions/tempo/internal/adapters/remote/memory"
	"github.com/jbctechsolutions/tempo/internal/adapters/sync/sqlite"
	"github.com/jbctechsolutions/tempo/internal/application/engine"
	"github.com/jbctechsolutions/tempo/internal/application/network"
	"github.com/jbctechsolutions/tempo/internal/application/observability"
	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/device"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
	telemetry "github.com/jbctechsolutions/tempo/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/storage"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/tracing"
)

// Container holds the dependencies of one user's engine and manages their
// lifecycle. Signing in as another user means closing the container and
// building a new one.
type Container struct {
	// Configuration
	config    *config.Config
	verbose   bool
	configDir string
	userID    string

	// Database connection
	dbConn *sqlite.Connection
	db     *sql.DB

	// Repositories
	mutationLog *storage.MutationLogRepository
	cacheRepo   *storage.CacheSnapshotRepository
	conflicts   *storage.ConflictRepository
	syncState   *storage.SyncStateRepository
	cycles      *cycleFeed

	// Remote and presence
	remotes        *remote.Registry
	remoteStore    ports.RemoteStorePort
	remoteOverride ports.RemoteStorePort
	redisClient    *goredis.Client
	presenceSrc    ports.PresenceSourcePort
	monitor        *network.Monitor
	prober         *connectivity.Prober

	// Observability
	logger               *logging.Logger
	tracer               *tracing.Tracer
	metrics              *telemetry.Metrics
	observabilityService *observability.Service

	engine *engine.Engine
}

// Option customizes a Container.
type Option func(*Container)

// WithConfigDir sets the directory holding the encryption salt. Defaults to
// ~/.tempo.
func WithConfigDir(dir string) Option {
	return func(c *Container) { c.configDir = dir }
}

// WithRemote replaces the configured remote backend.
func WithRemote(r ports.RemoteStorePort) Option {
	return func(c *Container) { c.remoteOverride = r }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(l *logging.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// NewContainer builds the engine for cfg.Account.UserID. Nothing runs until
// Start.
func NewContainer(cfg *config.Config, verbose bool, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
		userID:  cfg.Account.UserID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.configDir == "" {
		loader, err := config.NewLoader("")
		if err != nil {
			return nil, err
		}
		c.configDir = loader.ConfigDir()
	}

	if err := c.initObservability(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initDatabase(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c.initRepositories()

	if err := c.initRemote(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize remote store: %w", err)
	}

	if err := c.initNetwork(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize network: %w", err)
	}

	if err := c.initPresence(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize presence: %w", err)
	}

	if err := c.initEngine(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	return c, nil
}

// initObservability initializes logging, tracing and metrics.
func (c *Container) initObservability() error {
	if c.logger == nil {
		logLevel := logging.ParseLevel(c.config.Logging.Level)
		if c.verbose {
			logLevel = logging.LevelDebug
		}
		logFormat := logging.FormatText
		if c.config.Logging.Format == "json" {
			logFormat = logging.FormatJSON
		}
		c.logger = logging.New(logging.Config{Level: logLevel, Format: logFormat})
	}

	tc := c.config.Observability.Tracing
	if tc.Enabled {
		tracer, err := tracing.New(context.Background(), tracing.Config{
			Enabled:      true,
			ExporterType: tracing.ExporterType(tc.ExporterType),
			OTLPEndpoint: tc.OTLPEndpoint,
			ServiceName:  tc.ServiceName,
			Environment:  "production",
			SampleRate:   tc.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}
		c.tracer = tracer
	} else {
		c.tracer = tracing.Noop()
	}

	if c.config.Observability.Metrics.Enabled {
		c.metrics = telemetry.New()
	}
	return nil
}

// initDatabase opens the user's database under the data directory.
func (c *Container) initDatabase() error {
	dataDir, err := config.ExpandHome(c.config.Storage.DataDir)
	if err != nil {
		return err
	}
	path, err := sqlite.AccountPath(dataDir, c.userID)
	if err != nil {
		return err
	}

	conn, err := sqlite.NewConnection(path)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db, err := conn.DB()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	c.dbConn = conn
	c.db = db
	return nil
}

// initRepositories initializes all storage repositories.
func (c *Container) initRepositories() {
	c.mutationLog = storage.NewMutationLogRepository(c.db)
	c.cacheRepo = storage.NewCacheSnapshotRepository(c.db)
	c.conflicts = storage.NewConflictRepository(c.db)
	c.syncState = storage.NewSyncStateRepository(c.db)
	c.cycles = newCycleFeed(storage.NewCycleRepository(c.db))
}

// initRemote registers the available backends and selects the configured one.
func (c *Container) initRemote() error {
	c.remotes = remote.NewRegistry()

	if c.remoteOverride != nil {
		c.remoteStore = c.remoteOverride
		return c.remotes.Register(c.remoteOverride)
	}

	local := memory.New()
	if err := c.seedLocal(local); err != nil {
		return err
	}
	if err := c.remotes.Register(local); err != nil {
		return err
	}

	rc := c.config.Remote
	if rc.Backend == httpstore.Backend {
		token, err := c.decryptToken(rc.APITokenEncrypted)
		if err != nil {
			return err
		}
		store, err := httpstore.New(rc.BaseURL,
			httpstore.WithToken(token),
			httpstore.WithTimeout(rc.Timeout),
			httpstore.WithBreaker(httpstore.BreakerConfig{
				MaxRequests:      rc.Breaker.MaxRequests,
				Interval:         rc.Breaker.Interval,
				Timeout:          rc.Breaker.Timeout,
				FailureThreshold: rc.Breaker.FailureThreshold,
			}),
			httpstore.WithLogger(c.logger),
		)
		if err != nil {
			return err
		}
		if err := c.remotes.Register(store); err != nil {
			return err
		}
	}

	store, err := c.remotes.GetRequired(rc.Backend)
	if err != nil {
		return err
	}
	c.remoteStore = store
	return nil
}

// seedLocal loads confirmed entities into the in-process store so local-only
// mode keeps its data across restarts.
func (c *Container) seedLocal(local *memory.Store) error {
	records, err := c.cacheRepo.LoadEntities(context.Background())
	if err != nil {
		return fmt.Errorf("loading cache snapshot: %w", err)
	}
	for _, rec := range records {
		if rec.Confirmed == nil || rec.Version.IsZero() {
			continue
		}
		local.Restore(entity.Remote{Ref: rec.Ref, Fields: rec.Confirmed, Version: rec.Version})
	}
	return nil
}

func (c *Container) decryptToken(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	enc, err := crypto.NewEncryptor(c.configDir)
	if err != nil {
		return "", err
	}
	token, err := enc.Open(encrypted, c.config.Remote.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to open API token (run 'tempo config set-token' again): %w", err)
	}
	return token, nil
}

// initNetwork creates the connectivity monitor and, when a probe target is
// known, the prober that feeds it.
func (c *Container) initNetwork() error {
	c.monitor = network.NewMonitor(true, c.config.Network.Debounce, c.logger)

	probeURL := c.config.ProbeURL()
	if probeURL == "" {
		return nil
	}
	prober, err := connectivity.NewProber(connectivity.Config{
		URL:      probeURL,
		Interval: c.config.Network.ProbeInterval,
		Timeout:  c.config.Network.ProbeTimeout,
		Logger:   c.logger,
	}, c.monitor)
	if err != nil {
		return err
	}
	c.prober = prober
	return nil
}

// initPresence connects the Redis presence source when enabled. The client
// connects lazily, so an unreachable server only yields empty device lists.
func (c *Container) initPresence() error {
	pc := c.config.Presence
	if !pc.Enabled {
		return nil
	}
	c.redisClient = goredis.NewClient(&goredis.Options{
		Addr:     pc.RedisAddr,
		Password: pc.RedisPassword,
		DB:       pc.RedisDB,
	})
	src, err := presence.New(c.redisClient, presence.Config{UserID: c.userID, TTL: pc.TTL})
	if err != nil {
		return err
	}
	c.presenceSrc = src
	return nil
}

func (c *Container) initEngine() error {
	c.observabilityService = observability.NewService(observability.ServiceConfig{
		Logger:       c.logger,
		Tracer:       c.tracer,
		Metrics:      c.metrics,
		CycleStorage: c.cycles,
	})

	// A zero interval in the file turns the periodic timer off.
	interval := c.config.Sync.Interval
	if interval == 0 {
		interval = -1
	}
	bc := c.config.Sync.Backoff

	eng, err := engine.New(engine.Config{
		UserID:            c.userID,
		Remote:            c.remoteStore,
		MutationLog:       c.mutationLog,
		CacheStore:        c.cacheRepo,
		ConflictStore:     c.conflicts,
		SyncState:         c.syncState,
		Presence:          c.presenceSrc,
		Device:            c.selfDevice(),
		PresenceTTL:       c.config.Presence.TTL,
		HeartbeatInterval: c.config.Presence.HeartbeatInterval,
		LookupTimeout:     c.config.Presence.LookupTimeout,
		Monitor:           c.monitor,
		Observability:     c.observabilityService,
		Interval:          interval,
		Backoff: engine.BackoffConfig{
			InitialInterval: bc.InitialInterval,
			MaxInterval:     bc.MaxInterval,
			Multiplier:      bc.Multiplier,
		},
		Logger: c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = eng
	return nil
}

func (c *Container) selfDevice() device.Device {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	d := device.Device{ID: c.config.Account.DeviceID, Label: c.config.Account.DeviceLabel}
	if d.ID == "" {
		d.ID = hostname
	}
	if d.Label == "" {
		d.Label = hostname
	}
	return d
}

// Start restores persisted state and starts the engine.
func (c *Container) Start(ctx context.Context) error {
	return c.engine.Start(ctx)
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	if c.engine != nil {
		_ = c.engine.Close()
	}
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	if c.tracer != nil {
		_ = c.tracer.Shutdown(context.Background())
	}
	if c.dbConn != nil {
		return c.dbConn.Close()
	}
	return nil
}

// Engine returns the sync engine.
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// UserID returns the signed-in user.
func (c *Container) UserID() string {
	return c.userID
}

// DB returns the database connection.
func (c *Container) DB() *sql.DB {
	return c.db
}

// Database returns the connection of the account database.
func (c *Container) Database() *sqlite.Connection {
	return c.dbConn
}

// CycleRepository returns the sync cycle history store.
func (c *Container) CycleRepository() ports.CycleStoragePort {
	return c.cycles
}

// OnCycleRecorded calls fn with every sync cycle record after it is saved.
func (c *Container) OnCycleRecorded(fn func(metrics.CycleRecord)) (unsubscribe func()) {
	return c.cycles.subscribe(fn)
}

// RemoteRegistry returns the registered remote backends.
func (c *Container) RemoteRegistry() *remote.Registry {
	return c.remotes
}

// Prober returns the connectivity prober, or nil when no probe URL is known.
func (c *Container) Prober() *connectivity.Prober {
	return c.prober
}

// Logger returns the structured logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the OpenTelemetry tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}

// Metrics returns the Prometheus collectors, or nil when metrics are disabled.
func (c *Container) Metrics() *telemetry.Metrics {
	return c.metrics
}

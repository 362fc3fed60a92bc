// Package configwatch reloads the configuration file when it changes on disk.
package configwatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// LoadFunc reads and parses the file at path.
type LoadFunc func(path string) (*config.Config, error)

// Config configures a Watcher.
type Config struct {
	Path     string
	Debounce time.Duration
	Load     LoadFunc
	OnReload func(*config.Config)
	Logger   *logging.Logger
}

// Watcher watches the directory holding the config file, since editors often
// replace the file instead of writing it in place.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
	load      LoadFunc
	onReload  func(*config.Config)
	logger    *logging.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for cfg.Path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("config path is required")
	}
	if cfg.Load == nil || cfg.OnReload == nil {
		return nil, errors.New("load and reload callbacks are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		path:      path,
		debounce:  cfg.Debounce,
		load:      cfg.Load,
		onReload:  cfg.OnReload,
		logger:    cfg.Logger.With("component", "configwatch", "path", path),
	}, nil
}

// Start begins watching until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("ignoring invalid config", "error", err)
		return
	}
	w.logger.Info("config reloaded")
	w.onReload(cfg)
}

// ApplyLogLevel returns a reload callback that updates logger's level.
func ApplyLogLevel(logger *logging.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		if cfg.Logging.Level != "" {
			logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))
		}
	}
}

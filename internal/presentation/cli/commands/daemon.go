package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/tempo/internal/adapters/dashboard"
	"github.com/jbctechsolutions/tempo/internal/application"
	"github.com/jbctechsolutions/tempo/internal/application/engine"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/configwatch"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

const dashboardShutdownTimeout = 5 * time.Second

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	var noDashboard bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep syncing in the foreground until interrupted",
		Long: `Run the sync engine until SIGINT or SIGTERM.

The daemon:
  • Probes the remote store and tracks connectivity
  • Syncs on reconnect and on the configured interval
  • Sends presence heartbeats when presence is enabled
  • Serves the live status dashboard (/ws, /status, /metrics)
  • Reloads the log level when the config file changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			configPath := ""
			if app := GetAppContext(); app != nil {
				configPath = app.ConfigPath
			}
			return runDaemon(cmd.Context(), GetFormatter(), c, configPath, !noDashboard)
		},
	}

	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not serve the status dashboard")

	return cmd
}

func runDaemon(ctx context.Context, formatter *output.Formatter, c *application.Container, configPath string, withDashboard bool) error {
	cfg := c.Config()
	logger := c.Logger()
	g, ctx := errgroup.WithContext(ctx)

	if p := c.Prober(); p != nil {
		g.Go(func() error {
			p.Run(ctx)
			return nil
		})
	}

	if withDashboard && cfg.Dashboard.Enabled {
		srv, unsubscribe, err := startDashboard(c)
		if err != nil {
			return err
		}
		formatter.Info("Dashboard listening on http://%s", srv.Addr())

		g.Go(func() error {
			<-ctx.Done()
			unsubscribe()
			stopCtx, cancel := context.WithTimeout(context.Background(), dashboardShutdownTimeout)
			defer cancel()
			return srv.Stop(stopCtx)
		})
	}

	if watcher := startConfigWatch(ctx, c, configPath); watcher != nil {
		g.Go(func() error {
			<-ctx.Done()
			return watcher.Close()
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	formatter.Success("Syncing account %s with %s, press Ctrl+C to stop", c.UserID(), c.Engine().RemoteName())
	logger.Info("daemon started", "user_id", c.UserID(), "remote", c.Engine().RemoteName())

	err := g.Wait()
	logger.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startDashboard serves the status feed and forwards rejections and cycle
// records to connected clients until unsubscribe is called.
func startDashboard(c *application.Container) (srv *dashboard.Server, unsubscribe func(), err error) {
	dcfg := dashboard.Config{
		Addr:   c.Config().Dashboard.Addr,
		Source: c.Engine(),
		Logger: c.Logger(),
	}
	if m := c.Metrics(); m != nil {
		dcfg.Gatherer = m.Registry
	}

	srv = dashboard.NewServer(dcfg)
	if err := srv.Start(); err != nil {
		return nil, nil, err
	}

	unsubRejections := c.Engine().OnMutationRejected(func(r engine.Rejection) {
		srv.Publish(dashboard.MessageTypeRejection, r)
	})
	unsubCycles := c.OnCycleRecorded(func(rec metrics.CycleRecord) {
		srv.Publish(dashboard.MessageTypeCycle, newCycleView(rec))
	})
	return srv, func() {
		unsubRejections()
		unsubCycles()
	}, nil
}

// startConfigWatch reloads the log level on config edits. A missing config
// directory disables the watch.
func startConfigWatch(ctx context.Context, c *application.Container, configPath string) *configwatch.Watcher {
	logger := c.Logger()
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(configPath)); err != nil {
		logger.Debug("config watch disabled", "path", configPath, "error", err)
		return nil
	}

	loader, err := config.NewLoader("")
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
		return nil
	}
	watcher, err := configwatch.New(configwatch.Config{
		Path:     configPath,
		Load:     loader.LoadFromFile,
		OnReload: configwatch.ApplyLogLevel(logger),
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Close()
		logger.Warn("config watch disabled", "error", err)
		return nil
	}
	return watcher
}

// Package commands implements the CLI commands for tempo.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/application"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// skipAppInit marks commands that run without an engine.
const skipAppInit = "tempo/skip-app-init"

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
	User       string
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config     *config.Config
	ConfigPath string
	Formatter  *output.Formatter
	Flags      *GlobalFlags
	Container  *application.Container
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex // Protects appCtx for thread-safe access
)

// NewRootCmd creates the root command for the tempo CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tempo",
		Short: "Tempo - offline-first sync for tasks and focus sessions",
		Long: `Tempo keeps tasks and focus sessions usable without a network.

Every change is written locally first and queued. When the device is
online the queue is replayed against the remote store, merging
non-overlapping edits and parking real conflicts for you to resolve.

Key features:
  • Durable per-account mutation queue and entity cache
  • Three-way merge with a conflict queue for overlapping edits
  • Backoff retries and a circuit breaker around the remote store
  • Device presence and a live status feed for the daemon`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := output.ParseFormat(globalFlags.Output); err != nil {
				return err
			}
			if cmd.Name() == "help" || cmd.Name() == "completion" || skipsAppInit(cmd) {
				return nil
			}
			return initializeApp(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.tempo/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.User, "user", "u", "", "account to operate on (overrides account.user_id)")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewEntityCmd())
	rootCmd.AddCommand(NewQueueCmd())
	rootCmd.AddCommand(NewConflictsCmd())
	rootCmd.AddCommand(NewSyncCmd())
	rootCmd.AddCommand(NewDevicesCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(NewDaemonCmd())

	return rootCmd
}

func skipsAppInit(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipAppInit] == "true" {
			return true
		}
	}
	return false
}

// newFormatter builds a formatter honoring the --output flag.
func newFormatter(cmd *cobra.Command) *output.Formatter {
	format, _ := output.ParseFormat(globalFlags.Output)
	return output.NewFormatter(
		output.WithWriter(cmd.OutOrStdout()),
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON && output.IsColorSupported()),
	)
}

// initializeApp loads configuration and starts the engine of the selected
// account.
func initializeApp(cmd *cobra.Command) error {
	formatter := newFormatter(cmd)

	cfg, path, err := loadConfig(globalFlags.ConfigFile)
	if err != nil {
		return err
	}
	if globalFlags.User != "" {
		cfg.Account.UserID = globalFlags.User
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	container, err := application.NewContainer(cfg, globalFlags.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if err := container.Start(cmd.Context()); err != nil {
		_ = container.Close()
		return fmt.Errorf("failed to start sync engine: %w", err)
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:     cfg,
		ConfigPath: path,
		Formatter:  formatter,
		Flags:      &globalFlags,
		Container:  container,
	}
	appCtxMu.Unlock()

	return nil
}

// loadConfig loads configuration from the specified file or default location.
func loadConfig(configPath string) (*config.Config, string, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create config loader: %w", err)
	}
	if configPath == "" {
		configPath = loader.DefaultConfigPath()
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// GetAppContext returns the current application context.
// Returns nil if the app hasn't been initialized.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter.
// Creates a default formatter if app context is not initialized.
func GetFormatter() *output.Formatter {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter()
}

// GetContainer returns the application container.
// Returns nil if the app hasn't been initialized.
func GetContainer() *application.Container {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Container
	}
	return nil
}

// requireContainer returns the container or an error for commands that
// cannot run without one.
func requireContainer() (*application.Container, error) {
	c := GetContainer()
	if c == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return c, nil
}

// Shutdown closes the engine and releases the account database.
func Shutdown() {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()

	if appCtx != nil && appCtx.Container != nil {
		_ = appCtx.Container.Close()
	}
	appCtx = nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running commands can shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := NewRootCmd().ExecuteContext(ctx)
	formatter := GetFormatter()
	Shutdown()
	stop()

	if err != nil {
		formatter.Error("%s", err.Error())
		os.Exit(1)
	}
}

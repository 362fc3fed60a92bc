package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/application"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// SystemStatus represents the sync state of the selected account.
type SystemStatus struct {
	UserID           string     `json:"user_id"`
	Remote           string     `json:"remote"`
	RemoteBreaker    string     `json:"remote_breaker,omitempty"`
	State            string     `json:"state"`
	IsOnline         bool       `json:"is_online"`
	IsSyncing        bool       `json:"is_syncing"`
	PendingChanges   int        `json:"pending_changes"`
	Conflicts        int        `json:"conflicts"`
	Rejections       int        `json:"rejections"`
	ConnectedDevices int        `json:"connected_devices"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	Database         string     `json:"database"`
	SchemaVersion    int        `json:"schema_version"`
	Version          string     `json:"version"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display the sync status of the selected account.

This includes:
  • Connectivity and whether a cycle is running
  • Queued changes and unresolved conflicts
  • Connected devices of the same account
  • Time of the last successful sync`,
		Example: `  # Show status
  tempo status

  # Status of another account on this device
  tempo status --user alice

  # Get status as JSON for scripting
  tempo status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), GetFormatter(), c)
		},
	}

	return cmd
}

func buildStatus(ctx context.Context, c *application.Container) SystemStatus {
	eng := c.Engine()
	snap := eng.Status()
	schema, _ := c.Database().SchemaVersion(ctx)
	var breaker string
	for _, b := range c.RemoteRegistry().Describe() {
		if b.Name == eng.RemoteName() {
			breaker = b.Breaker
		}
	}
	return SystemStatus{
		UserID:           c.UserID(),
		Remote:           eng.RemoteName(),
		RemoteBreaker:    breaker,
		State:            string(eng.State()),
		IsOnline:         snap.IsOnline,
		IsSyncing:        snap.IsSyncing,
		PendingChanges:   snap.PendingChanges,
		Conflicts:        snap.Conflicts,
		Rejections:       len(eng.Rejections()),
		ConnectedDevices: snap.ConnectedDevices,
		LastSyncTime:     snap.LastSyncTime,
		Database:         c.Database().Path(),
		SchemaVersion:    schema,
		Version:          Version,
	}
}

func runStatus(ctx context.Context, formatter *output.Formatter, c *application.Container) error {
	status := buildStatus(ctx, c)

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(status)
	}

	formatter.Header("Tempo Sync Status")
	formatter.Println("")
	formatter.Item("Account", status.UserID)
	remote := status.Remote
	if status.RemoteBreaker != "" {
		remote += " (circuit " + status.RemoteBreaker + ")"
	}
	formatter.Item("Remote", remote)

	network := output.StateOnline
	if !status.IsOnline {
		network = output.StateOffline
	}
	formatter.Item("Network", formatter.State(network))
	formatter.Item("State", formatter.State(status.State))
	formatter.Item("Pending changes", fmt.Sprintf("%d", status.PendingChanges))

	conflicts := fmt.Sprintf("%d", status.Conflicts)
	if status.Conflicts > 0 {
		conflicts = formatter.Colorize(conflicts, output.ColorRed)
	}
	formatter.Item("Conflicts", conflicts)
	formatter.Item("Connected devices", fmt.Sprintf("%d", status.ConnectedDevices))
	formatter.Item("Last sync", formatLastSync(status.LastSyncTime))
	formatter.Item("Database", fmt.Sprintf("%s (schema v%d)", status.Database, status.SchemaVersion))

	if status.Conflicts > 0 {
		formatter.Println("")
		formatter.Info("Run 'tempo conflicts list' to review conflicts")
	}
	return nil
}

func formatLastSync(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.DateTime), formatAge(time.Since(*t)))
}

// formatAge renders d at a resolution suitable for humans.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

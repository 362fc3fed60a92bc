package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/application/engine"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// SyncResult is the outcome of a forced sync.
type SyncResult struct {
	Status     SystemStatus       `json:"status"`
	Rejections []engine.Rejection `json:"rejections"`
	Error      string             `json:"error,omitempty"`
}

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync queued changes now",
		Long: `Run a sync cycle immediately and wait for it. Transient failures
leave the queue intact and are retried by the next cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			formatter := GetFormatter()

			syncErr := c.Engine().ForceSync(cmd.Context())

			result := SyncResult{Status: buildStatus(cmd.Context(), c), Rejections: c.Engine().Rejections()}
			if syncErr != nil {
				result.Error = syncErr.Error()
			}
			if formatter.Format() == output.FormatJSON {
				if err := formatter.JSON(result); err != nil {
					return err
				}
				return syncErr
			}

			switch {
			case errors.Is(syncErr, domainErrors.ErrOffline):
				formatter.Warning("Offline, %d changes stay queued", result.Status.PendingChanges)
				return nil
			case syncErr != nil:
				return syncErr
			}

			formatter.Success("Sync complete")
			formatter.Item("Pending changes", fmt.Sprintf("%d", result.Status.PendingChanges))
			formatter.Item("Conflicts", fmt.Sprintf("%d", result.Status.Conflicts))
			for _, r := range result.Rejections {
				formatter.Warning("Rejected %s %s: %s", r.Op, r.Ref, r.Reason)
			}
			return nil
		},
	}
}

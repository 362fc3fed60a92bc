package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/domain/device"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// NewDevicesCmd creates the devices command.
func NewDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List other devices signed in to the account",
		Long: `List devices of the same account that sent a presence heartbeat
recently. Requires presence to be enabled in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			formatter := GetFormatter()
			if !c.Config().Presence.Enabled && formatter.Format() != output.FormatJSON {
				formatter.Warning("Presence is disabled, set presence.enabled in the config")
			}
			return printDevices(formatter, c.Engine().GetConnectedDevices(cmd.Context()))
		},
	}
}

func printDevices(formatter *output.Formatter, devices []device.Device) error {
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(devices)
	}
	if len(devices) == 0 {
		formatter.Info("No other devices connected")
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.ID, d.Label, formatAge(time.Since(d.LastSeenAt))})
	}
	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "ID"},
			{Header: "LABEL"},
			{Header: "LAST SEEN"},
		},
		Rows: rows,
	})
}

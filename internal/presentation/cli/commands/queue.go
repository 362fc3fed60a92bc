package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// MutationView is the CLI rendering of a queued mutation.
type MutationView struct {
	ID          string        `json:"id"`
	Ref         entity.Ref    `json:"ref"`
	Op          mutation.Op   `json:"op"`
	Payload     entity.Fields `json:"payload"`
	BaseVersion int64         `json:"base_version"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	Revision    int           `json:"revision"`
	RetryCount  int           `json:"retry_count"`
}

// NewQueueCmd creates the queue command.
func NewQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List changes waiting to sync",
		Long: `List queued mutations in the order they will be sent. Repeated
edits of one entity are coalesced into a single entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			pending := c.Engine().PendingMutations()
			views := make([]MutationView, 0, len(pending))
			for _, m := range pending {
				views = append(views, MutationView{
					ID:          m.ID,
					Ref:         m.Ref,
					Op:          m.Op,
					Payload:     m.Payload,
					BaseVersion: int64(m.BaseVersion),
					EnqueuedAt:  m.EnqueuedAt,
					Revision:    m.Revision,
					RetryCount:  m.RetryCount,
				})
			}
			return printQueue(GetFormatter(), views)
		},
	}
}

func printQueue(formatter *output.Formatter, views []MutationView) error {
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(views)
	}
	if len(views) == 0 {
		formatter.Success("Nothing queued")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Ref.String(),
			string(v.Op),
			summarizeFields(v.Payload),
			formatAge(time.Since(v.EnqueuedAt)),
			fmt.Sprintf("%d", v.RetryCount),
		})
	}
	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "ENTITY"},
			{Header: "OP"},
			{Header: "PAYLOAD"},
			{Header: "AGE"},
			{Header: "RETRIES", Align: output.AlignRight},
		},
		Rows: rows,
	})
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// CycleView is the CLI rendering of one sync cycle.
type CycleView struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Attempted  int       `json:"attempted"`
	Applied    int       `json:"applied"`
	Merged     int       `json:"merged"`
	Conflicted int       `json:"conflicted"`
	Rejected   int       `json:"rejected"`
	Deferred   int       `json:"deferred"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	Error      string    `json:"error,omitempty"`
}

// HistorySummary aggregates the cycles of the requested period.
type HistorySummary struct {
	Period        string           `json:"period"`
	StartDate     string           `json:"start_date"`
	EndDate       string           `json:"end_date"`
	TotalCycles   int64            `json:"total_cycles"`
	ByOutcome     map[string]int64 `json:"by_outcome"`
	Synced        int64            `json:"synced"`
	Conflicted    int64            `json:"conflicted"`
	Rejected      int64            `json:"rejected"`
	AvgDurationMs int64            `json:"avg_duration_ms"`
	AbortRate     float64          `json:"abort_rate"`
}

// History is the output of the history command.
type History struct {
	Summary HistorySummary `json:"summary"`
	Cycles  []CycleView    `json:"cycles"`
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		since   string
		limit   int
		outcome string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync cycles",
		Long: `Display recorded sync cycles with a summary of the period.

Use --since to filter by time range (e.g., "24h", "7d", "30d").`,
		Example: `  # Cycles of the last 24 hours
  tempo history

  # Aborted cycles of the last week
  tempo history --since 7d --outcome aborted

  # Get history as JSON for scripting
  tempo history -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			duration, err := parseDuration(since)
			if err != nil {
				return fmt.Errorf("invalid time range: %w", err)
			}

			now := time.Now()
			filter := metrics.CycleFilter{Limit: limit}.WithPeriod(now.Add(-duration), now)
			if outcome != "" {
				filter = filter.WithOutcome(metrics.Outcome(outcome))
			}

			repo := c.CycleRepository()
			records, err := repo.GetCycles(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to get cycles: %w", err)
			}
			summary, err := repo.GetSummary(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}

			return printHistory(GetFormatter(), buildHistory(summary, records, duration))
		},
	}

	cmd.Flags().StringVar(&since, "since", "24h", "time range (e.g., 24h, 7d, 30d)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of cycles to list")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only cycles with this outcome (completed, noop, aborted, skipped)")

	return cmd
}

func newCycleView(r metrics.CycleRecord) CycleView {
	return CycleView{
		ID:         r.ID,
		Trigger:    string(r.Trigger),
		Outcome:    string(r.Outcome),
		Attempted:  r.Attempted,
		Applied:    r.Applied,
		Merged:     r.Merged,
		Conflicted: r.Conflicted,
		Rejected:   r.Rejected,
		Deferred:   r.Deferred,
		DurationMs: r.Duration.Milliseconds(),
		StartedAt:  r.StartedAt,
		Error:      r.ErrorMessage,
	}
}

func buildHistory(summary *metrics.CycleSummary, records []metrics.CycleRecord, duration time.Duration) History {
	h := History{Cycles: make([]CycleView, 0, len(records))}
	for _, r := range records {
		h.Cycles = append(h.Cycles, newCycleView(r))
	}

	h.Summary = HistorySummary{Period: duration.String(), ByOutcome: map[string]int64{}}
	if summary == nil {
		return h
	}
	h.Summary.StartDate = summary.Period.Start.Format(time.RFC3339)
	h.Summary.EndDate = summary.Period.End.Format(time.RFC3339)
	h.Summary.TotalCycles = summary.TotalCycles
	for o, n := range summary.ByOutcome {
		h.Summary.ByOutcome[string(o)] = n
	}
	h.Summary.Synced = summary.Synced
	h.Summary.Conflicted = summary.Conflicted
	h.Summary.Rejected = summary.Rejected
	h.Summary.AvgDurationMs = summary.AvgDuration.Milliseconds()
	h.Summary.AbortRate = summary.AbortRate
	return h
}

func printHistory(formatter *output.Formatter, h History) error {
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(h)
	}

	s := h.Summary
	formatter.Header(fmt.Sprintf("Sync History (last %s)", s.Period))
	formatter.Println("")
	formatter.Item("Cycles", fmt.Sprintf("%d", s.TotalCycles))
	formatter.Item("Synced", fmt.Sprintf("%d", s.Synced))
	formatter.Item("Conflicted", fmt.Sprintf("%d", s.Conflicted))
	formatter.Item("Rejected", fmt.Sprintf("%d", s.Rejected))
	formatter.Item("Avg duration", formatCycleDuration(time.Duration(s.AvgDurationMs)*time.Millisecond))
	formatter.Item("Abort rate", fmt.Sprintf("%.1f%%", s.AbortRate*100))
	formatter.Println("")

	if len(h.Cycles) == 0 {
		formatter.Info("No cycles recorded in this period")
		return nil
	}

	rows := make([][]string, 0, len(h.Cycles))
	for _, c := range h.Cycles {
		rows = append(rows, []string{
			c.StartedAt.Local().Format(time.DateTime),
			c.Trigger,
			c.Outcome,
			fmt.Sprintf("%d/%d/%d/%d", c.Applied+c.Merged, c.Conflicted, c.Rejected, c.Deferred),
			formatCycleDuration(time.Duration(c.DurationMs) * time.Millisecond),
		})
	}
	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "STARTED"},
			{Header: "TRIGGER"},
			{Header: "OUTCOME"},
			{Header: "OK/CONF/REJ/DEF"},
			{Header: "DURATION", Align: output.AlignRight},
		},
		Rows: rows,
	})
}

// formatCycleDuration formats a duration for display.
func formatCycleDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// parseDuration parses a duration string like "24h", "7d", "30d".
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/application/localcache"
	"github.com/jbctechsolutions/tempo/internal/domain/conflict"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// ConflictView is the CLI rendering of a pending conflict.
type ConflictView struct {
	ID                string        `json:"id"`
	Ref               entity.Ref    `json:"ref"`
	ConflictingFields []string      `json:"conflicting_fields"`
	Local             entity.Fields `json:"local"`
	Remote            entity.Fields `json:"remote"`
	RemoteVersion     int64         `json:"remote_version"`
	DetectedAt        time.Time     `json:"detected_at"`
}

func toConflictView(c conflict.Conflict) ConflictView {
	return ConflictView{
		ID:                c.ID,
		Ref:               c.Ref,
		ConflictingFields: c.ConflictingFields,
		Local:             c.LocalVersion,
		Remote:            c.RemoteVersion,
		RemoteVersion:     int64(c.RemoteStamp),
		DetectedAt:        c.DetectedAt,
	}
}

// conflictResolver is the part of the engine the conflict commands use.
type conflictResolver interface {
	GetConflictQueue() []conflict.Conflict
	ResolveConflictManually(ctx context.Context, id string, res conflict.Resolution) (localcache.Entity, error)
}

// NewConflictsCmd creates the conflicts command group.
func NewConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve sync conflicts",
		Long: `A conflict is raised when a queued change and the remote store both
changed the same field. The entity keeps its local fields until the
conflict is resolved, and no further changes of it are synced.`,
	}

	cmd.AddCommand(newConflictsListCmd())
	cmd.AddCommand(newConflictsResolveCmd())

	return cmd
}

func newConflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			return printConflicts(GetFormatter(), c.Engine().GetConflictQueue())
		},
	}
}

func newConflictsResolveCmd() *cobra.Command {
	var (
		choice      string
		interactive bool
		fields      fieldFlags
	)

	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "Resolve a conflict",
		Long: `Resolve a conflict by keeping the local fields, keeping the remote
fields, or writing merged fields on top of the remote version.

With --interactive every pending conflict is walked through field by field.`,
		Example: `  tempo conflicts resolve 7b1e... --choice local
  tempo conflicts resolve 7b1e... --choice merged --field title="Both"
  tempo conflicts resolve --interactive`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			formatter := GetFormatter()

			if interactive {
				rl, err := readline.New("> ")
				if err != nil {
					return fmt.Errorf("could not create readline: %w", err)
				}
				defer rl.Close()
				return runInteractiveResolve(cmd.Context(), formatter, rl, c.Engine())
			}

			if len(args) != 1 {
				return fmt.Errorf("conflict id required unless --interactive is set")
			}
			res, err := buildResolution(choice, &fields)
			if err != nil {
				return err
			}
			ent, err := c.Engine().ResolveConflictManually(cmd.Context(), args[0], res)
			if err != nil {
				return err
			}
			return printEntity(formatter, ent, "Resolved")
		},
	}

	cmd.Flags().StringVar(&choice, "choice", "", "resolution: local, remote or merged")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "resolve pending conflicts one by one")
	fields.register(cmd)

	return cmd
}

func buildResolution(choice string, fields *fieldFlags) (conflict.Resolution, error) {
	switch conflict.Choice(choice) {
	case conflict.ChoiceLocal:
		return conflict.Local(), nil
	case conflict.ChoiceRemote:
		return conflict.Remote(), nil
	case conflict.ChoiceMerged:
		merged, err := fields.parse()
		if err != nil {
			return conflict.Resolution{}, err
		}
		return conflict.Merged(merged), nil
	case "":
		return conflict.Resolution{}, fmt.Errorf("--choice is required (local, remote or merged)")
	}
	return conflict.Resolution{}, fmt.Errorf("unknown choice %q (local, remote or merged)", choice)
}

// lineReader reads answers from the terminal.
type lineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
}

var errQuit = errors.New("quit")

// runInteractiveResolve walks the conflict queue and resolves each entry as
// the user decides. Skipped conflicts stay pending.
func runInteractiveResolve(ctx context.Context, formatter *output.Formatter, rl lineReader, engine conflictResolver) error {
	queue := engine.GetConflictQueue()
	if len(queue) == 0 {
		formatter.Success("No conflicts to resolve")
		return nil
	}

	resolved := 0
	for i, c := range queue {
		formatter.Println("")
		formatter.Header(fmt.Sprintf("Conflict %d of %d: %s", i+1, len(queue), c.Ref))
		for _, f := range c.ConflictingFields {
			formatter.Item(f, fmt.Sprintf("local %s | remote %s",
				formatFieldValue(c.LocalVersion[f]), formatFieldValue(c.RemoteVersion[f])))
		}

		res, err := askResolution(rl, c)
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			return err
		}
		if res == nil {
			formatter.Info("Skipped")
			continue
		}

		if _, err := engine.ResolveConflictManually(ctx, c.ID, *res); err != nil {
			formatter.Error("Could not resolve %s: %s", c.Ref, err.Error())
			continue
		}
		resolved++
		formatter.Success("Resolved %s with %s", c.Ref, res.Choice)
	}

	formatter.Println("")
	formatter.Info("%d of %d conflicts resolved", resolved, len(queue))
	return nil
}

// askResolution returns nil when the user skips the conflict.
func askResolution(rl lineReader, c conflict.Conflict) (*conflict.Resolution, error) {
	for {
		answer, err := readAnswer(rl, "[l]ocal, [r]emote, [m]erge, [s]kip, [q]uit: ")
		if err != nil {
			return nil, err
		}
		switch answer {
		case "l", "local":
			res := conflict.Local()
			return &res, nil
		case "r", "remote":
			res := conflict.Remote()
			return &res, nil
		case "m", "merge", "merged":
			merged, err := askMergedFields(rl, c)
			if err != nil {
				return nil, err
			}
			res := conflict.Merged(merged)
			return &res, nil
		case "s", "skip":
			return nil, nil
		case "q", "quit":
			return nil, errQuit
		}
	}
}

// askMergedFields picks a value for every conflicting field: the local
// value, the remote value, or a typed one.
func askMergedFields(rl lineReader, c conflict.Conflict) (entity.Fields, error) {
	merged := entity.Fields{}
	for _, f := range c.ConflictingFields {
		answer, err := readAnswer(rl, fmt.Sprintf("%s: [l]ocal, [r]emote or =value: ", f))
		if err != nil {
			return nil, err
		}
		switch {
		case answer == "l" || answer == "local":
			merged[f] = c.LocalVersion[f]
		case strings.HasPrefix(answer, "="):
			merged[f] = parseFieldValue(strings.TrimPrefix(answer, "="))
		default:
			merged[f] = c.RemoteVersion[f]
		}
	}
	return merged, nil
}

func readAnswer(rl lineReader, prompt string) (string, error) {
	rl.SetPrompt(prompt)
	line, err := rl.Readline()
	if err == io.EOF || err == readline.ErrInterrupt {
		return "", errQuit
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printConflicts(formatter *output.Formatter, queue []conflict.Conflict) error {
	views := make([]ConflictView, 0, len(queue))
	for _, c := range queue {
		views = append(views, toConflictView(c))
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(views)
	}
	if len(views) == 0 {
		formatter.Success("No unresolved conflicts")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			v.Ref.String(),
			strings.Join(v.ConflictingFields, ","),
			formatAge(time.Since(v.DetectedAt)),
		})
	}
	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "ID"},
			{Header: "ENTITY"},
			{Header: "FIELDS"},
			{Header: "AGE"},
		},
		Rows: rows,
	})
}

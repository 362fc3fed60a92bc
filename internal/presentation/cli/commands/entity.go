package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/application/localcache"
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// EntityView is the CLI rendering of a cached entity.
type EntityView struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Fields    entity.Fields `json:"fields"`
	Version   int64         `json:"version"`
	Pending   bool          `json:"pending"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func toEntityView(e localcache.Entity) EntityView {
	return EntityView{
		Type:      string(e.Ref.Type),
		ID:        e.Ref.ID,
		Fields:    e.Fields,
		Version:   int64(e.Version),
		Pending:   e.Pending,
		UpdatedAt: e.UpdatedAt,
	}
}

// fieldFlags collects entity fields from --field and --json.
type fieldFlags struct {
	pairs   []string
	rawJSON string
}

func (f *fieldFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.pairs, "field", "f", nil, "field as key=value; JSON values such as 25 or true keep their type (repeatable)")
	cmd.Flags().StringVar(&f.rawJSON, "json", "", "fields as a JSON object")
}

// parse merges the JSON object with the key=value pairs, pairs winning.
func (f *fieldFlags) parse() (entity.Fields, error) {
	fields := entity.Fields{}
	if f.rawJSON != "" {
		if err := json.Unmarshal([]byte(f.rawJSON), &fields); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	for _, pair := range f.pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}
		fields[key] = parseFieldValue(raw)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields given, use --field key=value or --json")
	}
	return fields, nil
}

// parseFieldValue decodes raw as JSON and falls back to the literal string.
func parseFieldValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// NewEntityCmd creates the entity command group.
func NewEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"e"},
		Short:   "Create, update and inspect tasks and sessions",
		Long: `Work with cached entities. Writes are applied locally first and
queued for the remote store until the next sync cycle.

Entity types: task, session.`,
	}

	cmd.AddCommand(newEntityCreateCmd())
	cmd.AddCommand(newEntityUpdateCmd())
	cmd.AddCommand(newEntityListCmd())
	cmd.AddCommand(newEntityShowCmd())
	cmd.AddCommand(newEntityPullCmd())

	return cmd
}

func newEntityCreateCmd() *cobra.Command {
	var fields fieldFlags

	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create an entity offline",
		Example: `  tempo entity create task --field title="Write report" --field priority=2
  tempo entity create session --json '{"minutes": 25, "label": "deep work"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			t, err := entity.ParseType(args[0])
			if err != nil {
				return err
			}
			payload, err := fields.parse()
			if err != nil {
				return err
			}

			ent, err := c.Engine().CreateOffline(cmd.Context(), t, payload)
			if err != nil {
				return err
			}
			return printEntity(GetFormatter(), ent, "Created")
		},
	}
	fields.register(cmd)

	return cmd
}

func newEntityUpdateCmd() *cobra.Command {
	var fields fieldFlags

	cmd := &cobra.Command{
		Use:     "update <type> <id>",
		Short:   "Update fields of an entity offline",
		Example: `  tempo entity update task 3f0c... --field done=true`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			t, err := entity.ParseType(args[0])
			if err != nil {
				return err
			}
			payload, err := fields.parse()
			if err != nil {
				return err
			}

			ent, err := c.Engine().UpdateOffline(cmd.Context(), t, args[1], payload)
			if err != nil {
				return err
			}
			return printEntity(GetFormatter(), ent, "Updated")
		},
	}
	fields.register(cmd)

	return cmd
}

func newEntityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [type]",
		Short: "List cached entities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			types := entity.Types()
			if len(args) == 1 {
				t, err := entity.ParseType(args[0])
				if err != nil {
					return err
				}
				types = []entity.Type{t}
			}

			views := []EntityView{}
			for _, t := range types {
				for _, e := range c.Engine().Entities(t) {
					views = append(views, toEntityView(e))
				}
			}
			return printEntityList(GetFormatter(), views)
		},
	}
}

func newEntityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type> <id>",
		Short: "Show one cached entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}

			ent, ok := c.Engine().Entity(ref)
			if !ok {
				return fmt.Errorf("entity %s not found", ref)
			}
			return printEntity(GetFormatter(), ent, "")
		},
	}
}

func newEntityPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <type> <id>",
		Short: "Fetch an entity from the remote store into the cache",
		Long: `Fetch the current remote version of an entity and apply it to the
local cache. Queued local changes stay on top of the fetched fields.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}

			store, err := c.RemoteRegistry().GetRequired(c.Engine().RemoteName())
			if err != nil {
				return err
			}
			remote, err := store.Fetch(cmd.Context(), ref)
			if err != nil {
				return err
			}
			applied, err := c.Engine().Observe(cmd.Context(), ref, remote.Fields, remote.Version)
			if err != nil {
				return err
			}

			ent, _ := c.Engine().Entity(ref)
			verb := "Pulled"
			if !applied {
				verb = "Already current"
			}
			return printEntity(GetFormatter(), ent, verb)
		},
	}
}

func parseRef(typeName, id string) (entity.Ref, error) {
	t, err := entity.ParseType(typeName)
	if err != nil {
		return entity.Ref{}, err
	}
	return entity.NewRef(t, id)
}

func printEntity(formatter *output.Formatter, e localcache.Entity, verb string) error {
	view := toEntityView(e)
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(view)
	}

	if verb != "" {
		formatter.Success("%s %s", verb, e.Ref)
	} else {
		formatter.Header(e.Ref.String())
	}
	formatter.Item("Version", formatVersion(e.Version))
	formatter.Item("State", formatter.State(syncState(e.Pending)))
	for _, k := range e.Fields.Keys() {
		formatter.Item(k, formatFieldValue(e.Fields[k]))
	}
	return nil
}

func printEntityList(formatter *output.Formatter, views []EntityView) error {
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(views)
	}
	if len(views) == 0 {
		formatter.Info("No entities cached")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.Type, v.ID, formatter.State(syncState(v.Pending)), summarizeFields(v.Fields)})
	}
	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "TYPE"},
			{Header: "ID"},
			{Header: "STATE"},
			{Header: "FIELDS"},
		},
		Rows: rows,
	})
}

func syncState(pending bool) string {
	if pending {
		return output.StatePending
	}
	return output.StateSynced
}

func formatVersion(v entity.Version) string {
	if v.IsZero() {
		return "unconfirmed"
	}
	return fmt.Sprintf("%d (%s)", int64(v), v.Time().Local().Format(time.DateTime))
}

func formatFieldValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// summarizeFields renders fields as sorted key=value pairs cut to fit a table.
func summarizeFields(fields entity.Fields) string {
	keys := fields.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatFieldValue(fields[k]))
	}
	s := strings.Join(parts, " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

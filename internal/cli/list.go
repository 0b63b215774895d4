package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// DefaultListColumns are the metadata fields list shows without --columns.
var DefaultListColumns = []string{
	storage.FieldStorageID,
	storage.FieldName,
	storage.FieldStartTime,
	storage.FieldDurationMillis,
	storage.FieldNumberOfCheckpoints,
	storage.FieldStatus,
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Columns []string
	Fields  []string // name=search
	Max     int
	Kind    string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List report metadata",
		Long: `List the metadata of stored reports, newest first.

Search terms follow the metadata search syntax: a plain value matches
exactly, * and ? are wildcards, "null" matches missing values and "empty"
matches the empty string. Searching on a column not in --columns adds it.

Exit codes:
  0 - Success
  1 - Invalid query (unknown field)
  2 - Command error (bad config, bad flag)

Examples:
  ladybug list
  ladybug list --field name='Order*' --max 20
  ladybug list --columns storageId,correlationId,status --field status=Error --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Columns, "columns", DefaultListColumns, "metadata fields to show")
	cmd.Flags().StringArrayVar(&opts.Fields, "field", nil, "search term as field=value (repeatable)")
	cmd.Flags().IntVar(&opts.Max, "max", 100, "maximum number of rows (0 for all)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "value rendering: object, string or gui (default gui for text, object for json)")

	return cmd
}

// buildQuery turns the list flags into a metadata query.
func buildQuery(opts *ListOptions) (storage.Query, error) {
	kindName := opts.Kind
	if kindName == "" {
		kindName = storage.ValueKindGUI.String()
		if opts.Format == "json" {
			kindName = storage.ValueKindObject.String()
		}
	}
	kind, err := storage.ParseValueKind(kindName)
	if err != nil {
		return storage.Query{}, NewExitError(ExitCommandError, err.Error())
	}

	names := slices.Clone(opts.Columns)
	search := make([]string, len(names))
	for _, f := range opts.Fields {
		name, term, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return storage.Query{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --field %q: want field=value", f))
		}
		i := slices.Index(names, name)
		if i < 0 {
			names = append(names, name)
			search = append(search, term)
			continue
		}
		search[i] = term
	}

	return storage.Query{
		MaxRows:      opts.Max,
		FieldNames:   names,
		SearchValues: search,
		ValueKind:    kind,
	}, nil
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	q, err := buildQuery(opts)
	if err != nil {
		return err
	}

	st, _, err := openStorage(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	formatter.VerboseLog("Querying %s for %s", st.Name(), strings.Join(q.FieldNames, ", "))
	rows, err := st.Metadata(ctx, q)
	if errors.Is(err, storage.ErrInvalidQuery) {
		_ = formatter.Error(CodeInvalidQuery, err.Error(), q.FieldNames)
		return WrapExitError(ExitFailure, "invalid query", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query metadata", err)
	}

	return formatter.Table(q.FieldNames, rows)
}

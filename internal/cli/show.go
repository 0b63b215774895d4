package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wearefrank/ladybug-sub002/internal/rerun"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <storage-id>",
		Short: "Show a stored report",
		Long: `Print a stored report as indented text, or as the full report
document with --format json.

Examples:
  ladybug show 12
  ladybug show 12 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd, args[0])
		},
	}
}

func runShow(opts *RootOptions, cmd *cobra.Command, arg string) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	id, err := parseStorageID(arg)
	if err != nil {
		return err
	}
	st, _, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	r, err := loadReport(ctx, st, id)
	if err != nil {
		_ = formatter.Error(CodeNotFound, err.Error(), nil)
		return err
	}
	if opts.Format == "json" {
		return formatter.Success(r)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), r.Text())
	return err
}

// DiffResult is the JSON payload of the diff command.
type DiffResult struct {
	Original int64               `json:"original"`
	Result   int64               `json:"result"`
	Summary  string              `json:"summary"`
	Messages []rerun.MessageDiff `json:"messages"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <original-id> <result-id>",
		Short: "Compare two stored reports",
		Long: `Compare a report with a later run of the same flow, printing the
rerun summary line followed by every checkpoint message that differs.

Examples:
  ladybug diff 12 30`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runDiff(opts *RootOptions, cmd *cobra.Command, origArg, resultArg string) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	origID, err := parseStorageID(origArg)
	if err != nil {
		return err
	}
	resultID, err := parseStorageID(resultArg)
	if err != nil {
		return err
	}
	st, _, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	original, err := loadReport(ctx, st, origID)
	if err != nil {
		_ = formatter.Error(CodeNotFound, err.Error(), nil)
		return err
	}
	result, err := loadReport(ctx, st, resultID)
	if err != nil {
		_ = formatter.Error(CodeNotFound, err.Error(), nil)
		return err
	}

	diff := DiffResult{
		Original: origID,
		Result:   resultID,
		Summary:  rerun.Summarize(original, result),
		Messages: rerun.MessageDiffs(original, result),
	}
	if diff.Messages == nil {
		diff.Messages = []rerun.MessageDiff{}
	}
	if opts.Format == "json" {
		return formatter.Success(diff)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, diff.Summary)
	for _, m := range diff.Messages {
		fmt.Fprintf(w, "#%d %s: %s\n", m.Index, m.Name, m.Diff)
	}
	return nil
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <storage-id>",
		Short: "Delete a stored report",
		Long: `Delete one report. Its storage id is not reused.

Examples:
  ladybug delete 12`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, cmd, args[0])
		},
	}
}

func runDelete(opts *RootOptions, cmd *cobra.Command, arg string) error {
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

	err = st.Delete(ctx, &report.Report{StorageID: id})
	if errors.Is(err, storage.ErrNotFound) {
		msg := fmt.Sprintf("report %d not found", id)
		_ = formatter.Error(CodeNotFound, msg, nil)
		return WrapExitError(ExitFailure, msg, err)
	}
	if err != nil {
		_ = formatter.Error(CodeStorageFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to delete report", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]int64{"deleted": id})
	}
	return formatter.Success(fmt.Sprintf("Deleted report %d", id))
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored report",
		Long: `Delete every report and restart storage id assignment. Requires --yes.

Examples:
  ladybug clear --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm removal of every report")

	return cmd
}

func runClear(opts *ClearOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	if !opts.Yes {
		return NewExitError(ExitCommandError, "clear removes every report; pass --yes to confirm")
	}
	st, _, err := openStorage(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	size, err := st.Size(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage size", err)
	}
	if err := st.Clear(ctx); err != nil {
		_ = formatter.Error(CodeStorageFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to clear storage", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]int{"cleared": size})
	}
	return formatter.Success(fmt.Sprintf("Cleared %d report(s) from %s", size, st.Name()))
}

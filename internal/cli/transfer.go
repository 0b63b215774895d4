package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/transfer"
)

// ExportOptions holds flags for the export commands.
type ExportOptions struct {
	*RootOptions
	Out string
}

// ExportResult is the JSON payload of the export commands.
type ExportResult struct {
	File    string  `json:"file"`
	Reports int     `json:"reports"`
	IDs     []int64 `json:"ids,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <storage-id>...",
		Short: "Export reports to a file",
		Long: `Export reports to a single-report bundle (.ttr) or, for several ids or
an --out ending in .zip, to an archive holding one bundle per report.

Examples:
  ladybug export 12 --out order.ttr
  ladybug export 12 13 14 --out orders.zip`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := parseStorageID(arg)
		if err != nil {
			return err
		}
		ids[i] = id
	}
	archive := len(ids) > 1 || strings.EqualFold(filepath.Ext(opts.Out), transfer.ExtArchive)

	st, _, err := openStorage(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	// Every id is read before the file is created so a bad id leaves nothing behind.
	reports := make([]*report.Report, len(ids))
	for i, id := range ids {
		r, err := loadReport(ctx, st, id)
		if err != nil {
			_ = formatter.Error(CodeNotFound, err.Error(), nil)
			return err
		}
		reports[i] = r
	}

	f, err := os.Create(opts.Out)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	if archive {
		err = transfer.ExportArchive(ctx, st, ids, f)
	} else {
		err = transfer.Export(f, reports[0])
	}
	if err := closeExport(f, opts.Out, err); err != nil {
		return err
	}

	formatter.VerboseLog("Exported %d report(s) from %s", len(ids), st.Name())
	if opts.Format == "json" {
		return formatter.Success(ExportResult{File: opts.Out, Reports: len(ids), IDs: ids})
	}
	return formatter.Success(fmt.Sprintf("Exported %d report(s) to %s", len(ids), opts.Out))
}

// NewExportAllCommand creates the export-all command.
func NewExportAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export-all",
		Short: "Export every stored report to an archive",
		Long: `Export every stored report, oldest first, to a zip archive holding one
bundle per report.

Examples:
  ladybug export-all --out all.zip`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExportAll(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output archive (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExportAll(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	st, _, err := openStorage(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	size, err := st.Size(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage size", err)
	}

	f, err := os.Create(opts.Out)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	if err := closeExport(f, opts.Out, transfer.ExportStorage(ctx, st, f)); err != nil {
		return err
	}

	if opts.Format == "json" {
		return formatter.Success(ExportResult{File: opts.Out, Reports: size})
	}
	return formatter.Success(fmt.Sprintf("Exported %d report(s) to %s", size, opts.Out))
}

// closeExport closes f and removes the partial file when writing failed.
func closeExport(f *os.File, path string, writeErr error) error {
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		return WrapExitError(ExitFailure, "export failed", err)
	}
	return nil
}

// ImportSummary is the JSON payload of the import command.
type ImportSummary struct {
	Imported int                     `json:"imported"`
	Failed   int                     `json:"failed"`
	Results  []transfer.ImportResult `json:"results"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import reports from a bundle or archive",
		Long: `Import a single-report bundle (.ttr) or a zip archive of bundles into the
configured storage. Every report gets a new storage id.

Exit codes:
  0 - Every report imported
  1 - At least one report failed to import
  2 - Command error (unreadable file, unsupported extension)

Examples:
  ladybug import order.ttr
  ladybug import all.zip --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd, args[0])
		},
	}
}

func runImport(opts *RootOptions, cmd *cobra.Command, path string) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	st, _, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	results, err := transfer.ImportFile(ctx, st, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to import", err)
	}

	summary := ImportSummary{Results: results}
	for _, res := range results {
		if res.Error != "" {
			summary.Failed++
			formatter.VerboseLog("Skipped %s: %s", res.Name, res.Error)
			continue
		}
		summary.Imported++
		formatter.VerboseLog("Imported %s as %d", res.Name, res.StorageID)
	}

	if opts.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, res := range results {
			if res.Error != "" {
				fmt.Fprintf(w, "%s: %s\n", res.Name, res.Error)
			} else {
				fmt.Fprintf(w, "%s: stored as %d\n", res.Name, res.StorageID)
			}
		}
		fmt.Fprintf(w, "Imported %d report(s), %d failed\n", summary.Imported, summary.Failed)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d report(s) failed to import", summary.Failed))
	}
	return nil
}

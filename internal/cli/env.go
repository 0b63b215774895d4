package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wearefrank/ladybug-sub002/internal/config"
	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // verbose logs must not corrupt JSON
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// openStorage loads the configuration and opens the storage it selects.
// Callers close the returned storage.
func openStorage(ctx context.Context, opts *RootOptions) (storage.Storage, *config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	st, err := config.OpenStorage(ctx, cfg, slog.Default())
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	slog.Debug("storage opened", "name", st.Name(), "type", cfg.Storage.Type)
	return st, cfg, nil
}

func closeStorage(st storage.Storage) {
	if err := st.Close(); err != nil {
		slog.Error("error closing storage", "storage", st.Name(), "error", err)
	}
}

func parseStorageID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid storage id %q", arg))
	}
	return id, nil
}

// loadReport reads one report, mapping a missing id to ExitFailure.
func loadReport(ctx context.Context, st storage.Reader, id int64) (*report.Report, error) {
	r, err := st.Report(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, WrapExitError(ExitFailure, fmt.Sprintf("report %d not found", id), err)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read report %d", id), err)
	}
	return r, nil
}

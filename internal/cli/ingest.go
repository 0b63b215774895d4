package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/wearefrank/ladybug-sub002/internal/capture"
	"github.com/wearefrank/ladybug-sub002/internal/config"
)

// IngestResult is the JSON payload of the ingest command.
type IngestResult struct {
	Spans   int    `json:"spans"`
	Stored  int    `json:"stored"`
	Storage string `json:"storage"`
	Warning string `json:"warning,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <spans.json>",
		Short: "Capture a span batch as reports",
		Long: `Read a JSON array of spans and capture one report per trace id into the
configured storage. Use - to read from stdin.

Each span is an object with id, trace_id, name, start (RFC 3339) and the
optional parent_id and annotations fields. Spans with children become
startpoint/endpoint pairs, leaves become infopoints.

Examples:
  ladybug ingest spans.json
  otel-dump | ladybug ingest - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, cmd, args[0])
		},
	}
}

func readSpans(cmd *cobra.Command, path string) ([]capture.Span, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read spans: %w", err)
	}
	var spans []capture.Span
	if err := json.Unmarshal(data, &spans); err != nil {
		return nil, fmt.Errorf("decode spans: %w", err)
	}
	return spans, nil
}

func runIngest(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	spans, err := readSpans(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load spans", err)
	}

	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping ingest", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	st, cfg, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	before, err := st.Size(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage size", err)
	}

	eng, err := config.NewEngine(cfg, st, nil, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	slog.Debug("ingesting spans", "spans", len(spans), "storage", st.Name())

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Rerun.Timeout)
		defer shutdownCancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			slog.Error("engine shutdown", "error", err)
		}
	}
	// A process exit through atexit still drains the flush queue.
	atexit.Register(shutdown)

	ingestErr := eng.IngestSpans(ctx, spans)

	// Drain queued reports even when ingest stopped early.
	shutdown()
	if ingestErr != nil {
		return WrapExitError(ExitFailure, "ingest failed", ingestErr)
	}

	after, err := st.Size(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage size", err)
	}
	result := IngestResult{
		Spans:   len(spans),
		Stored:  after - before,
		Storage: st.Name(),
		Warning: st.LastWarning(),
	}
	if result.Warning == "" {
		result.Warning = eng.LastError()
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if result.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", result.Warning)
	}
	return formatter.Success(fmt.Sprintf("Captured %d report(s) from %d span(s) into %s",
		result.Stored, result.Spans, result.Storage))
}

package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wearefrank/ladybug-sub002/internal/capture"
	"github.com/wearefrank/ladybug-sub002/internal/metadata"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
	"github.com/wearefrank/ladybug-sub002/internal/storage/failover"
	"github.com/wearefrank/ladybug-sub002/internal/storage/memory"
	"github.com/wearefrank/ladybug-sub002/internal/storage/relational"
)

// MetadataSource loads the extracted field definitions, or returns nil when
// none are configured.
func (c *Config) MetadataSource() (storage.MetadataSource, error) {
	if c.Metadata.FieldsFile == "" {
		return nil, nil
	}
	ext, err := metadata.LoadFieldDefinitions(c.Metadata.FieldsFile)
	if err != nil {
		return nil, fmt.Errorf("metadata fields %s: %w", c.Metadata.FieldsFile, err)
	}
	return ext, nil
}

// OpenStorage builds the configured backend. The selection is made once;
// a failover storage that cannot open its relational primary starts on
// its memory alternative.
func OpenStorage(ctx context.Context, c *Config, logger *slog.Logger) (storage.Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := c.MetadataSource()
	if err != nil {
		return nil, err
	}

	switch c.Storage.Type {
	case StorageMemory:
		return openMemory(c, src, logger), nil
	case StorageRelational:
		return openRelational(ctx, c, src, logger)
	case StorageFailover:
		alternative := openMemory(c, src, logger)
		primary, err := openRelational(ctx, c, src, logger)
		if err != nil {
			logger.Warn("primary storage unavailable, using alternative",
				"alternative", alternative.Name(), "error", err)
			return alternative, nil
		}
		return failover.New(ctx, primary, alternative, logger), nil
	default:
		return nil, fmt.Errorf("open storage: unknown type %q", c.Storage.Type)
	}
}

func openMemory(c *Config, src storage.MetadataSource, logger *slog.Logger) *memory.Storage {
	opts := []memory.Option{
		memory.WithName(c.Storage.Name),
		memory.WithInitialID(c.Storage.InitialID),
		memory.WithLogger(logger),
	}
	if src != nil {
		opts = append(opts, memory.WithMetadataSource(src))
	}
	return memory.New(opts...)
}

func openRelational(ctx context.Context, c *Config, src storage.MetadataSource, logger *slog.Logger) (*relational.Storage, error) {
	s, err := relational.Open(ctx, relational.Config{
		Driver:     c.Storage.Relational.Driver,
		DSN:        c.Storage.Relational.DSN,
		Name:       c.Storage.Name,
		Table:      c.Storage.Relational.Table,
		ReportText: c.Storage.Relational.ReportText,
		Source:     src,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return s, nil
}

// NewEngine builds a capture engine writing to store. Metrics are
// registered on reg when it is not nil. A positive sweep interval starts the
// engine's periodic sweep.
func NewEngine(c *Config, store capture.LogStorage, reg prometheus.Registerer, logger *slog.Logger) (*capture.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []capture.EngineOption{
		capture.WithLogStorage(store),
		capture.WithMaxCheckpoints(c.Capture.MaxCheckpoints),
		capture.WithMaxMessageLength(c.Capture.MaxMessageLength),
		capture.WithCharset(c.Capture.Charset),
		capture.WithLogger(logger),
	}
	if c.Capture.AsyncFlush {
		opts = append(opts, capture.WithAsyncFlush())
	}
	if c.Sweep.Interval > 0 {
		opts = append(opts, capture.WithSweep(c.Sweep.Interval, c.SweepOptions()))
	}
	if reg != nil {
		m, err := capture.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("capture metrics: %w", err)
		}
		opts = append(opts, capture.WithMetrics(m))
	}
	return capture.New(opts...), nil
}

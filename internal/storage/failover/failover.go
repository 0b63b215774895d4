// Package failover wraps a primary storage with an alternative that takes
// over when the primary is unusable at startup.
package failover

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// Storage delegates every call to the storage selected at construction.
// The selection is one-shot: a primary that fails later is not replaced.
type Storage struct {
	active      storage.Storage
	primary     storage.Storage
	alternative storage.Storage
	failedOver  bool
}

var _ storage.Storage = (*Storage)(nil)

// New probes primary with Size. When the probe fails, primary is closed and
// alternative serves every later call.
func New(ctx context.Context, primary, alternative storage.Storage, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Storage{active: primary, primary: primary, alternative: alternative}
	if _, err := primary.Size(ctx); err != nil {
		logger.Warn("primary storage unavailable, using alternative",
			"primary", primary.Name(), "alternative", alternative.Name(), "error", err)
		if cerr := primary.Close(); cerr != nil {
			logger.Debug("close primary storage", "primary", primary.Name(), "error", cerr)
		}
		s.active = alternative
		s.failedOver = true
		return s
	}
	logger.Debug("primary storage available", "primary", primary.Name())
	return s
}

// FailedOver reports whether the alternative is in use.
func (s *Storage) FailedOver() bool {
	return s.failedOver
}

// Active returns the storage serving calls.
func (s *Storage) Active() storage.Storage {
	return s.active
}

func (s *Storage) Name() string {
	return s.active.Name()
}

func (s *Storage) Report(ctx context.Context, id int64) (*report.Report, error) {
	return s.active.Report(ctx, id)
}

func (s *Storage) Metadata(ctx context.Context, q storage.Query) ([][]any, error) {
	return s.active.Metadata(ctx, q)
}

func (s *Storage) StorageIDs(ctx context.Context) ([]int64, error) {
	return s.active.StorageIDs(ctx)
}

func (s *Storage) Size(ctx context.Context) (int, error) {
	return s.active.Size(ctx)
}

func (s *Storage) Clear(ctx context.Context) error {
	return s.active.Clear(ctx)
}

func (s *Storage) StoreWithoutError(ctx context.Context, r *report.Report) {
	s.active.StoreWithoutError(ctx, r)
}

func (s *Storage) LastWarning() string {
	return s.active.LastWarning()
}

func (s *Storage) Store(ctx context.Context, r *report.Report) error {
	return s.active.Store(ctx, r)
}

func (s *Storage) Update(ctx context.Context, r *report.Report) error {
	return s.active.Update(ctx, r)
}

func (s *Storage) Delete(ctx context.Context, r *report.Report) error {
	return s.active.Delete(ctx, r)
}

// Close closes both storages. The primary was already closed on failover.
func (s *Storage) Close() error {
	if s.failedOver {
		return s.alternative.Close()
	}
	return errors.Join(s.primary.Close(), s.alternative.Close())
}

// Package memory keeps reports in process memory. It is the default debug
// storage and the backend used by tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// DefaultName names a memory storage created without WithName.
const DefaultName = "memory"

type cacheKey struct {
	id    int64
	kind  storage.ValueKind
	field string
}

// Storage is a map of storage id to report with a lazily filled metadata
// cache.
//
// Thread-safety: All methods are safe for concurrent use.
//
// INVARIANTS:
//   - A new id is one above the largest id ever assigned since the last
//     Clear, and never below the initial id
//   - Cached metadata for an id is dropped whenever the report changes
type Storage struct {
	name      string
	logger    *slog.Logger
	catalogue *storage.Catalogue
	initialID int64

	mu        sync.RWMutex
	reports   map[int64]*report.Report
	highWater int64
	cache     map[cacheKey]any

	warnMu      sync.Mutex
	lastWarning string
}

var _ storage.Storage = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithName sets the name reported by Name.
func WithName(name string) Option {
	return func(s *Storage) {
		s.name = name
	}
}

// WithInitialID makes the first assigned id initialID+1.
func WithInitialID(id int64) Option {
	return func(s *Storage) {
		s.initialID = id
	}
}

// WithMetadataSource adds derived metadata fields.
func WithMetadataSource(src storage.MetadataSource) Option {
	return func(s *Storage) {
		s.catalogue = storage.NewCatalogue(src)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = l
	}
}

// New creates an empty Storage.
func New(opts ...Option) *Storage {
	s := &Storage{
		name:      DefaultName,
		logger:    slog.Default(),
		catalogue: storage.NewCatalogue(nil),
		reports:   make(map[int64]*report.Report),
		cache:     make(map[cacheKey]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements storage.Reader.
func (s *Storage) Name() string {
	return s.name
}

// Catalogue returns the metadata fields this storage offers.
func (s *Storage) Catalogue() *storage.Catalogue {
	return s.catalogue
}

// Store implements storage.CRUDStorage. r.StorageID is set to the new id.
func (s *Storage) Store(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	if r == nil {
		return fmt.Errorf("store report: nil report")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := max(s.initialID, s.highWater)
	for existing := range s.reports {
		id = max(id, existing)
	}
	id++
	s.highWater = id

	r.StorageID = id
	s.reports[id] = r.Clone()
	return nil
}

// StoreWithoutError implements storage.LogStorage.
func (s *Storage) StoreWithoutError(ctx context.Context, r *report.Report) {
	if err := s.Store(ctx, r); err != nil {
		s.warn(err)
	}
}

func (s *Storage) warn(err error) {
	s.logger.Warn("memory storage", "storage", s.name, "error", err)
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	s.lastWarning = err.Error()
}

// LastWarning implements storage.LogStorage.
func (s *Storage) LastWarning() string {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	return s.lastWarning
}

// Update implements storage.CRUDStorage.
func (s *Storage) Update(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[r.StorageID]; !ok {
		return fmt.Errorf("update report %d: %w", r.StorageID, storage.ErrNotFound)
	}
	s.reports[r.StorageID] = r.Clone()
	s.invalidate(r.StorageID)
	return nil
}

// Delete implements storage.CRUDStorage.
func (s *Storage) Delete(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[r.StorageID]; !ok {
		return fmt.Errorf("delete report %d: %w", r.StorageID, storage.ErrNotFound)
	}
	delete(s.reports, r.StorageID)
	s.invalidate(r.StorageID)
	return nil
}

// invalidate drops cached metadata for id. Caller holds mu.
func (s *Storage) invalidate(id int64) {
	maps.DeleteFunc(s.cache, func(k cacheKey, _ any) bool { return k.id == id })
}

// Report implements storage.Reader.
func (s *Storage) Report(ctx context.Context, id int64) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("read report %d: %w", id, storage.ErrNotFound)
	}
	c := r.Clone()
	c.Storage = s.name
	return c, nil
}

// StorageIDs implements storage.Reader.
func (s *Storage) StorageIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list storage ids: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked(), nil
}

// idsLocked returns ids newest first. Caller holds mu.
func (s *Storage) idsLocked() []int64 {
	ids := slices.Collect(maps.Keys(s.reports))
	slices.SortFunc(ids, func(a, b int64) int { return cmp.Compare(b, a) })
	return ids
}

// Size implements storage.Reader.
func (s *Storage) Size(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports), nil
}

// Clear implements storage.Reader.
func (s *Storage) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = make(map[int64]*report.Report)
	s.cache = make(map[cacheKey]any)
	s.highWater = 0
	return nil
}

// Close implements storage.Reader.
func (s *Storage) Close() error {
	return nil
}

// Metadata implements storage.Reader. Every search term is matched against
// the string form of its field.
func (s *Storage) Metadata(ctx context.Context, q storage.Query) ([][]any, error) {
	fields, err := s.catalogue.Resolve(q.FieldNames)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	preds, err := q.Predicates()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	// Filling the cache needs the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows [][]any
	for _, id := range s.idsLocked() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		if q.MaxRows > 0 && len(rows) >= q.MaxRows {
			break
		}
		keys := s.valuesLocked(id, storage.ValueKindString, fields)
		if !matches(preds, keys) {
			continue
		}
		row := keys
		if q.ValueKind != storage.ValueKindString {
			row = s.valuesLocked(id, q.ValueKind, fields)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func matches(preds []storage.Predicate, values []any) bool {
	for i, p := range preds {
		var v *string
		if values[i] != nil {
			s := values[i].(string)
			v = &s
		}
		if !p.Match(v) {
			return false
		}
	}
	return true
}

// valuesLocked returns the values of fields for id rendered in kind,
// computing and caching the missing ones. Caller holds mu.
func (s *Storage) valuesLocked(id int64, kind storage.ValueKind, fields []storage.Field) []any {
	out := make([]any, len(fields))
	var missing []int
	for i, f := range fields {
		v, ok := s.cache[cacheKey{id: id, kind: kind, field: f.Name}]
		if !ok {
			missing = append(missing, i)
			continue
		}
		out[i] = v
	}
	if len(missing) == 0 {
		return out
	}

	r := s.reports[id]
	todo := make([]storage.Field, len(missing))
	for j, i := range missing {
		todo[j] = fields[i]
	}
	native := s.catalogue.Values(r, r.EstimatedMemoryUsage(), todo)
	for j, i := range missing {
		v := storage.Format(todo[j].Type, native[j], kind)
		s.cache[cacheKey{id: id, kind: kind, field: todo[j].Name}] = v
		out[i] = v
	}
	return out
}

package storage

import (
	"context"
	"errors"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// ErrNotFound is returned for storage ids that do not exist.
var ErrNotFound = errors.New("report not found")

// ErrInvalidQuery is returned for metadata queries that name unknown fields
// or pair field names and search values inconsistently.
var ErrInvalidQuery = errors.New("invalid metadata query")

// ValueKind selects how metadata values are rendered.
type ValueKind int

const (
	// ValueKindObject returns native values: int64, string, time.Time.
	ValueKindObject ValueKind = iota

	// ValueKindString returns every value as its string form, the form
	// search values are matched against.
	ValueKindString

	// ValueKindGUI returns strings formatted for display.
	ValueKindGUI
)

// String returns the kind name used in configuration and the CLI.
func (k ValueKind) String() string {
	switch k {
	case ValueKindObject:
		return "object"
	case ValueKindString:
		return "string"
	case ValueKindGUI:
		return "gui"
	default:
		return "unknown"
	}
}

// ParseValueKind parses the name returned by String.
func ParseValueKind(s string) (ValueKind, error) {
	switch s {
	case "object":
		return ValueKindObject, nil
	case "", "string":
		return ValueKindString, nil
	case "gui":
		return ValueKindGUI, nil
	default:
		return 0, errors.New("unknown value kind " + s)
	}
}

// Query selects metadata rows.
type Query struct {
	// MaxRows caps the number of rows. Zero or less means no cap.
	MaxRows int

	// FieldNames lists the columns to return, in order.
	FieldNames []string

	// SearchValues holds one search term per field name. A nil slice or an
	// empty term matches everything.
	SearchValues []string

	ValueKind ValueKind
}

// Predicates parses the search terms of q, one per field.
func (q Query) Predicates() ([]Predicate, error) {
	if q.SearchValues != nil && len(q.SearchValues) != len(q.FieldNames) {
		return nil, ErrInvalidQuery
	}
	preds := make([]Predicate, len(q.FieldNames))
	for i := range q.FieldNames {
		term := ""
		if q.SearchValues != nil {
			term = q.SearchValues[i]
		}
		preds[i] = ParseSearch(term)
	}
	return preds, nil
}

// Reader is the read side every backend offers.
type Reader interface {
	// Name identifies the backend in logs and the CLI.
	Name() string

	// Report returns a detached copy of the report with the given storage
	// id, or ErrNotFound.
	Report(ctx context.Context, id int64) (*report.Report, error)

	// Metadata returns one row per matching report, newest first.
	Metadata(ctx context.Context, q Query) ([][]any, error)

	// StorageIDs lists every storage id, newest first.
	StorageIDs(ctx context.Context) ([]int64, error)

	// Size returns the number of stored reports.
	Size(ctx context.Context) (int, error)

	// Clear removes every report and restarts id assignment.
	Clear(ctx context.Context) error

	Close() error
}

// LogStorage is an append-only backend fed by the capture engine.
type LogStorage interface {
	Reader

	// StoreWithoutError assigns a storage id and persists r. Failures are
	// logged and kept for LastWarning instead of returned.
	StoreWithoutError(ctx context.Context, r *report.Report)

	// LastWarning returns the most recent swallowed failure.
	LastWarning() string
}

// CRUDStorage is a backend that supports explicit edits.
type CRUDStorage interface {
	Reader

	// Store assigns r a new storage id and persists it.
	Store(ctx context.Context, r *report.Report) error

	// Update replaces the stored report with r's storage id and
	// invalidates derived metadata.
	Update(ctx context.Context, r *report.Report) error

	// Delete removes the report with r's storage id.
	Delete(ctx context.Context, r *report.Report) error
}

// Storage is the union offered by the bundled backends.
type Storage interface {
	LogStorage
	CRUDStorage
}

// MetadataSource derives extra metadata fields from report content.
// metadata.Extractor implements it.
type MetadataSource interface {
	// FieldNames lists the derived fields, in column order.
	FieldNames() []string

	// Extract returns the derived values for r. Missing keys are null.
	Extract(r *report.Report) map[string]string
}

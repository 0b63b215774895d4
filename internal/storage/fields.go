package storage

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// FieldType determines how a metadata value is stored and rendered.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldTime
	FieldDuration // milliseconds
	FieldBytes
)

// Built-in field names.
const (
	FieldStorageID            = "storageId"
	FieldCorrelationID        = "correlationId"
	FieldName                 = "name"
	FieldDescription          = "description"
	FieldPath                 = "path"
	FieldStartTime            = "startTime"
	FieldEndTime              = "endTime"
	FieldDurationMillis       = "duration"
	FieldNumberOfCheckpoints  = "numberOfCheckpoints"
	FieldEstimatedMemoryUsage = "estimatedMemoryUsage"
	FieldStorageSize          = "storageSize"
	FieldStatus               = "status"
)

// Status values of the built-in status field.
const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

// Field is one metadata column.
type Field struct {
	Name string
	Type FieldType

	// Extracted marks fields supplied by a MetadataSource.
	Extracted bool

	value func(r *report.Report, storedSize int64) any
}

var builtinFields = []Field{
	{Name: FieldStorageID, Type: FieldInt, value: func(r *report.Report, _ int64) any { return r.StorageID }},
	{Name: FieldCorrelationID, Type: FieldString, value: func(r *report.Report, _ int64) any { return r.CorrelationID }},
	{Name: FieldName, Type: FieldString, value: func(r *report.Report, _ int64) any { return r.Name }},
	{Name: FieldDescription, Type: FieldString, value: func(r *report.Report, _ int64) any { return optional(r.Description) }},
	{Name: FieldPath, Type: FieldString, value: func(r *report.Report, _ int64) any { return optional(r.Path) }},
	{Name: FieldStartTime, Type: FieldTime, value: func(r *report.Report, _ int64) any { return r.StartTime }},
	{Name: FieldEndTime, Type: FieldTime, value: func(r *report.Report, _ int64) any {
		if r.EndTime.IsZero() {
			return nil
		}
		return r.EndTime
	}},
	{Name: FieldDurationMillis, Type: FieldDuration, value: func(r *report.Report, _ int64) any {
		if !r.Complete() {
			return nil
		}
		return r.Duration().Milliseconds()
	}},
	{Name: FieldNumberOfCheckpoints, Type: FieldInt, value: func(r *report.Report, _ int64) any { return int64(len(r.Checkpoints)) }},
	{Name: FieldEstimatedMemoryUsage, Type: FieldBytes, value: func(r *report.Report, _ int64) any { return r.EstimatedMemoryUsage() }},
	{Name: FieldStorageSize, Type: FieldBytes, value: func(_ *report.Report, size int64) any { return size }},
	{Name: FieldStatus, Type: FieldString, value: func(r *report.Report, _ int64) any { return DefaultStatus(r) }},
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DefaultStatus is Error for reports whose last checkpoint is an
// abortpoint and Success otherwise. An abortpoint inside a flow that still
// ended normally does not count.
func DefaultStatus(r *report.Report) string {
	if last, ok := r.LastCheckpoint(); ok && last.Type == report.TypeAbort {
		return StatusError
	}
	return StatusSuccess
}

// Catalogue is the set of metadata fields a backend offers: the built-in
// fields plus those of an optional MetadataSource. A source field with a
// built-in name replaces the built-in.
type Catalogue struct {
	fields []Field
	byName map[string]int
	source MetadataSource
}

// NewCatalogue builds the catalogue for src, which may be nil.
func NewCatalogue(src MetadataSource) *Catalogue {
	c := &Catalogue{byName: make(map[string]int), source: src}
	for _, f := range builtinFields {
		c.add(f)
	}
	if src != nil {
		for _, name := range src.FieldNames() {
			c.add(Field{Name: name, Type: FieldString, Extracted: true})
		}
	}
	return c
}

func (c *Catalogue) add(f Field) {
	if i, ok := c.byName[f.Name]; ok {
		c.fields[i] = f
		return
	}
	c.byName[f.Name] = len(c.fields)
	c.fields = append(c.fields, f)
}

// Fields returns every field in column order.
func (c *Catalogue) Fields() []Field {
	return append([]Field(nil), c.fields...)
}

// Lookup returns the named field.
func (c *Catalogue) Lookup(name string) (Field, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Resolve looks up every name, failing with ErrInvalidQuery on the first
// unknown one.
func (c *Catalogue) Resolve(names []string) ([]Field, error) {
	out := make([]Field, len(names))
	for i, name := range names {
		f, ok := c.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, name)
		}
		out[i] = f
	}
	return out, nil
}

// Values computes the native values of fields for r. storedSize is the
// backend's size of r in bytes.
func (c *Catalogue) Values(r *report.Report, storedSize int64, fields []Field) []any {
	var extracted map[string]string
	out := make([]any, len(fields))
	for i, f := range fields {
		if !f.Extracted {
			out[i] = f.value(r, storedSize)
			continue
		}
		if extracted == nil {
			extracted = c.source.Extract(r)
			if extracted == nil {
				extracted = map[string]string{}
			}
		}
		if v, ok := extracted[f.Name]; ok {
			out[i] = v
		} else {
			out[i] = nil
		}
	}
	return out
}

// Format renders a native value of type t in the given kind. Null stays
// nil in every kind.
func Format(t FieldType, v any, kind ValueKind) any {
	if v == nil || kind == ValueKindObject {
		return v
	}
	switch val := v.(type) {
	case time.Time:
		if kind == ValueKindGUI {
			return val.Local().Format(report.TimeFormat)
		}
		return val.UTC().Format(report.TimeFormat)
	case int64:
		if kind == ValueKindGUI {
			switch t {
			case FieldBytes:
				if val < 0 {
					return strconv.FormatInt(val, 10)
				}
				return humanize.Bytes(uint64(val))
			case FieldDuration:
				return humanize.Comma(val) + " ms"
			}
		}
		return strconv.FormatInt(val, 10)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// StringForm returns the string form predicates match against.
func StringForm(t FieldType, v any) *string {
	if v == nil {
		return nil
	}
	s := Format(t, v, ValueKindString).(string)
	return &s
}

// Parse converts a string form back to the native value of type t.
func Parse(t FieldType, s string) (any, error) {
	switch t {
	case FieldInt, FieldDuration, FieldBytes:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		return n, nil
	case FieldTime:
		ts, err := time.ParseInLocation(report.TimeFormat, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		return ts, nil
	default:
		return s, nil
	}
}

// Convert renders a value read back from its string form in kind.
func Convert(t FieldType, s *string, kind ValueKind) (any, error) {
	if s == nil {
		return nil, nil
	}
	if kind == ValueKindString {
		return *s, nil
	}
	v, err := Parse(t, *s)
	if err != nil {
		return nil, err
	}
	return Format(t, v, kind), nil
}

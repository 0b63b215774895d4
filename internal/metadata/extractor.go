package metadata

import (
	"strings"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// Field derives one metadata value from a report. ok is false for null.
type Field interface {
	FieldName() string
	Value(r *report.Report) (value string, ok bool)
}

// FieldDefinition extracts a value from the message of the first
// checkpoint named CheckpointName.
//
// With a SessionKeyPrefix, only checkpoints whose names carry the prefix
// are considered, and the prefix is stripped before comparing. Transforms
// run in order; the first one without a result, or a missing checkpoint,
// yields Default.
type FieldDefinition struct {
	Name             string
	CheckpointName   string
	SessionKeyPrefix string
	Transforms       []Transform

	// Default is the value when extraction fails. Nil means null.
	Default *string
}

func (d *FieldDefinition) FieldName() string {
	return d.Name
}

func (d *FieldDefinition) Value(r *report.Report) (string, bool) {
	cp := d.find(r)
	if cp == nil {
		return d.fallback()
	}
	v := cp.Message
	for _, t := range d.Transforms {
		var ok bool
		if v, ok = t.Apply(v); !ok {
			return d.fallback()
		}
	}
	return v, true
}

func (d *FieldDefinition) find(r *report.Report) *report.Checkpoint {
	for i := range r.Checkpoints {
		name := r.Checkpoints[i].Name
		if d.SessionKeyPrefix != "" {
			var ok bool
			if name, ok = strings.CutPrefix(name, d.SessionKeyPrefix); !ok {
				continue
			}
		}
		if name == d.CheckpointName {
			return &r.Checkpoints[i]
		}
	}
	return nil
}

func (d *FieldDefinition) fallback() (string, bool) {
	if d.Default == nil {
		return "", false
	}
	return *d.Default, true
}

// StatusField labels a report ErrorLabel when its last checkpoint is an
// abortpoint. Otherwise it takes Delegate's value when a delegate is set,
// or SuccessLabel. Values are cut to MaxLength runes when it is positive.
type StatusField struct {
	Name         string // default storage.FieldStatus
	ErrorLabel   string // default storage.StatusError
	SuccessLabel string // default storage.StatusSuccess
	Delegate     Field
	MaxLength    int
}

func (s *StatusField) FieldName() string {
	if s.Name == "" {
		return storage.FieldStatus
	}
	return s.Name
}

func (s *StatusField) Value(r *report.Report) (string, bool) {
	var v string
	last, ok := r.LastCheckpoint()
	switch {
	case ok && last.Type == report.TypeAbort:
		v = orDefault(s.ErrorLabel, storage.StatusError)
	case s.Delegate != nil:
		if v, ok = s.Delegate.Value(r); !ok {
			return "", false
		}
	default:
		v = orDefault(s.SuccessLabel, storage.StatusSuccess)
	}
	if s.MaxLength > 0 {
		if runes := []rune(v); len(runes) > s.MaxLength {
			v = string(runes[:s.MaxLength])
		}
	}
	return v, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Extractor evaluates its fields against a report.
type Extractor struct {
	Fields []Field
}

var _ storage.MetadataSource = (*Extractor)(nil)

// FieldNames implements storage.MetadataSource.
func (e *Extractor) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.FieldName()
	}
	return names
}

// Extract implements storage.MetadataSource. Null values are left out.
func (e *Extractor) Extract(r *report.Report) map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if v, ok := f.Value(r); ok {
			out[f.FieldName()] = v
		}
	}
	return out
}

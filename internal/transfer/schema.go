package transfer

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// schemaVersion is written to every bundle. Decoding rejects other
// versions through the embedded JSON Schema.
const schemaVersion = 1

// timeFormat stores times in UTC with millisecond precision.
const timeFormat = "2006-01-02T15:04:05.000Z"

// field describes how one property of T maps to its JSON form. get reports
// false for default values, which are left out of the document.
type field[T any] struct {
	name string
	get  func(*T) (any, bool)
	set  func(*T, any) error
}

func typeError(name, want string, raw any) error {
	return fmt.Errorf("field %q: want %s, got %T", name, want, raw)
}

func stringField[T any](name string, ptr func(*T) *string) field[T] {
	return field[T]{
		name: name,
		get: func(v *T) (any, bool) {
			s := *ptr(v)
			return s, s != ""
		},
		set: func(v *T, raw any) error {
			s, ok := raw.(string)
			if !ok {
				return typeError(name, "string", raw)
			}
			*ptr(v) = s
			return nil
		},
	}
}

func int64Field[T any](name string, ptr func(*T) *int64) field[T] {
	return field[T]{
		name: name,
		get: func(v *T) (any, bool) {
			n := *ptr(v)
			return n, n != 0
		},
		set: func(v *T, raw any) error {
			n, err := toInt64(name, raw)
			if err != nil {
				return err
			}
			*ptr(v) = n
			return nil
		},
	}
}

func intField[T any](name string, ptr func(*T) *int) field[T] {
	return field[T]{
		name: name,
		get: func(v *T) (any, bool) {
			n := *ptr(v)
			return n, n != 0
		},
		set: func(v *T, raw any) error {
			n, err := toInt64(name, raw)
			if err != nil {
				return err
			}
			*ptr(v) = int(n)
			return nil
		},
	}
}

func boolField[T any](name string, ptr func(*T) *bool) field[T] {
	return field[T]{
		name: name,
		get: func(v *T) (any, bool) {
			b := *ptr(v)
			return b, b
		},
		set: func(v *T, raw any) error {
			b, ok := raw.(bool)
			if !ok {
				return typeError(name, "boolean", raw)
			}
			*ptr(v) = b
			return nil
		},
	}
}

func timeField[T any](name string, ptr func(*T) *time.Time) field[T] {
	return field[T]{
		name: name,
		get: func(v *T) (any, bool) {
			t := *ptr(v)
			if t.IsZero() {
				return nil, false
			}
			return t.UTC().Format(timeFormat), true
		},
		set: func(v *T, raw any) error {
			s, ok := raw.(string)
			if !ok {
				return typeError(name, "string", raw)
			}
			t, err := time.Parse(timeFormat, s)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			*ptr(v) = t
			return nil
		},
	}
}

func toInt64(name string, raw any) (int64, error) {
	switch n := raw.(type) {
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		return v, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, typeError(name, "integer", raw)
	}
}

var checkpointFields = []field[report.Checkpoint]{
	stringField("name", func(c *report.Checkpoint) *string { return &c.Name }),
	{
		name: "type",
		get: func(c *report.Checkpoint) (any, bool) {
			return c.Type.String(), true
		},
		set: func(c *report.Checkpoint, raw any) error {
			s, ok := raw.(string)
			if !ok {
				return typeError("type", "string", raw)
			}
			t, err := report.ParseCheckpointType(s)
			if err != nil {
				return err
			}
			c.Type = t
			return nil
		},
	},
	intField("level", func(c *report.Checkpoint) *int { return &c.Level }),
	stringField("sourceName", func(c *report.Checkpoint) *string { return &c.SourceName }),
	stringField("threadName", func(c *report.Checkpoint) *string { return &c.ThreadName }),
	stringField("message", func(c *report.Checkpoint) *string { return &c.Message }),
	stringField("encoding", func(c *report.Checkpoint) *string { return &c.Encoding }),
	stringField("className", func(c *report.Checkpoint) *string { return &c.ClassName }),
	{
		name: "stub",
		get: func(c *report.Checkpoint) (any, bool) {
			return int64(c.Stub), c.Stub != report.StubFollowReport
		},
		set: func(c *report.Checkpoint, raw any) error {
			n, err := toInt64("stub", raw)
			if err != nil {
				return err
			}
			c.Stub = report.Stub(n)
			return nil
		},
	},
	boolField("stubbed", func(c *report.Checkpoint) *bool { return &c.Stubbed }),
	stringField("stubNotFound", func(c *report.Checkpoint) *string { return &c.StubNotFound }),
	intField("preTruncatedMessageLength", func(c *report.Checkpoint) *int { return &c.PreTruncatedMessageLength }),
}

var reportFields = []field[report.Report]{
	int64Field("storageId", func(r *report.Report) *int64 { return &r.StorageID }),
	stringField("correlationId", func(r *report.Report) *string { return &r.CorrelationID }),
	stringField("name", func(r *report.Report) *string { return &r.Name }),
	stringField("description", func(r *report.Report) *string { return &r.Description }),
	stringField("path", func(r *report.Report) *string { return &r.Path }),
	timeField("startTime", func(r *report.Report) *time.Time { return &r.StartTime }),
	timeField("endTime", func(r *report.Report) *time.Time { return &r.EndTime }),
	{
		name: "stubStrategy",
		get: func(r *report.Report) (any, bool) {
			s := string(r.StubStrategy)
			return s, r.StubStrategy != "" && r.StubStrategy != report.StubStrategyDefault
		},
		set: func(r *report.Report, raw any) error {
			s, ok := raw.(string)
			if !ok {
				return typeError("stubStrategy", "string", raw)
			}
			r.StubStrategy = report.StubStrategy(s)
			return nil
		},
	},
	stringField("transformation", func(r *report.Report) *string { return &r.Transformation }),
	{
		name: "variables",
		get: func(r *report.Report) (any, bool) {
			return maps.Clone(r.Variables), len(r.Variables) > 0
		},
		set: func(r *report.Report, raw any) error {
			m, ok := raw.(map[string]any)
			if !ok {
				return typeError("variables", "object", raw)
			}
			r.Variables = make(map[string]string, len(m))
			for k, v := range m {
				s, ok := v.(string)
				if !ok {
					return typeError("variables."+k, "string", v)
				}
				r.Variables[k] = s
			}
			return nil
		},
	},
	{
		name: "checkpoints",
		get: func(r *report.Report) (any, bool) {
			out := make([]any, len(r.Checkpoints))
			for i := range r.Checkpoints {
				out[i] = encodeEntity(checkpointFields, &r.Checkpoints[i])
			}
			return out, len(out) > 0
		},
		set: func(r *report.Report, raw any) error {
			list, ok := raw.([]any)
			if !ok {
				return typeError("checkpoints", "array", raw)
			}
			r.Checkpoints = make([]report.Checkpoint, len(list))
			for i, item := range list {
				obj, ok := item.(map[string]any)
				if !ok {
					return typeError(fmt.Sprintf("checkpoints[%d]", i), "object", item)
				}
				if err := decodeEntity(checkpointFields, obj, &r.Checkpoints[i]); err != nil {
					return fmt.Errorf("checkpoint %d: %w", i, err)
				}
				r.Checkpoints[i].Index = i
			}
			return nil
		},
	},
}

// encodeEntity renders v as a JSON object, leaving out default values.
func encodeEntity[T any](fields []field[T], v *T) map[string]any {
	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		if val, ok := f.get(v); ok {
			obj[f.name] = val
		}
	}
	return obj
}

// decodeEntity fills v from obj. Absent fields keep v's values.
func decodeEntity[T any](fields []field[T], obj map[string]any, v *T) error {
	for _, f := range fields {
		raw, ok := obj[f.name]
		if !ok {
			continue
		}
		if err := f.set(v, raw); err != nil {
			return err
		}
	}
	return nil
}

package transfer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/pierrec/lz4/v4"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

//go:embed report.schema.json
var schemaJSON []byte

// ErrInvalidBundle is returned for bundles that fail schema validation.
var ErrInvalidBundle = errors.New("invalid report bundle")

// ErrInvalidText is returned by Canonical for reports holding text that is
// not valid UTF-8. Such text would not survive a round trip through JSON.
var ErrInvalidText = errors.New("text is not valid UTF-8")

var bundleSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	schema, err := jsonschema.NewCompiler().Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile bundle schema: %w", err)
	}
	return schema, nil
})

// Canonical returns the uncompressed bundle document for r in RFC 8785
// canonical form.
func Canonical(r *report.Report) ([]byte, error) {
	doc := map[string]any{
		"version": schemaVersion,
		"report":  encodeEntity(reportFields, r),
	}
	if err := checkText("report", doc["report"]); err != nil {
		return nil, fmt.Errorf("encode report %d: %w", r.StorageID, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode report %d: %w", r.StorageID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report %d: %w", r.StorageID, err)
	}
	return canonical, nil
}

// checkText reports the first string below v that is not valid UTF-8.
func checkText(path string, v any) error {
	switch val := v.(type) {
	case string:
		if !utf8.ValidString(val) {
			return fmt.Errorf("%s: %w", path, ErrInvalidText)
		}
	case map[string]string:
		for k, s := range val {
			if !utf8.ValidString(k) || !utf8.ValidString(s) {
				return fmt.Errorf("%s.%s: %w", path, strings.ToValidUTF8(k, "?"), ErrInvalidText)
			}
		}
	case map[string]any:
		for k, item := range val {
			if err := checkText(path+"."+k, item); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range val {
			if err := checkText(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes r as a compressed bundle.
func Marshal(r *report.Report) ([]byte, error) {
	doc, err := Canonical(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		return nil, fmt.Errorf("compress report %d: %w", r.StorageID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress report %d: %w", r.StorageID, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a compressed bundle into a finalized report.
func Unmarshal(data []byte) (*report.Report, error) {
	doc, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}
	return Decode(doc)
}

// Decode validates an uncompressed bundle document and decodes it.
func Decode(doc []byte) (*report.Report, error) {
	schema, err := bundleSchema()
	if err != nil {
		return nil, err
	}
	if result := schema.ValidateJSON(doc); !result.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, result.Errors)
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	body, ok := obj["report"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: report is not an object", ErrInvalidBundle)
	}

	r := &report.Report{StubStrategy: report.StubStrategyDefault}
	if err := decodeEntity(reportFields, body, r); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	r.Finalize(r.EndTime)
	return r, nil
}

package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/antchfx/xmlquery"
)

// Transform maps a message to a derived value. ok is false when the
// message yields no result; the field then falls back to its default.
type Transform interface {
	Apply(message string) (value string, ok bool)
}

// RegexTransform returns the first capture group of the first match, or
// the whole match when the pattern has no groups.
type RegexTransform struct {
	re *regexp.Regexp
}

func NewRegexTransform(pattern string) (*RegexTransform, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regex transform: %w", err)
	}
	return &RegexTransform{re: re}, nil
}

func (t *RegexTransform) Apply(message string) (string, bool) {
	m := t.re.FindStringSubmatch(message)
	switch {
	case m == nil:
		return "", false
	case len(m) > 1:
		return m[1], true
	default:
		return m[0], true
	}
}

func (t *RegexTransform) String() string {
	return "regex " + t.re.String()
}

// XPathTransform evaluates an XPath expression against an XML message and
// returns the inner text of the first selected node.
type XPathTransform struct {
	expr string
}

func NewXPathTransform(expr string) (*XPathTransform, error) {
	// Querying an empty document compiles the expression.
	doc := &xmlquery.Node{Type: xmlquery.DocumentNode}
	if _, err := xmlquery.Query(doc, expr); err != nil {
		return nil, fmt.Errorf("xpath transform %q: %w", expr, err)
	}
	return &XPathTransform{expr: expr}, nil
}

func (t *XPathTransform) Apply(message string) (string, bool) {
	doc, err := xmlquery.Parse(strings.NewReader(message))
	if err != nil {
		return "", false
	}
	node, err := xmlquery.Query(doc, t.expr)
	if err != nil || node == nil {
		return "", false
	}
	return node.InnerText(), true
}

func (t *XPathTransform) String() string {
	return "xpath " + t.expr
}

// CUEPathTransform looks up a path in a JSON or CUE message. Strings are
// returned as is, other values in their JSON form.
type CUEPathTransform struct {
	path cue.Path
}

func NewCUEPathTransform(path string) (*CUEPathTransform, error) {
	p := cue.ParsePath(path)
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("cue transform %q: %w", path, err)
	}
	return &CUEPathTransform{path: p}, nil
}

func (t *CUEPathTransform) Apply(message string) (string, bool) {
	// A cue.Context is not safe for concurrent use.
	v := cuecontext.New().CompileString(message)
	if v.Err() != nil {
		return "", false
	}
	field := v.LookupPath(t.path)
	if !field.Exists() || field.Err() != nil {
		return "", false
	}
	if field.Kind() == cue.StringKind {
		s, err := field.String()
		return s, err == nil
	}
	raw, err := field.MarshalJSON()
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (t *CUEPathTransform) String() string {
	return "cue " + t.path.String()
}

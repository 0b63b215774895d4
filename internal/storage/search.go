package storage

import (
	"strings"
)

// Predicate is a parsed search term.
//
// This is a sealed interface: only types in this package implement it, so
// backend compilers can switch over it exhaustively.
//
// Predicate types:
//   - MatchAll: "" and "*"
//   - IsNull: "null"
//   - IsEmpty: "empty" and `""`
//   - Equals: any other term, or a term wrapped in parentheses
//   - Like: a term with a leading and/or trailing "*"
//
// Match receives the string form of a value; nil stands for a null value.
type Predicate interface {
	Match(v *string) bool
	predicateNode() // Marker method - seals interface to this package
}

// MatchAll matches every value, including null.
type MatchAll struct{}

// IsNull matches null values only.
type IsNull struct{}

// IsEmpty matches the empty string.
type IsEmpty struct{}

// Equals matches values equal to Value, case-sensitively.
type Equals struct {
	Value string
}

// Like matches values containing Text, ignoring ASCII case. Letters outside
// ASCII compare exactly, which is what LOWER does in SQLite. Anchored ends
// must match the start or end of the value.
//
// Semantics:
//
//	"abc*"  -> Like{Text: "abc", AnchorStart: true}
//	"*abc"  -> Like{Text: "abc", AnchorEnd: true}
//	"*abc*" -> Like{Text: "abc"}
type Like struct {
	Text        string
	AnchorStart bool
	AnchorEnd   bool
}

func (MatchAll) predicateNode() {}
func (IsNull) predicateNode()   {}
func (IsEmpty) predicateNode()  {}
func (Equals) predicateNode()   {}
func (Like) predicateNode()     {}

// ParseSearch parses one search term.
func ParseSearch(term string) Predicate {
	switch term {
	case "", "*":
		return MatchAll{}
	case "null":
		return IsNull{}
	case "empty", `""`:
		return IsEmpty{}
	}
	if len(term) >= 2 && term[0] == '(' && term[len(term)-1] == ')' {
		return Equals{Value: term[1 : len(term)-1]}
	}
	lead := strings.HasPrefix(term, "*")
	trail := strings.HasSuffix(term, "*")
	if !lead && !trail {
		return Equals{Value: term}
	}
	text := strings.TrimSuffix(strings.TrimPrefix(term, "*"), "*")
	return Like{Text: text, AnchorStart: !lead, AnchorEnd: !trail}
}

// Match implements Predicate.
func (MatchAll) Match(*string) bool { return true }

// Match implements Predicate.
func (IsNull) Match(v *string) bool { return v == nil }

// Match implements Predicate.
func (IsEmpty) Match(v *string) bool { return v != nil && *v == "" }

// Match implements Predicate.
func (p Equals) Match(v *string) bool { return v != nil && *v == p.Value }

// Match implements Predicate.
func (p Like) Match(v *string) bool {
	if v == nil {
		return false
	}
	s := foldASCII(*v)
	text := foldASCII(p.Text)
	switch {
	case p.AnchorStart && p.AnchorEnd:
		return s == text
	case p.AnchorStart:
		return strings.HasPrefix(s, text)
	case p.AnchorEnd:
		return strings.HasSuffix(s, text)
	default:
		return strings.Contains(s, text)
	}
}

// LikePattern returns the SQL LIKE pattern for p, ASCII lower-cased, with
// wildcard characters in Text escaped by escape.
func (p Like) LikePattern(escape byte) string {
	var b strings.Builder
	if !p.AnchorStart {
		b.WriteByte('%')
	}
	for _, r := range foldASCII(p.Text) {
		if r == '%' || r == '_' || r == rune(escape) {
			b.WriteByte(escape)
		}
		b.WriteRune(r)
	}
	if !p.AnchorEnd {
		b.WriteByte('%')
	}
	return b.String()
}

func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestParseSearch(t *testing.T) {
	tests := []struct {
		term string
		want Predicate
	}{
		{"", MatchAll{}},
		{"*", MatchAll{}},
		{"null", IsNull{}},
		{"empty", IsEmpty{}},
		{`""`, IsEmpty{}},
		{"Alice", Equals{Value: "Alice"}},
		{"(A*)", Equals{Value: "A*"}},
		{"(null)", Equals{Value: "null"}},
		{"A*", Like{Text: "A", AnchorStart: true}},
		{"*ice", Like{Text: "ice", AnchorEnd: true}},
		{"*lic*", Like{Text: "lic"}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSearch(tt.term))
		})
	}
}

func TestPredicate_Match(t *testing.T) {
	tests := []struct {
		term  string
		value *string
		want  bool
	}{
		{"*", nil, true},
		{"", str("x"), true},
		{"null", nil, true},
		{"null", str(""), false},
		{"empty", str(""), true},
		{"empty", nil, false},
		{"Alice", str("Alice"), true},
		{"Alice", str("alice"), false},
		{"A*", str("Alice"), true},
		{"a*", str("Alice"), true},
		{"A*", str("Bob"), false},
		{"A*", nil, false},
		{"*CE", str("Alice"), true},
		{"*li*", str("ALICE"), true},
		{"(A*)", str("Alice"), false},
		{"(A*)", str("A*"), true},
		{"42", str("42"), true},
		{"élan*", str("Élan"), false},
		{"Élan*", str("Élan"), true},
		{"*LAN", str("élan"), true},
	}
	for _, tt := range tests {
		p := ParseSearch(tt.term)
		assert.Equal(t, tt.want, p.Match(tt.value), "term %q", tt.term)
	}
}

func TestLike_Pattern(t *testing.T) {
	assert.Equal(t, "abc%", Like{Text: "ABC", AnchorStart: true}.LikePattern('!'))
	assert.Equal(t, "%100!%%", Like{Text: "100%"}.LikePattern('!'))
	assert.Equal(t, "%a!_b!!", Like{Text: "a_b!", AnchorEnd: true}.LikePattern('!'))
	assert.Equal(t, "Élan%", Like{Text: "ÉLAN", AnchorStart: true}.LikePattern('!'), "only ASCII is folded")
}

func TestQuery_Predicates(t *testing.T) {
	q := Query{FieldNames: []string{"name", "status"}}
	preds, err := q.Predicates()
	require.NoError(t, err)
	assert.Equal(t, []Predicate{MatchAll{}, MatchAll{}}, preds)

	q.SearchValues = []string{"A*"}
	_, err = q.Predicates()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

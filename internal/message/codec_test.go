package message

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Boolean(t *testing.T) {
	c := NewCodec()

	e, err := c.Encode(true, "")
	require.NoError(t, err)
	assert.Equal(t, "true", e.Text)
	assert.Equal(t, ClassBool, e.ClassName)
	assert.Equal(t, true, c.Decode(e))
}

func TestEncode_RoundTrip(t *testing.T) {
	c := NewCodec()
	date := time.Date(2023, 5, 17, 13, 45, 10, 123000000, time.FixedZone("", 2*3600))

	tests := []struct {
		name  string
		value any
	}{
		{"bool false", false},
		{"int", 42},
		{"negative int", -7},
		{"long", int64(1) << 60},
		{"double", 3.25},
		{"string", "hello"},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := c.Encode(tt.value, "")
			require.NoError(t, err)
			assert.Equal(t, tt.value, c.Decode(e))
		})
	}

	t.Run("date", func(t *testing.T) {
		e, err := c.Encode(date, "")
		require.NoError(t, err)
		assert.Equal(t, "2023-05-17T13:45:10.123+0200", e.Text)
		got, ok := c.Decode(e).(time.Time)
		require.True(t, ok)
		assert.True(t, date.Equal(got))
	})
}

func TestEncode_NodeRoundTrip(t *testing.T) {
	c := NewCodec()
	n := &Node{
		Name:  "order",
		Attrs: []Attr{{Name: "id", Value: "7"}, {Name: "note", Value: `a "quoted" <value>`}},
		Text:  "lead & text",
		Children: []*Node{
			{Name: "line", Attrs: []Attr{{Name: "qty", Value: "2"}}},
			{Name: "line", Text: "second"},
		},
	}

	e, err := c.Encode(n, "")
	require.NoError(t, err)
	assert.Equal(t, ClassNode, e.ClassName)

	got, ok := c.Decode(e).(*Node)
	require.True(t, ok, "decoded %T", c.Decode(e))
	assert.True(t, n.Equal(got), "got %s", got)
}

func TestEncode_BytesUseCharsetOrBase64(t *testing.T) {
	c := NewCodec()

	e, err := c.Encode([]byte("plain"), "")
	require.NoError(t, err)
	assert.Equal(t, "plain", e.Text)
	assert.Equal(t, "UTF-8", e.Encoding)
	assert.Equal(t, []byte("plain"), c.Decode(e))

	binary := []byte{0xff, 0xfe, 0x00, 0x80}
	e, err = c.Encode(binary, "UTF-8")
	require.NoError(t, err)
	assert.Equal(t, EncodingBase64, e.Encoding)
	assert.Equal(t, binary, c.Decode(e))

	latin := []byte{'c', 'a', 'f', 0xe9}
	e, err = c.Encode(latin, "ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", e.Text)
	assert.Equal(t, latin, c.Decode(e))
}

func TestEncode_InvalidUTF8String(t *testing.T) {
	c := NewCodec()

	e, err := c.Encode("a\xffb", "")
	require.NoError(t, err)
	assert.Equal(t, ClassString, e.ClassName)
	assert.Equal(t, EncodingBase64, e.Encoding)
	assert.Equal(t, "Yf9i", e.Text)
	assert.Equal(t, "a\xffb", c.Decode(e))

	e, err = c.Encode("ünïcode", "")
	require.NoError(t, err)
	assert.Empty(t, e.Encoding, "valid text is stored as is")
}

func TestDecode_FailureDegradesToUndecoded(t *testing.T) {
	c := NewCodec()

	v := c.Decode(Encoded{Text: "not-a-number", ClassName: ClassInt})
	u, ok := v.(Undecoded)
	require.True(t, ok)
	assert.Equal(t, "not-a-number", u.Text)
	assert.NotEmpty(t, u.Reason)
}

func TestDecode_UnknownClassReturnsText(t *testing.T) {
	c := NewCodec()
	assert.Equal(t, "{1 2}", c.Decode(Encoded{Text: "{1 2}", ClassName: "main.point"}))
}

func TestEncode_Error(t *testing.T) {
	c := NewCodec()
	e, err := c.Encode(errors.New("boom"), "")
	require.NoError(t, err)
	assert.Equal(t, ClassError, e.ClassName)
	assert.EqualError(t, c.Decode(e).(error), "boom")
}

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func TestCapture_StreamIsReplaced(t *testing.T) {
	c := NewCodec()
	live := &trackingReader{Reader: strings.NewReader("payload")}

	e, replacement, err := c.Capture(live, "")
	require.NoError(t, err)
	assert.Equal(t, "payload", e.Text)
	assert.Equal(t, ClassStream, e.ClassName)
	assert.True(t, live.closed)

	rc, ok := replacement.(io.ReadCloser)
	require.True(t, ok)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDecodeForStub(t *testing.T) {
	c := NewCodec()

	t.Run("uses original", func(t *testing.T) {
		orig := Encoded{Text: "10", ClassName: ClassInt}
		assert.Equal(t, 10, c.DecodeForStub(&orig, 100))
	})

	t.Run("default without original", func(t *testing.T) {
		assert.Equal(t, 0, c.DecodeForStub(nil, 100))
		assert.Equal(t, "", c.DecodeForStub(nil, "live"))
		assert.Nil(t, c.DecodeForStub(nil, struct{}{}))
	})

	t.Run("closes live stream", func(t *testing.T) {
		live := &trackingReader{Reader: strings.NewReader("live")}
		orig := Encoded{Text: "stored", Encoding: "UTF-8", ClassName: ClassStream}

		v := c.DecodeForStub(&orig, live)
		assert.True(t, live.closed)
		r, ok := v.(io.Reader)
		require.True(t, ok)
		var buf bytes.Buffer
		_, err := buf.ReadFrom(r)
		require.NoError(t, err)
		assert.Equal(t, "stored", buf.String())
	})
}

func TestParseNode_Errors(t *testing.T) {
	for _, in := range []string{"", "<a></b>", "<a><b></a>", "<a>", "<a/><b/>", "<p:a></q:a>"} {
		_, err := ParseNode(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseNode_KeepsNamespacePrefixes(t *testing.T) {
	in := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:orders">` +
		`<soap:Body><order xml:lang="en" o:id="7" xmlns:o="urn:ids">x</order></soap:Body></soap:Envelope>`

	n, err := ParseNode(in)
	require.NoError(t, err)
	assert.Equal(t, "soap:Envelope", n.Name)
	assert.Equal(t, []Attr{
		{Name: "xmlns:soap", Value: "http://schemas.xmlsoap.org/soap/envelope/"},
		{Name: "xmlns", Value: "urn:orders"},
	}, n.Attrs)
	require.Len(t, n.Children, 1)
	body := n.Children[0]
	assert.Equal(t, "soap:Body", body.Name)
	id, ok := body.Children[0].Attr("o:id")
	assert.True(t, ok)
	assert.Equal(t, "7", id)
	lang, _ := body.Children[0].Attr("xml:lang")
	assert.Equal(t, "en", lang)

	assert.Equal(t, in, n.String(), "prefixed names survive a round trip")
}

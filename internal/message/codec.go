package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Class names written to Checkpoint.ClassName. Plain strings use the empty
// class name.
const (
	ClassString = ""
	ClassNil    = "Nil"
	ClassBool   = "Boolean"
	ClassInt    = "Integer"
	ClassLong   = "Long"
	ClassDouble = "Double"
	ClassDate   = "Date"
	ClassNode   = "Node"
	ClassBytes  = "Bytes"
	ClassStream = "Stream"
	ClassError  = "Error"
)

// EncodingBase64 tags binary content that could not be stored as text.
const EncodingBase64 = "Base64"

// DateFormat is the fixed textual format for time.Time messages.
const DateFormat = "2006-01-02T15:04:05.000-0700"

// Encoded is the stored form of a message.
type Encoded struct {
	Text      string
	Encoding  string
	ClassName string
}

// Undecoded is returned by Decode when the stored text cannot be turned back
// into a value of its declared class.
type Undecoded struct {
	Text      string
	ClassName string
	Reason    string
}

func (u Undecoded) String() string {
	return u.Text
}

// Codec encodes and decodes checkpoint messages. The zero value is ready to
// use and assumes UTF-8 when no charset is given.
type Codec struct {
	// DefaultCharset is used for byte content when the caller passes no
	// charset. Empty means UTF-8.
	DefaultCharset string
}

// NewCodec creates a codec with UTF-8 as the default charset.
func NewCodec() *Codec {
	return &Codec{DefaultCharset: "UTF-8"}
}

// Encode converts v into its stored form. An io.Reader is read to the end;
// callers that still need the stream should use Capture.
func (c *Codec) Encode(v any, charset string) (Encoded, error) {
	switch val := v.(type) {
	case nil:
		return Encoded{ClassName: ClassNil}, nil
	case string:
		if !utf8.ValidString(val) {
			return Encoded{Text: base64.StdEncoding.EncodeToString([]byte(val)), Encoding: EncodingBase64}, nil
		}
		return Encoded{Text: val}, nil
	case bool:
		return Encoded{Text: strconv.FormatBool(val), ClassName: ClassBool}, nil
	case int:
		return Encoded{Text: strconv.Itoa(val), ClassName: ClassInt}, nil
	case int32:
		return Encoded{Text: strconv.FormatInt(int64(val), 10), ClassName: ClassInt}, nil
	case int64:
		return Encoded{Text: strconv.FormatInt(val, 10), ClassName: ClassLong}, nil
	case float64:
		return Encoded{Text: strconv.FormatFloat(val, 'g', -1, 64), ClassName: ClassDouble}, nil
	case time.Time:
		return Encoded{Text: val.Format(DateFormat), ClassName: ClassDate}, nil
	case *Node:
		if val == nil {
			return Encoded{ClassName: ClassNil}, nil
		}
		return Encoded{Text: val.String(), ClassName: ClassNode}, nil
	case []byte:
		return c.encodeBytes(val, charset, ClassBytes)
	case io.Reader:
		data, err := io.ReadAll(val)
		if err != nil {
			return Encoded{}, fmt.Errorf("encode stream: %w", err)
		}
		return c.encodeBytes(data, charset, ClassStream)
	case error:
		return Encoded{Text: val.Error(), ClassName: ClassError}, nil
	case fmt.Stringer:
		return Encoded{Text: val.String(), ClassName: fmt.Sprintf("%T", v)}, nil
	default:
		return Encoded{Text: fmt.Sprint(v), ClassName: fmt.Sprintf("%T", v)}, nil
	}
}

// Capture encodes v and returns a value the caller can keep using in place
// of v. It differs from v only for streams, which are consumed by encoding
// and replaced with a reader over the same bytes.
func (c *Codec) Capture(v any, charset string) (Encoded, any, error) {
	r, ok := v.(io.Reader)
	if !ok {
		e, err := c.Encode(v, charset)
		return e, v, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Encoded{}, v, fmt.Errorf("capture stream: %w", err)
	}
	var replacement any = bytes.NewReader(data)
	if closer, ok := v.(io.Closer); ok {
		_ = closer.Close()
		replacement = io.NopCloser(bytes.NewReader(data))
	}
	e, err := c.encodeBytes(data, charset, ClassStream)
	return e, replacement, err
}

func (c *Codec) encodeBytes(data []byte, charset, class string) (Encoded, error) {
	if charset == "" {
		charset = c.DefaultCharset
	}
	if charset == "" {
		charset = "UTF-8"
	}
	enc, err := lookupCharset(charset)
	if err == nil {
		text, decErr := enc.NewDecoder().Bytes(data)
		if decErr == nil && utf8.Valid(text) {
			// Only keep the text form when it converts back to the same bytes.
			back, encErr := enc.NewEncoder().Bytes(text)
			if encErr == nil && bytes.Equal(back, data) {
				return Encoded{Text: string(text), Encoding: charset, ClassName: class}, nil
			}
		}
	}
	return Encoded{Text: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64, ClassName: class}, nil
}

func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("lookup charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("lookup charset %q: unsupported", name)
	}
	return enc, nil
}

// Decode rebuilds the value described by e. It never panics or fails: text
// that cannot be decoded comes back as Undecoded.
func (c *Codec) Decode(e Encoded) any {
	v, err := c.decode(e)
	if err != nil {
		return Undecoded{Text: e.Text, ClassName: e.ClassName, Reason: err.Error()}
	}
	return v
}

func (c *Codec) decode(e Encoded) (any, error) {
	switch e.ClassName {
	case ClassString:
		if e.Encoding != "" {
			b, err := c.decodeBytes(e)
			return string(b), err
		}
		return e.Text, nil
	case ClassNil:
		return nil, nil
	case ClassBool:
		return strconv.ParseBool(e.Text)
	case ClassInt:
		return strconv.Atoi(e.Text)
	case ClassLong:
		return strconv.ParseInt(e.Text, 10, 64)
	case ClassDouble:
		return strconv.ParseFloat(e.Text, 64)
	case ClassDate:
		return time.Parse(DateFormat, e.Text)
	case ClassNode:
		return ParseNode(e.Text)
	case ClassBytes, ClassStream:
		return c.decodeBytes(e)
	case ClassError:
		return errors.New(e.Text), nil
	default:
		return e.Text, nil
	}
}

func (c *Codec) decodeBytes(e Encoded) ([]byte, error) {
	switch e.Encoding {
	case "":
		return []byte(e.Text), nil
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(e.Text)
	default:
		enc, err := lookupCharset(e.Encoding)
		if err != nil {
			return nil, err
		}
		return enc.NewEncoder().Bytes([]byte(e.Text))
	}
}

// DecodeForStub returns the value that replaces live during a rerun. The
// live value's resources are released first when it is an io.Closer. When
// original is nil a zero value matching live's type is returned. Streams are
// stubbed with a reader so the host can keep reading.
func (c *Codec) DecodeForStub(original *Encoded, live any) any {
	if closer, ok := live.(io.Closer); ok {
		_ = closer.Close()
	}
	_, isReader := live.(io.Reader)
	if original == nil {
		return zeroLike(live)
	}
	v := c.Decode(*original)
	if !isReader {
		return v
	}
	var data []byte
	switch val := v.(type) {
	case []byte:
		data = val
	case Undecoded:
		data = []byte(val.Text)
	default:
		data = []byte(fmt.Sprint(val))
	}
	if _, ok := live.(io.Closer); ok {
		return io.NopCloser(bytes.NewReader(data))
	}
	return bytes.NewReader(data)
}

func zeroLike(live any) any {
	switch live.(type) {
	case string:
		return ""
	case bool:
		return false
	case int:
		return 0
	case int32:
		return int32(0)
	case int64:
		return int64(0)
	case float64:
		return float64(0)
	case time.Time:
		return time.Time{}
	case []byte:
		return []byte{}
	case io.ReadCloser:
		return io.NopCloser(strings.NewReader(""))
	case io.Reader:
		return strings.NewReader("")
	default:
		return nil
	}
}

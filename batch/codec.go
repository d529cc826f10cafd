package batch

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind tags a scalar Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one scalar token of the wire format: a statement parameter or a
// result column.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	Real float64
	Text []byte
}

// Any returns the value as a Go value: nil, bool, int64, float64 or string.
func (v Value) Any() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInteger:
		return v.Int
	case KindReal:
		return v.Real
	case KindText:
		return string(v.Text)
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	}
	return strconv.Quote(string(v.Text))
}

// DecodeError reports malformed batch framing. Offset is the byte position in
// the input where the decoder gave up.
type DecodeError struct {
	Offset   int
	Expected string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("batch: malformed input at offset %d: expected %s", e.Offset, e.Expected)
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

const hexDigits = "0123456789ABCDEF"

// utf8Trail returns how many continuation bytes follow the lead byte c, or
// -1 if c does not start a multi-byte sequence.
func utf8Trail(c byte) int {
	switch {
	case c >= 0xC0 && c <= 0xDF:
		return 1
	case c >= 0xE0 && c <= 0xEF:
		return 2
	case c >= 0xF0 && c <= 0xF7:
		return 3
	}
	return -1
}

func appendHex(dst []byte, delim, c byte) []byte {
	return append(dst, delim, hexDigits[c>>4], hexDigits[c&0x0F], delim)
}

// tokenEnd returns the offset of the next ',' at or after start, or the end
// of input.
func tokenEnd(input []byte, start int) int {
	i := start
	for i < len(input) && input[i] != ',' {
		i++
	}
	return i
}

// decodeText unescapes the quoted string starting at input[start] into dst.
// It returns the grown dst and the offset just past the closing quote.
//
// Multi-byte sequences are copied without validating their continuation
// bytes. With rewrite set, a byte >= 0x80 that is not a lead byte is written
// as -XX-; otherwise it is copied verbatim.
func decodeText(input []byte, start int, dst []byte, rewrite bool) ([]byte, int, error) {
	if start >= len(input) || input[start] != '"' {
		return dst, start, &DecodeError{Offset: start, Expected: "'\"'"}
	}
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch {
		case c == '"':
			return dst, i + 1, nil
		case c == '\\':
			if i+1 >= len(input) {
				return dst, i, &DecodeError{Offset: i, Expected: "escaped character"}
			}
			switch input[i+1] {
			case '"':
				dst = append(dst, '"')
			case '\\':
				dst = append(dst, '\\')
			case 'n':
				dst = append(dst, '\n')
			case 't':
				dst = append(dst, '\t')
			case 'r':
				dst = append(dst, '\r')
			}
			// unknown escapes are dropped along with the backslash
			i += 2
		case c < 0x80:
			dst = append(dst, c)
			i++
		default:
			n := utf8Trail(c)
			if n < 0 {
				if rewrite {
					dst = appendHex(dst, '-', c)
				} else {
					dst = append(dst, c)
				}
				i++
				continue
			}
			if i+n >= len(input) {
				return dst, i, &DecodeError{Offset: i, Expected: "UTF-8 continuation byte"}
			}
			dst = append(dst, input[i:i+1+n]...)
			i += 1 + n
		}
	}
	return dst, i, &DecodeError{Offset: start, Expected: "closing '\"'"}
}

// parseNumber converts an unquoted numeric token. A '.' anywhere in the token
// makes it real. Values outside the representable range saturate.
func parseNumber(input []byte, start, end int) (Value, error) {
	if start >= end {
		return Value{}, &DecodeError{Offset: start, Expected: "number"}
	}
	c := input[start]
	if (c < '0' || c > '9') && c != '-' && c != '+' {
		return Value{}, &DecodeError{Offset: start, Expected: "number"}
	}
	token := string(input[start:end])
	isReal := false
	for i := start; i < end; i++ {
		if input[i] == '.' {
			isReal = true
			break
		}
	}
	if isReal {
		f, err := strconv.ParseFloat(token, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return Value{}, &DecodeError{Offset: start, Expected: "number"}
		}
		return Value{Kind: KindReal, Real: f}, nil
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Value{}, &DecodeError{Offset: start, Expected: "number"}
	}
	return Value{Kind: KindInteger, Int: n}, nil
}

// decodeScalar decodes the token at input[start]. Text is unescaped by
// appending to arena; the returned Value.Text is a capacity-limited view of
// the appended bytes, so later appends never overwrite it.
func decodeScalar(input []byte, start int, arena []byte) (Value, []byte, int, error) {
	if start >= len(input) {
		return Value{}, arena, start, &DecodeError{Offset: start, Expected: "value"}
	}
	switch input[start] {
	case '"':
		mark := len(arena)
		var next int
		var err error
		arena, next, err = decodeText(input, start, arena, true)
		if err != nil {
			return Value{}, arena, next, err
		}
		return Value{Kind: KindText, Text: arena[mark:len(arena):len(arena)]}, arena, next, nil
	case 'n':
		return Value{Kind: KindNull}, arena, tokenEnd(input, start), nil
	case 't':
		return Value{Kind: KindBool, Bool: true}, arena, tokenEnd(input, start), nil
	case 'f':
		return Value{Kind: KindBool, Bool: false}, arena, tokenEnd(input, start), nil
	}
	end := tokenEnd(input, start)
	v, err := parseNumber(input, start, end)
	if err != nil {
		return Value{}, arena, start, err
	}
	return v, arena, end, nil
}

// DecodeScalar decodes the scalar token starting at input[start] and returns
// it along with the offset of the byte following the token.
func DecodeScalar(input []byte, start int) (Value, int, error) {
	v, _, next, err := decodeScalar(input, start, nil)
	return v, next, err
}

// escapedLen returns the number of bytes appendEscaped writes for raw,
// quotes included.
func escapedLen[T string | []byte](raw T) int {
	n := 2
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\' || c == '"':
			n += 2
		case c >= 32 && c <= 126:
			n++
		case c == '\t' || c == '\r' || c == '\n':
			n += 2
		case c >= 0x80:
			if t := utf8Trail(c); t > 0 && i+t < len(raw) {
				n += 1 + t
				i += t
			} else {
				n += 4
			}
		default:
			n += 4
		}
	}
	return n
}

// appendEscaped appends raw as a quoted wire string.
func appendEscaped[T string | []byte](dst []byte, raw T) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\' || c == '"':
			dst = append(dst, '\\', c)
		case c >= 32 && c <= 126:
			dst = append(dst, c)
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c >= 0x80:
			if t := utf8Trail(c); t > 0 && i+t < len(raw) {
				for k := 0; k <= t; k++ {
					dst = append(dst, raw[i+k])
				}
				i += t
			} else {
				dst = appendHex(dst, '-', c)
			}
		default:
			dst = appendHex(dst, '?', c)
		}
	}
	return append(dst, '"')
}

// EncodeText appends raw to dst as a quoted, escaped wire string.
func EncodeText(dst *Buffer, raw []byte) error {
	return encodeText(dst, raw)
}

func encodeText[T string | []byte](dst *Buffer, raw T) error {
	if err := dst.EnsureCapacity(escapedLen(raw)); err != nil {
		return err
	}
	dst.data = appendEscaped(dst.data, raw)
	return nil
}

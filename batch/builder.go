package batch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Builder encodes statements into the flat batch format understood by
// Decoder.
type Builder struct {
	dbID  string
	body  []byte
	count int
}

func NewBuilder(dbID string) *Builder {
	return &Builder{dbID: dbID}
}

// Add appends a statement. Supported argument types are nil, bool, the
// integer and float types, string, []byte and time.Time. On error the
// builder is left unchanged.
func (b *Builder) Add(sql string, args ...any) error {
	mark := len(b.body)
	b.body = append(b.body, ',')
	b.body = appendEscaped(b.body, sql)
	b.body = append(b.body, ',')
	b.body = strconv.AppendInt(b.body, int64(len(args)), 10)
	for i, arg := range args {
		b.body = append(b.body, ',')
		var err error
		b.body, err = appendArg(b.body, arg)
		if err != nil {
			b.body = b.body[:mark]
			return fmt.Errorf("batch: argument %d of statement %d: %w", i+1, b.count, err)
		}
	}
	b.count++
	return nil
}

// Len returns the number of statements added so far.
func (b *Builder) Len() int {
	return b.count
}

// Reset discards all statements.
func (b *Builder) Reset() {
	b.body = b.body[:0]
	b.count = 0
}

// Bytes returns the encoded batch.
func (b *Builder) Bytes() []byte {
	out := make([]byte, 0, len(b.dbID)+len(b.body)+16)
	if b.dbID == "" || strings.ContainsRune(b.dbID, ',') || b.dbID[0] == '"' {
		out = appendEscaped(out, b.dbID)
	} else {
		out = append(out, b.dbID...)
	}
	out = append(out, ',')
	out = strconv.AppendInt(out, int64(b.count), 10)
	return append(out, b.body...)
}

func appendArg(dst []byte, arg any) ([]byte, error) {
	switch v := arg.(type) {
	case nil:
		return append(dst, "null"...), nil
	case bool:
		if v {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case int:
		return strconv.AppendInt(dst, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(dst, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(dst, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(dst, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(dst, v, 10), nil
	case uint:
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case uint64:
		if v > math.MaxInt64 {
			return dst, fmt.Errorf("uint64 %d overflows int64", v)
		}
		return strconv.AppendUint(dst, v, 10), nil
	case float32:
		return appendReal(dst, float64(v))
	case float64:
		return appendReal(dst, v)
	case string:
		return appendEscaped(dst, v), nil
	case []byte:
		return appendEscaped(dst, v), nil
	case time.Time:
		return appendEscaped(dst, v.Format(time.RFC3339Nano)), nil
	}
	return dst, fmt.Errorf("unsupported type %T", arg)
}

// appendReal writes f so that it decodes as a real: the token always holds a
// '.' and never an exponent.
func appendReal(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, fmt.Errorf("cannot encode %v", f)
	}
	start := len(dst)
	dst = strconv.AppendFloat(dst, f, 'f', -1, 64)
	for _, c := range dst[start:] {
		if c == '.' {
			return dst, nil
		}
	}
	return append(dst, '.', '0'), nil
}

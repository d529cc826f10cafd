package batch

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestDecodeScalar(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Value
		next  int
	}{
		{"text", `"abc",1`, Value{Kind: KindText, Text: []byte("abc")}, 5},
		{"empty text", `""`, Value{Kind: KindText, Text: []byte{}}, 2},
		{"escaped quote", `"a\"b"`, Value{Kind: KindText, Text: []byte(`a"b`)}, 6},
		{"escapes", `"\\\n\t\r"`, Value{Kind: KindText, Text: []byte("\\\n\t\r")}, 10},
		{"unknown escape dropped", `"a\qb"`, Value{Kind: KindText, Text: []byte("ab")}, 6},
		{"utf8 two byte", "\"\xC3\xA9\"", Value{Kind: KindText, Text: []byte("é")}, 4},
		{"utf8 three byte", "\"\xE2\x82\xAC\"", Value{Kind: KindText, Text: []byte("€")}, 5},
		{"utf8 four byte", "\"\xF0\x9F\x98\x80\"", Value{Kind: KindText, Text: []byte("😀")}, 6},
		{"stray high byte", "\"a\x80b\"", Value{Kind: KindText, Text: []byte("a-80-b")}, 5},
		{"null", `n,`, Value{Kind: KindNull}, 1},
		{"null word", `null`, Value{Kind: KindNull}, 4},
		{"true", `t`, Value{Kind: KindBool, Bool: true}, 1},
		{"true word", `true,`, Value{Kind: KindBool, Bool: true}, 4},
		{"false", `f`, Value{Kind: KindBool}, 1},
		{"integer", `42,`, Value{Kind: KindInteger, Int: 42}, 2},
		{"negative", `-7`, Value{Kind: KindInteger, Int: -7}, 2},
		{"plus", `+3`, Value{Kind: KindInteger, Int: 3}, 2},
		{"real", `1.5`, Value{Kind: KindReal, Real: 1.5}, 3},
		{"negative real", `-0.25,`, Value{Kind: KindReal, Real: -0.25}, 5},
		{"trailing dot", `3.`, Value{Kind: KindReal, Real: 3}, 2},
		{"integer overflow saturates", `99999999999999999999`, Value{Kind: KindInteger, Int: math.MaxInt64}, 20},
		{"integer underflow saturates", `-99999999999999999999`, Value{Kind: KindInteger, Int: math.MinInt64}, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := DecodeScalar([]byte(tt.input), 0)
			if err != nil {
				t.Fatalf("DecodeScalar(%q) failed: %v", tt.input, err)
			}
			if next != tt.next {
				t.Errorf("next = %d, want %d", next, tt.next)
			}
			if got.Kind != tt.want.Kind || got.Bool != tt.want.Bool || got.Int != tt.want.Int ||
				got.Real != tt.want.Real || !bytes.Equal(got.Text, tt.want.Text) {
				t.Errorf("DecodeScalar(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeScalarErrors(t *testing.T) {
	tests := []struct {
		input  string
		offset int
	}{
		{``, 0},
		{`abc`, 0},
		{`1e5`, 0},
		{`12x`, 0},
		{`-`, 0},
		{`"unterminated`, 0},
		{`"trailing\`, 9},
		{"\"\xE2\x82", 1},
	}
	for _, tt := range tests {
		_, _, err := DecodeScalar([]byte(tt.input), 0)
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("DecodeScalar(%q): expected *DecodeError, got %v", tt.input, err)
			continue
		}
		if decodeErr.Offset != tt.offset {
			t.Errorf("DecodeScalar(%q): offset = %d, want %d", tt.input, decodeErr.Offset, tt.offset)
		}
	}
}

func TestEncodeText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"plain", `"plain"`},
		{"", `""`},
		{`a"b\c`, `"a\"b\\c"`},
		{"line\nbreak\ttab\rcr", `"line\nbreak\ttab\rcr"`},
		{"\x01\x1f\x7f", `"?01??1F??7F?"`},
		{"caf\xC3\xA9", "\"caf\xC3\xA9\""},
		{"\x80", `"-80-"`},
		{"cut\xE2\x82", `"cut-E2--82-"`},
	}
	for _, tt := range tests {
		b := NewBuffer(1, 0)
		if err := EncodeText(b, []byte(tt.raw)); err != nil {
			t.Fatalf("EncodeText(%q) failed: %v", tt.raw, err)
		}
		if got := string(b.Bytes()); got != tt.want {
			t.Errorf("EncodeText(%q) = %s, want %s", tt.raw, got, tt.want)
		}
		if n := escapedLen(tt.raw); n != len(tt.want) {
			t.Errorf("escapedLen(%q) = %d, want %d", tt.raw, n, len(tt.want))
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"hello, world",
		`quote " and backslash \`,
		"multi\nline\ttext\r\n",
		"ünïcödé ✓ 😀",
		`"",",`,
	}
	for _, raw := range inputs {
		b := NewBuffer(0, 0)
		if err := EncodeText(b, []byte(raw)); err != nil {
			t.Fatalf("EncodeText(%q) failed: %v", raw, err)
		}
		v, next, err := DecodeScalar(b.Bytes(), 0)
		if err != nil {
			t.Fatalf("DecodeScalar(%s) failed: %v", b.Bytes(), err)
		}
		if next != b.Len() {
			t.Errorf("next = %d, want %d", next, b.Len())
		}
		if v.Kind != KindText || string(v.Text) != raw {
			t.Errorf("round trip of %q gave %+v", raw, v)
		}
	}
}

func TestValueAny(t *testing.T) {
	if got := (Value{Kind: KindText, Text: []byte("x")}).Any(); got != "x" {
		t.Errorf("Any = %v", got)
	}
	if got := (Value{Kind: KindInteger, Int: 5}).Any(); got != int64(5) {
		t.Errorf("Any = %v", got)
	}
	if got := (Value{}).Any(); got != nil {
		t.Errorf("Any = %v, want nil", got)
	}
	if got := (Value{Kind: KindReal, Real: 0.5}).String(); got != "0.5" {
		t.Errorf("String = %q", got)
	}
}

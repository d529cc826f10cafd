package batch

import (
	"math"

	"github.com/tomyedwab/sqlbatch/engine"
)

// Result is one decoded frame of a batch's output.
type Result struct {
	Kind         FrameKind
	Rows         []Row
	RowsAffected int64
	InsertID     int64
	Code         int
	Message      string
}

// Row is one row of a row-set frame.
type Row struct {
	Columns []string
	Values  []Value
}

// Err returns the engine error carried by an error frame, or nil.
func (r Result) Err() error {
	if r.Kind != FrameError {
		return nil
	}
	return &engine.Error{Code: r.Code, Message: r.Message}
}

// Columns returns the column names of the first row, or nil if there are no
// rows.
func (r Result) Columns() []string {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0].Columns
}

// ParseResults decodes the output of Session.Run. Malformed output is
// reported as a *DecodeError.
func ParseResults(out []byte) ([]Result, error) {
	p := resultParser{input: out}
	if err := p.expect('['); err != nil {
		return nil, err
	}
	var results []Result
	for {
		sentinel, err := p.readString()
		if err != nil {
			return nil, err
		}
		if sentinel == SentinelEnd {
			if err := p.expect(']'); err != nil {
				return nil, err
			}
			if p.pos != len(p.input) {
				return nil, &DecodeError{Offset: p.pos, Expected: "end of output"}
			}
			return results, nil
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		var r Result
		switch sentinel {
		case SentinelOK:
			r.Kind = FrameOK
		case SentinelChanges:
			r.Kind = FrameChanges
			if r.RowsAffected, err = p.readInt(); err != nil {
				return nil, err
			}
			if r.InsertID, err = p.readInt(); err != nil {
				return nil, err
			}
		case SentinelError:
			r.Kind = FrameError
			if _, err = p.readInt(); err != nil {
				return nil, err
			}
			code, err := p.readInt()
			if err != nil {
				return nil, err
			}
			r.Code = int(code)
			if r.Message, err = p.readString(); err != nil {
				return nil, err
			}
			if err := p.expect(','); err != nil {
				return nil, err
			}
		case SentinelRows:
			r.Kind = FrameRows
			if r.Rows, err = p.readRows(); err != nil {
				return nil, err
			}
		default:
			return nil, &DecodeError{Offset: p.pos, Expected: "frame sentinel"}
		}
		results = append(results, r)
	}
}

type resultParser struct {
	input   []byte
	pos     int
	scratch []byte
}

func (p *resultParser) expect(c byte) error {
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return &DecodeError{Offset: p.pos, Expected: "'" + string(c) + "'"}
	}
	p.pos++
	return nil
}

func (p *resultParser) readString() (string, error) {
	text, next, err := decodeText(p.input, p.pos, p.scratch[:0], false)
	if err != nil {
		return "", err
	}
	p.scratch, p.pos = text, next
	return string(text), nil
}

// readInt reads an integer followed by its ','.
func (p *resultParser) readInt() (int64, error) {
	end := tokenEnd(p.input, p.pos)
	v, err := parseNumber(p.input, p.pos, end)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindInteger {
		return 0, &DecodeError{Offset: p.pos, Expected: "integer"}
	}
	p.pos = end
	return v.Int, p.expect(',')
}

// readValue reads a column value followed by its ','.
func (p *resultParser) readValue() (Value, error) {
	if p.pos >= len(p.input) {
		return Value{}, &DecodeError{Offset: p.pos, Expected: "value"}
	}
	var v Value
	switch p.input[p.pos] {
	case '"':
		text, next, err := decodeText(p.input, p.pos, nil, false)
		if err != nil {
			return Value{}, err
		}
		v = Value{Kind: KindText, Text: text}
		p.pos = next
	case 'n':
		p.pos = tokenEnd(p.input, p.pos)
	default:
		end := tokenEnd(p.input, p.pos)
		switch string(p.input[p.pos:end]) {
		case "Inf":
			v = Value{Kind: KindReal, Real: math.Inf(1)}
		case "-Inf":
			v = Value{Kind: KindReal, Real: math.Inf(-1)}
		default:
			var err error
			if v, err = parseNumber(p.input, p.pos, end); err != nil {
				return Value{}, err
			}
		}
		p.pos = end
	}
	return v, p.expect(',')
}

func (p *resultParser) readRows() ([]Row, error) {
	var rows []Row
	for {
		if p.pos < len(p.input) && p.input[p.pos] == '"' {
			s, err := p.readString()
			if err != nil {
				return nil, err
			}
			if s != SentinelEndRows {
				return nil, &DecodeError{Offset: p.pos, Expected: "\"" + SentinelEndRows + "\""}
			}
			return rows, p.expect(',')
		}
		n, err := p.readInt()
		if err != nil {
			return nil, err
		}
		if n < 0 || n > int64(len(p.input)) {
			return nil, &DecodeError{Offset: p.pos, Expected: "column count"}
		}
		row := Row{Columns: make([]string, n), Values: make([]Value, n)}
		for i := range row.Columns {
			if row.Columns[i], err = p.readString(); err != nil {
				return nil, err
			}
			if err := p.expect(','); err != nil {
				return nil, err
			}
			if row.Values[i], err = p.readValue(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
}

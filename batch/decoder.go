package batch

import "io"

// Statement is one entry of a batch. SQL and the Text of each parameter are
// only valid until the next call to Decoder.Next or Decoder.Reset.
type Statement struct {
	Index  int
	Offset int
	SQL    []byte
	Params []Value
}

// Decoder is a single-pass cursor over a flat batch:
//
//	batch     := header statement*
//	header    := identifier ',' count
//	statement := ',' '"' sql '"' ',' pcount (',' scalar){pcount}
//
// The header's count fixes the number of statements, and each statement's
// pcount fixes how many scalars follow it. The cursor must end exactly at the
// end of the input.
type Decoder struct {
	input []byte
	pos   int
	dbID  []byte
	count int
	read  int

	sql    []byte
	arena  []byte
	params []Value
}

// NewDecoder parses the batch header of input.
func NewDecoder(input []byte) (*Decoder, error) {
	d := &Decoder{}
	if err := d.Reset(input); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset points the decoder at a new batch, keeping its scratch buffers.
func (d *Decoder) Reset(input []byte) error {
	d.input = input
	d.pos = 0
	d.dbID = d.dbID[:0]
	d.count = 0
	d.read = 0
	return d.readHeader()
}

// DatabaseID returns the identifier field of the header.
func (d *Decoder) DatabaseID() string {
	return string(d.dbID)
}

// Count returns the number of statements declared by the header.
func (d *Decoder) Count() int {
	return d.count
}

// Remaining returns the number of statements not yet returned by Next.
func (d *Decoder) Remaining() int {
	return d.count - d.read
}

// Offset returns the cursor position.
func (d *Decoder) Offset() int {
	return d.pos
}

func (d *Decoder) readHeader() error {
	if len(d.input) == 0 {
		return &DecodeError{Offset: 0, Expected: "database identifier"}
	}
	if d.input[0] == '"' {
		id, next, err := decodeText(d.input, 0, d.dbID, false)
		if err != nil {
			return err
		}
		d.dbID, d.pos = id, next
	} else {
		end := tokenEnd(d.input, 0)
		if end == 0 {
			return &DecodeError{Offset: 0, Expected: "database identifier"}
		}
		d.dbID = append(d.dbID, d.input[:end]...)
		d.pos = end
	}
	if err := d.expect(','); err != nil {
		return err
	}
	count, err := d.readCount("statement count")
	if err != nil {
		return err
	}
	d.count = count
	if count == 0 {
		return d.expectEnd()
	}
	return nil
}

func (d *Decoder) expect(c byte) error {
	if d.pos >= len(d.input) || d.input[d.pos] != c {
		return &DecodeError{Offset: d.pos, Expected: "'" + string(c) + "'"}
	}
	d.pos++
	return nil
}

func (d *Decoder) expectEnd() error {
	if d.pos != len(d.input) {
		return &DecodeError{Offset: d.pos, Expected: "end of batch"}
	}
	return nil
}

// readCount reads an unsigned decimal token up to the next ',' or the end.
func (d *Decoder) readCount(what string) (int, error) {
	start := d.pos
	end := tokenEnd(d.input, start)
	if end == start {
		return 0, &DecodeError{Offset: start, Expected: what}
	}
	n := 0
	for i := start; i < end; i++ {
		c := d.input[i]
		if c < '0' || c > '9' {
			return 0, &DecodeError{Offset: i, Expected: what}
		}
		n = n*10 + int(c-'0')
		if n > len(d.input) {
			// more entries than bytes left can never be well formed
			return 0, &DecodeError{Offset: start, Expected: what}
		}
	}
	d.pos = end
	return n, nil
}

// Next returns the next statement with all of its declared parameters
// decoded. It returns io.EOF once every declared statement has been read.
func (d *Decoder) Next() (Statement, error) {
	if d.read >= d.count {
		return Statement{}, io.EOF
	}
	if err := d.expect(','); err != nil {
		return Statement{}, err
	}
	offset := d.pos
	if d.pos >= len(d.input) || d.input[d.pos] != '"' {
		return Statement{}, &DecodeError{Offset: d.pos, Expected: "'\"' starting SQL text"}
	}
	sql, next, err := decodeText(d.input, d.pos, d.sql[:0], false)
	if err != nil {
		return Statement{}, err
	}
	d.sql, d.pos = sql, next

	if err := d.expect(','); err != nil {
		return Statement{}, err
	}
	pcount, err := d.readCount("parameter count")
	if err != nil {
		return Statement{}, err
	}

	d.params = d.params[:0]
	d.arena = d.arena[:0]
	for i := 0; i < pcount; i++ {
		if err := d.expect(','); err != nil {
			return Statement{}, err
		}
		var v Value
		v, d.arena, next, err = decodeScalar(d.input, d.pos, d.arena)
		if err != nil {
			return Statement{}, err
		}
		d.params = append(d.params, v)
		d.pos = next
	}

	d.read++
	if d.read == d.count {
		if err := d.expectEnd(); err != nil {
			return Statement{}, err
		}
	}
	return Statement{
		Index:  d.read - 1,
		Offset: offset,
		SQL:    d.sql,
		Params: d.params,
	}, nil
}

package batch

import (
	"github.com/tomyedwab/sqlbatch/engine"
)

// execute runs one statement and appends exactly one frame for it. Engine
// failures become error frames; only output buffer failures are returned.
func (s *Session) execute(w *FrameWriter, st Statement) error {
	before, err := s.conn.TotalChanges()
	if err != nil {
		return s.fail(w, st, "read change counter", err)
	}

	stmt, err := s.conn.Prepare(st.SQL)
	if err != nil {
		return s.fail(w, st, "prepare", err)
	}
	defer func() {
		if err := stmt.Finalize(); err != nil {
			s.logger.Debug("Finalize failed", "statement", st.Index, "error", err)
		}
	}()

	if err := bindParams(stmt, st.Params); err != nil {
		return s.fail(w, st, "bind", err)
	}

	mark := w.buf.mark()
	res, err := stmt.Step()
	if err != nil {
		return s.fail(w, st, "step", err)
	}

	if res == engine.StepRow {
		if err := w.BeginRows(); err != nil {
			return err
		}
		rows := 0
		for res == engine.StepRow {
			if err := writeRow(w, stmt); err != nil {
				return err
			}
			rows++
			res, err = stmt.Step()
			if err != nil {
				w.buf.rewind(mark)
				return s.fail(w, st, "step", err)
			}
		}
		s.logger.Debug("Statement returned rows", "statement", st.Index, "rows", rows)
		return w.EndRows()
	}

	after, err := s.conn.TotalChanges()
	if err != nil {
		return s.fail(w, st, "read change counter", err)
	}
	if changed := after - before; changed > 0 {
		id, err := s.conn.LastInsertRowID()
		if err != nil {
			return s.fail(w, st, "read last insert id", err)
		}
		s.logger.Debug("Statement changed rows", "statement", st.Index, "rows", changed, "insert_id", id)
		return w.Changes(changed, id)
	}
	s.logger.Debug("Statement done", "statement", st.Index)
	return w.OK()
}

func (s *Session) fail(w *FrameWriter, st Statement, op string, err error) error {
	code := engine.CodeOf(err)
	if code == engine.OK {
		code = engine.ErrorCode
	}
	s.logger.Warn("Statement failed", "statement", st.Index, "op", op, "code", code, "error", err)
	return w.Error(code, engine.MessageOf(err))
}

func bindParams(stmt engine.Stmt, params []Value) error {
	for i, p := range params {
		pos := i + 1
		var err error
		switch p.Kind {
		case KindNull:
			err = stmt.BindNull(pos)
		case KindBool:
			var n int64
			if p.Bool {
				n = 1
			}
			err = stmt.BindInt64(pos, n)
		case KindInteger:
			err = stmt.BindInt64(pos, p.Int)
		case KindReal:
			err = stmt.BindDouble(pos, p.Real)
		case KindText:
			err = stmt.BindText(pos, p.Text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeRow(w *FrameWriter, stmt engine.Stmt) error {
	n := stmt.ColumnCount()
	if err := w.BeginRow(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		typ := stmt.ColumnType(i)
		var text []byte
		if typ != engine.Null {
			text = stmt.ColumnText(i)
		}
		if err := w.Column(stmt.ColumnName(i), typ, text); err != nil {
			return err
		}
	}
	return nil
}

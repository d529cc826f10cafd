// Package sqlite3 implements engine.Conn on top of github.com/mattn/go-sqlite3,
// driving the driver-level connection directly so that one batch runs on
// exactly one SQLite connection.
//
// go-sqlite3 converts values of columns declared DATE, DATETIME, TIMESTAMP or
// BOOLEAN into time.Time and bool. Read-only statements reading such columns
// are re-prepared so that the columns become plain expressions and come back
// exactly as stored. Columns returned by a data-changing statement (RETURNING)
// are still converted.
package sqlite3

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlbatch/engine"
)

const countersSQL = "SELECT total_changes(), last_insert_rowid()"

// Conn is a single go-sqlite3 connection.
type Conn struct {
	conn     *sqlite3.SQLiteConn
	dsn      string
	counters driver.Stmt
}

// DSN builds the go-sqlite3 data source name for filename with the engine
// open flags translated into a URI mode.
func DSN(filename string, flags int) string {
	if filename == "" || filename == ":memory:" {
		return ":memory:"
	}
	mode := "rwc"
	switch {
	case flags&engine.OpenReadOnly != 0:
		mode = "ro"
	case flags&engine.OpenReadWrite != 0 && flags&engine.OpenCreate == 0:
		mode = "rw"
	}
	if !strings.HasPrefix(filename, "file:") {
		return "file:" + filename + "?mode=" + mode
	}
	if strings.Contains(filename, "mode=") {
		return filename
	}
	if strings.Contains(filename, "?") {
		return filename + "&mode=" + mode
	}
	return filename + "?mode=" + mode
}

// Open opens filename with the given engine.Open* flags.
func Open(filename string, flags int) (*Conn, error) {
	dsn := DSN(filename, flags)
	dc, err := (&sqlite3.SQLiteDriver{}).Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: open %s: %w", filename, convertError(err))
	}
	conn, ok := dc.(*sqlite3.SQLiteConn)
	if !ok {
		dc.Close()
		return nil, fmt.Errorf("sqlite3: unexpected driver connection %T", dc)
	}
	return &Conn{conn: conn, dsn: dsn}, nil
}

// Opener adapts Open to engine.Opener.
func Opener(filename string, flags int) (engine.Conn, error) {
	conn, err := Open(filename, flags)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Conn) DSN() string {
	return c.dsn
}

func (c *Conn) Prepare(sql []byte) (engine.Stmt, error) {
	stmt, err := c.conn.Prepare(string(sql))
	if err != nil {
		return nil, convertError(err)
	}
	return &Stmt{stmt: stmt, conn: c.conn, sql: string(sql)}, nil
}

func (c *Conn) readCounters() (int64, int64, error) {
	if c.counters == nil {
		stmt, err := c.conn.Prepare(countersSQL)
		if err != nil {
			return 0, 0, convertError(err)
		}
		c.counters = stmt
	}
	rows, err := query(c.counters, nil)
	if err != nil {
		return 0, 0, convertError(err)
	}
	defer rows.Close()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		return 0, 0, convertError(err)
	}
	total, _ := dest[0].(int64)
	last, _ := dest[1].(int64)
	return total, last, nil
}

func (c *Conn) TotalChanges() (int64, error) {
	total, _, err := c.readCounters()
	return total, err
}

func (c *Conn) LastInsertRowID() (int64, error) {
	_, last, err := c.readCounters()
	return last, err
}

func (c *Conn) Close() error {
	if c.counters != nil {
		c.counters.Close()
		c.counters = nil
	}
	return convertError(c.conn.Close())
}

func query(stmt driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if qc, ok := stmt.(driver.StmtQueryContext); ok {
		return qc.QueryContext(context.Background(), args)
	}
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	return stmt.Query(values)
}

// convertedTypes are the declared column types whose values go-sqlite3
// rewrites while reading a row.
var convertedTypes = map[string]bool{
	"date":      true,
	"datetime":  true,
	"timestamp": true,
	"boolean":   true,
}

func convertsValues(declTypes []string) bool {
	for _, t := range declTypes {
		if convertedTypes[t] {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// plainSelect wraps a SELECT so that every result column is an expression,
// which has no declared type, while keeping the original column names.
func plainSelect(sql string, cols []string) string {
	var b strings.Builder
	b.WriteString("WITH sqlbatch_plain(")
	for i := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "c%d", i)
	}
	b.WriteString(") AS (\n")
	b.WriteString(strings.TrimRight(sql, "; \t\r\n"))
	b.WriteString("\n) SELECT ")
	for i, name := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "+c%d AS %s", i, quoteIdent(name))
	}
	b.WriteString(" FROM sqlbatch_plain")
	return b.String()
}

// Stmt collects bound parameters and executes on the first Step.
type Stmt struct {
	stmt  driver.Stmt
	conn  *sqlite3.SQLiteConn
	sql   string
	plain driver.Stmt // Replaces stmt for reading when set
	args  []driver.NamedValue
	rows  driver.Rows
	cols  []string
	dest  []driver.Value
}

func (s *Stmt) bind(pos int, v driver.Value) error {
	if n := s.stmt.NumInput(); pos < 1 || (n >= 0 && pos > n) {
		return &engine.Error{Code: engine.Range, Message: "bind or column index out of range"}
	}
	for len(s.args) < pos {
		s.args = append(s.args, driver.NamedValue{Ordinal: len(s.args) + 1})
	}
	s.args[pos-1].Value = v
	return nil
}

func (s *Stmt) BindNull(pos int) error {
	return s.bind(pos, nil)
}

func (s *Stmt) BindInt64(pos int, v int64) error {
	return s.bind(pos, v)
}

func (s *Stmt) BindDouble(pos int, v float64) error {
	return s.bind(pos, v)
}

func (s *Stmt) BindText(pos int, v []byte) error {
	return s.bind(pos, string(v))
}

// open starts the statement. Nothing has been stepped when it returns, so a
// read-only statement can still be swapped for its plainSelect form.
func (s *Stmt) open() (driver.Rows, error) {
	rows, err := query(s.stmt, s.args)
	if err != nil {
		return nil, err
	}
	sqliteRows, ok := rows.(*sqlite3.SQLiteRows)
	if !ok || !convertsValues(sqliteRows.DeclTypes()) {
		return rows, nil
	}
	if stmt, ok := s.stmt.(*sqlite3.SQLiteStmt); !ok || !stmt.Readonly() || s.conn == nil {
		return rows, nil
	}
	plain, err := s.conn.Prepare(plainSelect(s.sql, rows.Columns()))
	if err != nil {
		// not wrappable, e.g. more than one statement in the text
		return rows, nil
	}
	plainRows, err := query(plain, s.args)
	if err != nil {
		plain.Close()
		return rows, nil
	}
	rows.Close()
	s.plain = plain
	return plainRows, nil
}

func (s *Stmt) Step() (engine.StepResult, error) {
	if s.rows == nil {
		rows, err := s.open()
		if err != nil {
			return 0, convertError(err)
		}
		s.rows = rows
		s.cols = rows.Columns()
		s.dest = make([]driver.Value, len(s.cols))
	}
	err := s.rows.Next(s.dest)
	if err == io.EOF {
		return engine.StepDone, nil
	}
	if err != nil {
		return 0, convertError(err)
	}
	if len(s.cols) == 0 {
		// statements without result columns never produce rows; go-sqlite3
		// reports nil here for an empty statement
		return engine.StepDone, nil
	}
	return engine.StepRow, nil
}

func (s *Stmt) ColumnCount() int {
	return len(s.cols)
}

func (s *Stmt) ColumnName(i int) string {
	if i < 0 || i >= len(s.cols) {
		return ""
	}
	return s.cols[i]
}

func (s *Stmt) ColumnType(i int) engine.ColumnType {
	if i < 0 || i >= len(s.dest) {
		return engine.Null
	}
	switch s.dest[i].(type) {
	case int64, bool:
		return engine.Integer
	case float64:
		return engine.Float
	case string, time.Time:
		return engine.Text
	case []byte:
		return engine.Blob
	}
	return engine.Null
}

// ColumnText renders the current value the way sqlite3_column_text does.
func (s *Stmt) ColumnText(i int) []byte {
	if i < 0 || i >= len(s.dest) {
		return nil
	}
	switch v := s.dest[i].(type) {
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case bool:
		if v {
			return []byte{'1'}
		}
		return []byte{'0'}
	case float64:
		return FormatReal(v)
	case string:
		return []byte(v)
	case []byte:
		return v
	case time.Time:
		return []byte(v.Format(sqlite3.SQLiteTimestampFormats[0]))
	}
	return nil
}

func (s *Stmt) Finalize() error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	if s.plain != nil {
		if cerr := s.plain.Close(); err == nil {
			err = cerr
		}
		s.plain = nil
	}
	if cerr := s.stmt.Close(); err == nil {
		err = cerr
	}
	return convertError(err)
}

// FormatReal renders f like SQLite's "%!.15g": fifteen significant digits and
// always a decimal point.
func FormatReal(f float64) []byte {
	switch {
	case math.IsInf(f, 1):
		return []byte("Inf")
	case math.IsInf(f, -1):
		return []byte("-Inf")
	}
	b := strconv.AppendFloat(nil, f, 'g', 15, 64)
	exp := -1
	for i, c := range b {
		switch c {
		case '.':
			return b
		case 'e':
			exp = i
		case 'N':
			return b
		}
	}
	if exp < 0 {
		return append(b, '.', '0')
	}
	out := make([]byte, 0, len(b)+2)
	out = append(out, b[:exp]...)
	out = append(out, '.', '0')
	return append(out, b[exp:]...)
}

func convertError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return &engine.Error{Code: int(sqliteErr.Code), Message: sqliteErr.Error()}
	}
	return err
}

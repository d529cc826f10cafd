package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"

	"github.com/tomyedwab/sqlbatch/batch"
)

// CallHost sends an encoded batch to the host and returns the encoded
// results. It must be set before any database operations.
var CallHost func(batchPayload []byte) (resultPayload []byte, err error)

// SetHostHandler sets the function used to ship batches to the host.
func SetHostHandler(handler func(batchPayload []byte) (resultPayload []byte, err error)) {
	CallHost = handler
}

const driverName = "sqlbatch"

func init() {
	sql.Register(driverName, &Driver{})
}

// --- Driver implementation ---

// Driver is the database/sql driver for the batch protocol.
type Driver struct{}

// Open returns a new connection. name is sent as the database identifier
// of every batch.
func (d *Driver) Open(name string) (driver.Conn, error) {
	if CallHost == nil {
		return nil, fmt.Errorf("sqlbatch: CallHost function is not set")
	}
	return &Conn{dbID: name}, nil
}

// --- Connection implementation ---

// Conn implements driver.Conn. Statements are not prepared on the host;
// each execution ships its SQL text in a one-statement batch.
type Conn struct {
	dbID string
	inTx bool
}

// Statement is one entry of a batch sent with ExecBatch.
type Statement struct {
	SQL  string
	Args []any
}

func (c *Conn) roundTrip(b *batch.Builder) ([]batch.Result, error) {
	resp, err := CallHost(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sqlbatch: CallHost failed: %w", err)
	}
	results, err := batch.ParseResults(resp)
	if err != nil {
		return nil, fmt.Errorf("sqlbatch: failed to parse host response: %w", err)
	}
	if len(results) != b.Len() {
		return nil, fmt.Errorf("sqlbatch: host returned %d results for %d statements", len(results), b.Len())
	}
	return results, nil
}

func (c *Conn) runOne(query string, args []driver.Value) (batch.Result, error) {
	b := batch.NewBuilder(c.dbID)
	values := make([]any, len(args))
	for i, v := range args {
		values[i] = v
	}
	if err := b.Add(query, values...); err != nil {
		return batch.Result{}, fmt.Errorf("sqlbatch: %w", err)
	}
	results, err := c.roundTrip(b)
	if err != nil {
		return batch.Result{}, err
	}
	if err := results[0].Err(); err != nil {
		return batch.Result{}, err
	}
	return results[0], nil
}

// ExecBatch runs all statements in one round trip. Engine errors are
// reported per statement through Result.Err.
func (c *Conn) ExecBatch(stmts []Statement) ([]batch.Result, error) {
	b := batch.NewBuilder(c.dbID)
	for _, st := range stmts {
		if err := b.Add(st.SQL, st.Args...); err != nil {
			return nil, fmt.Errorf("sqlbatch: %w", err)
		}
	}
	return c.roundTrip(b)
}

// Prepare returns a statement bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close is a no-op; the host owns the database.
func (c *Conn) Close() error {
	return nil
}

// Begin starts a transaction with BEGIN.
func (c *Conn) Begin() (driver.Tx, error) {
	if c.inTx {
		return nil, fmt.Errorf("sqlbatch: transaction already active on this connection")
	}
	if _, err := c.runOne("BEGIN", nil); err != nil {
		return nil, err
	}
	c.inTx = true
	return &Tx{conn: c}, nil
}

// ExecBatch runs stmts in one round trip on a connection of db.
func ExecBatch(ctx context.Context, db *sql.DB, stmts ...Statement) ([]batch.Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var results []batch.Result
	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*Conn)
		if !ok {
			return fmt.Errorf("sqlbatch: not a sqlbatch connection: %T", driverConn)
		}
		var err error
		results, err = c.ExecBatch(stmts)
		return err
	})
	return results, err
}

// --- Statement implementation ---

// Stmt implements driver.Stmt.
type Stmt struct {
	conn  *Conn
	query string
}

func (s *Stmt) Close() error {
	return nil
}

// NumInput returns -1; the host validates the parameter count.
func (s *Stmt) NumInput() int {
	return -1
}

// Exec executes the statement and returns its row count and insert id.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	r, err := s.conn.runOne(s.query, args)
	if err != nil {
		return nil, err
	}
	return &batchResult{lastInsertID: r.InsertID, rowsAffected: r.RowsAffected}, nil
}

// Query executes the statement and returns its rows. A statement that
// produced no rows reports no columns.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	r, err := s.conn.runOne(s.query, args)
	if err != nil {
		return nil, err
	}
	return &batchRows{columns: r.Columns(), data: r.Rows}, nil
}

// --- Transaction implementation ---

// Tx implements driver.Tx.
type Tx struct {
	conn *Conn
	done bool
}

func (t *Tx) finish(query string) error {
	if t.done {
		return fmt.Errorf("sqlbatch: transaction already committed or rolled back")
	}
	t.done = true
	t.conn.inTx = false
	_, err := t.conn.runOne(query, nil)
	return err
}

// Commit runs COMMIT.
func (t *Tx) Commit() error {
	return t.finish("COMMIT")
}

// Rollback runs ROLLBACK.
func (t *Tx) Rollback() error {
	return t.finish("ROLLBACK")
}

// --- Result implementation ---

type batchResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r *batchResult) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

func (r *batchResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

type batchRows struct {
	columns         []string
	data            []batch.Row
	currentRowIndex int
}

func (r *batchRows) Columns() []string {
	return r.columns
}

func (r *batchRows) Close() error {
	r.data = nil
	r.currentRowIndex = 0
	return nil
}

func (r *batchRows) Next(dest []driver.Value) error {
	if r.currentRowIndex >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.currentRowIndex]
	if len(row.Values) != len(dest) {
		return fmt.Errorf("sqlbatch: column count mismatch. Expected %d, got %d", len(dest), len(row.Values))
	}
	for i, v := range row.Values {
		dest[i] = v.Any()
	}
	r.currentRowIndex++
	return nil
}

// Package engine describes the embedded database primitives the batch
// executor drives: open a connection, prepare a statement, bind positional
// parameters, step it to completion, read columns and finalize it.
//
// The constants mirror SQLite's so that codes can cross a foreign boundary
// unchanged.
package engine

import (
	"errors"
	"fmt"
)

// Result codes.
const (
	OK        = 0
	ErrorCode = 1
	Misuse    = 21
	Range     = 25
	Row       = 100
	Done      = 101
)

// Open flags accepted by engine openers.
const (
	OpenReadOnly  = 0x1
	OpenReadWrite = 0x2
	OpenCreate    = 0x4
)

// StepResult is the outcome of a successful Step.
type StepResult int

const (
	StepRow  StepResult = Row
	StepDone StepResult = Done
)

// ColumnType is the storage class of a column value in the current row.
type ColumnType int

const (
	Integer ColumnType = 1
	Float   ColumnType = 2
	Text    ColumnType = 3
	Blob    ColumnType = 4
	Null    ColumnType = 5
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Text:
		return "text"
	case Blob:
		return "blob"
	case Null:
		return "null"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Conn is a single database connection. Implementations are not safe for
// concurrent use.
type Conn interface {
	Prepare(sql []byte) (Stmt, error)
	// TotalChanges returns the cumulative number of rows changed by
	// statements on this connection since it was opened.
	TotalChanges() (int64, error)
	LastInsertRowID() (int64, error)
	Close() error
}

// Stmt is a prepared statement. Positions passed to the Bind methods are
// 1-based. Column indices are 0-based and only valid after Step returned
// StepRow.
type Stmt interface {
	BindNull(pos int) error
	BindInt64(pos int, v int64) error
	BindDouble(pos int, v float64) error
	BindText(pos int, v []byte) error
	Step() (StepResult, error)
	ColumnCount() int
	ColumnName(i int) string
	ColumnType(i int) ColumnType
	ColumnText(i int) []byte
	Finalize() error
}

// Error is a failure reported by the engine.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine error %d", e.Code)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// CodeOf extracts the engine result code from err. Errors that did not come
// from an engine report ErrorCode; a nil error reports OK.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ErrorCode
}

// MessageOf returns the engine message of err, or err.Error() for foreign
// errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Message
	}
	return err.Error()
}

// Opener opens a connection. flags is a combination of the Open* constants.
type Opener func(filename string, flags int) (Conn, error)

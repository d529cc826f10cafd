package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeAndMessage(t *testing.T) {
	engineErr := &Error{Code: 19, Message: "UNIQUE constraint failed: t.id"}
	wrapped := fmt.Errorf("insert: %w", engineErr)
	foreign := errors.New("connection reset")

	tests := []struct {
		err     error
		code    int
		message string
	}{
		{nil, OK, ""},
		{engineErr, 19, "UNIQUE constraint failed: t.id"},
		{wrapped, 19, "UNIQUE constraint failed: t.id"},
		{foreign, ErrorCode, "connection reset"},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.code {
			t.Errorf("CodeOf(%v) = %d, want %d", tt.err, got, tt.code)
		}
		if got := MessageOf(tt.err); got != tt.message {
			t.Errorf("MessageOf(%v) = %q, want %q", tt.err, got, tt.message)
		}
	}
	if got := engineErr.Error(); got != "engine error 19: UNIQUE constraint failed: t.id" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&Error{Code: 5}).Error(); got != "engine error 5" {
		t.Errorf("Error() = %q", got)
	}
}

func TestColumnTypeString(t *testing.T) {
	if Integer.String() != "integer" || Null.String() != "null" || ColumnType(9).String() != "ColumnType(9)" {
		t.Errorf("unexpected ColumnType strings")
	}
}

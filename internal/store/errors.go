package store

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// maxQueryText bounds how much statement text a StatementError retains.
const maxQueryText = 10000

var (
	// ErrNoTransaction is returned by End on a Handle with no open transaction.
	ErrNoTransaction = errors.New("store: no open transaction")

	// ErrEngineTimeout is returned when the engine does not acknowledge a
	// transaction boundary within its timeout.
	ErrEngineTimeout = errors.New("store: engine did not acknowledge transaction boundary")
)

// StatementError reports a failed driver call together with the statement
// that caused it and the stack of the goroutine that issued it.
type StatementError struct {
	Query string // truncated to maxQueryText bytes
	Args  []any
	Stack []byte
	Err   error
}

func newStatementError(query string, args []any, err error) *StatementError {
	if len(query) > maxQueryText {
		query = query[:maxQueryText]
	}
	return &StatementError{
		Query: query,
		Args:  args,
		Stack: debug.Stack(),
		Err:   err,
	}
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("sql %q with args %v: %v", e.Query, e.Args, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

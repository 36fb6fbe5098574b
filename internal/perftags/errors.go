package perftags

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for commands issued after the engine has exited.
	ErrClosed = errors.New("perftags: engine closed")

	// ErrBadCommand is returned when the engine rejects a command keyword.
	ErrBadCommand = errors.New("perftags: engine rejected command")
)

// ExitError describes an engine exit nobody asked for.
// It is the argument passed to the fatal handler.
type ExitError struct {
	// Err is the result of waiting on the process; nil for a zero exit status.
	Err error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("perftags: engine exited before close was called: %v", e.Err)
	}
	return "perftags: engine exited before close was called"
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

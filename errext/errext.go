// Package errext contains extensions for normal Go errors that are used by
// the gcbridge command: user hints and process exit codes.
package errext

import (
	"errors"

	"github.com/liuxd6825/gcbridge/errext/exitcodes"
)

// HasHint is an error with an attached, human-readable suggestion on how it
// can be fixed.
type HasHint interface {
	error
	Hint() string
}

// HasExitCode is an error with the exit code the process should use if the
// error bubbles up to the top of the command.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithHint attaches hint to err. A nil err stays nil. When err already
// carried a hint, the result reads "new hint (old hint)".
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

// WithExitCodeIfNone attaches exitCode to err unless some error in its chain
// already carries one.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error {
	return wh.error
}

func (wh withHint) Hint() string {
	var prev HasHint
	if errors.As(wh.error, &prev) {
		return wh.hint + " (" + prev.Hint() + ")"
	}
	return wh.hint
}

type withExitCode struct {
	error
	exitCode exitcodes.ExitCode
}

func (we withExitCode) Unwrap() error {
	return we.error
}

func (we withExitCode) ExitCode() exitcodes.ExitCode {
	return we.exitCode
}

var (
	_ HasHint     = withHint{}
	_ HasExitCode = withExitCode{}
)

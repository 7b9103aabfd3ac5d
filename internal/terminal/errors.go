package terminal

import "errors"

// Sentinel errors for the terminal package.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("terminal already started")

	// ErrNotRunning is returned when an operation needs a running shell.
	ErrNotRunning = errors.New("terminal is not running")

	// ErrDestroyed is returned for operations on a destroyed terminal.
	ErrDestroyed = errors.New("terminal is destroyed")

	// ErrShellNotFound is returned when the shell executable does not exist.
	ErrShellNotFound = errors.New("shell not found")

	// ErrInvalidControlChar is returned for control characters outside A-Z.
	ErrInvalidControlChar = errors.New("control character must be a single letter A-Z")

	// ErrInvalidSize is returned for non-positive terminal dimensions.
	ErrInvalidSize = errors.New("invalid terminal size")

	// ErrNotReady is returned when the shell prompt never appeared.
	ErrNotReady = errors.New("terminal never became ready")
)

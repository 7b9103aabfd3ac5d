package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for the process package.
var (
	// ErrManagerShutdown is returned when starting a process after shutdown began.
	ErrManagerShutdown = errors.New("process manager is shutting down")

	// ErrProcessNotFound is returned when a pid is not tracked by the manager.
	ErrProcessNotFound = errors.New("process not found")

	// ErrNotStarted is returned when adopting a command that was never started.
	ErrNotStarted = errors.New("command has not been started")
)

// SpawnError reports an OS-level failure to create a process.
// It carries the command and arguments for diagnostics.
type SpawnError struct {
	Command string
	Args    []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s %v: %v", e.Command, e.Args, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

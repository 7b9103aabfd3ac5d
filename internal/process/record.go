package process

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a tracked process.
type Status int32

const (
	// StatusRunning indicates the process is alive.
	StatusRunning Status = iota
	// StatusExited indicates a natural exit.
	StatusExited
	// StatusKilled indicates the process exited because of a signal.
	StatusKilled
	// StatusTerminated indicates a spawn or runtime error ended the process.
	StatusTerminated
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	case StatusKilled:
		return "killed"
	case StatusTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Record tracks one spawned OS process. Records are retained after the
// process terminates so callers can query history; pruning old records is
// the caller's responsibility (see Manager.Remove).
type Record struct {
	// PID is the OS process id.
	PID int

	// PGID is the process group id. Every process is spawned detached in
	// its own group, so PGID always equals PID.
	PGID int

	// Command is the executable that was spawned.
	Command string

	// Args are the arguments the process was spawned with.
	Args []string

	// StartTime is when the process was started.
	StartTime time.Time

	status   atomic.Int32
	exitCode atomic.Int32

	// done is closed when the reaper collects the exit status.
	done chan struct{}
}

func newRecord(pid int, command string, args []string) *Record {
	r := &Record{
		PID:       pid,
		PGID:      pid,
		Command:   command,
		Args:      args,
		StartTime: time.Now(),
		done:      make(chan struct{}),
	}
	r.status.Store(int32(StatusRunning))
	r.exitCode.Store(-1)
	return r
}

// Status returns the current lifecycle state.
func (r *Record) Status() Status {
	return Status(r.status.Load())
}

// ExitCode returns the collected exit code, or -1 while running.
func (r *Record) ExitCode() int {
	return int(r.exitCode.Load())
}

// IsRunning reports whether the process is still alive.
func (r *Record) IsRunning() bool {
	return r.Status() == StatusRunning
}

// Done returns a channel closed when the process has been reaped.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// Runtime returns how long the process has been (or was) running.
func (r *Record) Runtime() time.Duration {
	if r.StartTime.IsZero() {
		return 0
	}
	return time.Since(r.StartTime)
}

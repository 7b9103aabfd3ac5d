package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/waiter"
)

// Default timing for shutdown escalation.
const (
	DefaultShutdownTimeout = 5 * time.Second
	shutdownPollInterval   = 100 * time.Millisecond
)

// Event topics emitted by the manager.
const (
	TopicStarted = "process.started"
	TopicExited  = "process.exited"
	TopicKilled  = "process.killed"
	TopicCleanup = "process.cleanup"
	TopicError   = "process.error"
)

// StartOptions configures a spawned process.
type StartOptions struct {
	// Dir is the working directory.
	Dir string

	// Env is the environment; nil inherits the parent environment.
	Env []string
}

// Manager owns a set of spawned OS processes.
//
// Every process is spawned detached in its own process group so signals can
// be delivered to the whole group. A reaping goroutine per process collects
// exit statuses, preventing zombies. Manager is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	records map[int]*Record
	cmds    map[int]*exec.Cmd

	registry *Registry
	emitter  *event.Emitter

	shuttingDown atomic.Bool
	destroyed    atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter routes the manager's events through a shared emitter.
func WithEmitter(e *event.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// NewManager creates a manager registered with the given registry.
// The registry may be nil when last-resort reaping is handled elsewhere.
func NewManager(registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		records:  make(map[int]*Record),
		cmds:     make(map[int]*exec.Cmd),
		registry: registry,
		emitter:  event.NewEmitter(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the emitter carrying the manager's lifecycle events.
func (m *Manager) Events() *event.Emitter {
	return m.emitter
}

// Start spawns command in its own process group and tracks it.
//
// Spawn failures are returned as a *SpawnError and also emitted on the
// "process.error" topic, so both call-site and observer consumers see them.
// Returns ErrManagerShutdown once Shutdown or Destroy has begun.
func (m *Manager) Start(ctx context.Context, command string, args []string, opts StartOptions) (*Record, error) {
	if m.shuttingDown.Load() {
		return nil, ErrManagerShutdown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		spawnErr := &SpawnError{Command: command, Args: args, Err: err}
		m.emitter.Emit(TopicError, event.Payload{
			"command": command,
			"args":    args,
			"error":   spawnErr.Error(),
		})
		return nil, spawnErr
	}

	return m.track(cmd, command, args, cmd.Process.Pid)
}

// Adopt tracks a command that was started outside the manager, such as a
// shell spawned under a PTY. The command must already be started.
func (m *Manager) Adopt(cmd *exec.Cmd, command string, args []string) (*Record, error) {
	if m.shuttingDown.Load() {
		return nil, ErrManagerShutdown
	}
	if cmd == nil || cmd.Process == nil {
		return nil, ErrNotStarted
	}
	return m.track(cmd, command, args, cmd.Process.Pid)
}

func (m *Manager) track(cmd *exec.Cmd, command string, args []string, pid int) (*Record, error) {
	rec := newRecord(pid, command, args)
	if pgid, err := syscall.Getpgid(pid); err == nil {
		rec.PGID = pgid
	}

	m.mu.Lock()
	m.records[pid] = rec
	m.cmds[pid] = cmd
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.add(pid, rec.PGID)
	}

	go m.reap(rec, cmd)

	m.emitter.Emit(TopicStarted, event.Payload{
		"pid":     rec.PID,
		"pgid":    rec.PGID,
		"command": command,
		"args":    args,
	})

	return rec, nil
}

// reap collects the process exit status and finalizes the record.
// The final status comes from the OS, not from signal bookkeeping: a process
// that traps SIGTERM and exits normally later is recorded as exited.
func (m *Manager) reap(rec *Record, cmd *exec.Cmd) {
	err := cmd.Wait()

	status := StatusExited
	exitCode := 0
	if err != nil {
		exitCode = -1
		status = StatusTerminated
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			status = StatusExited
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status = StatusKilled
			}
		}
	}

	rec.exitCode.Store(int32(exitCode))
	rec.status.Store(int32(status))
	close(rec.done)

	if m.registry != nil {
		m.registry.remove(rec.PID)
	}

	m.mu.Lock()
	delete(m.cmds, rec.PID)
	m.mu.Unlock()

	m.emitter.Emit(TopicExited, event.Payload{
		"pid":      rec.PID,
		"status":   status.String(),
		"exitCode": exitCode,
	})
}

// Kill delivers sig to the whole process group of pid.
//
// Returns false for unknown or already-terminated pids; that is not an
// error. Delivery failure to a group that just vanished is benign.
func (m *Manager) Kill(pid int, sig syscall.Signal) bool {
	rec := m.Get(pid)
	if rec == nil || !rec.IsRunning() {
		return false
	}

	// Negative pid targets the group, reaching children of the tracked
	// process (a shell running background jobs, for example).
	_ = syscall.Kill(-rec.PGID, sig)

	m.emitter.Emit(TopicKilled, event.Payload{
		"pid":    rec.PID,
		"pgid":   rec.PGID,
		"signal": sig.String(),
	})
	return true
}

// KillAll delivers sig to every running process group.
func (m *Manager) KillAll(sig syscall.Signal) int {
	count := 0
	for _, rec := range m.RunningProcesses() {
		if m.Kill(rec.PID, sig) {
			count++
		}
	}
	return count
}

// Shutdown terminates all tracked processes with SIGTERM→SIGKILL escalation.
//
// SIGTERM is sent to every running group, then the manager polls every 100ms
// for up to half the timeout; survivors get SIGKILL and the remaining half.
// Shutdown never fails and is idempotent; after it begins, Start rejects.
// The "process.cleanup" event carries the count of processes that left the
// running state during the call.
func (m *Manager) Shutdown(ctx context.Context, timeout time.Duration) {
	if m.shuttingDown.Swap(true) {
		return
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	before := m.RunningProcesses()
	if len(before) == 0 {
		m.emitter.Emit(TopicCleanup, event.Payload{"cleaned": 0})
		return
	}

	for _, rec := range before {
		_ = syscall.Kill(-rec.PGID, syscall.SIGTERM)
	}
	m.pollUntilDrained(ctx, timeout/2)

	if survivors := m.RunningProcesses(); len(survivors) > 0 {
		for _, rec := range survivors {
			_ = syscall.Kill(-rec.PGID, syscall.SIGKILL)
		}
		m.pollUntilDrained(ctx, timeout/2)
	}

	cleaned := 0
	for _, rec := range before {
		if !rec.IsRunning() {
			cleaned++
		}
	}
	m.emitter.Emit(TopicCleanup, event.Payload{"cleaned": cleaned})
}

func (m *Manager) pollUntilDrained(ctx context.Context, budget time.Duration) {
	waiter.WaitForCondition(ctx, func(context.Context) (any, error) {
		return len(m.RunningProcesses()) == 0, nil
	}, waiter.Options{
		Timeout:      budget,
		InitialDelay: shutdownPollInterval,
		MaxDelay:     shutdownPollInterval,
		Jitter:       -1,
	})
}

// Destroy shuts the manager down and detaches it from the registry.
// It is idempotent and never fails.
func (m *Manager) Destroy() {
	m.Shutdown(context.Background(), DefaultShutdownTimeout)
	if m.destroyed.Swap(true) {
		return
	}
	if m.registry != nil {
		m.mu.RLock()
		pids := make([]int, 0, len(m.records))
		for pid := range m.records {
			pids = append(pids, pid)
		}
		m.mu.RUnlock()
		for _, pid := range pids {
			m.registry.remove(pid)
		}
	}
}

// Get returns the record for pid, or nil when untracked.
func (m *Manager) Get(pid int) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[pid]
}

// IsRunning reports whether pid is tracked and still alive.
func (m *Manager) IsRunning(pid int) bool {
	rec := m.Get(pid)
	return rec != nil && rec.IsRunning()
}

// Processes returns every tracked record, including terminated ones.
func (m *Manager) Processes() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// RunningProcesses returns the records still in the running state.
func (m *Manager) RunningProcesses() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.IsRunning() {
			out = append(out, rec)
		}
	}
	return out
}

// Remove prunes a terminated record from history.
// Running processes cannot be removed; returns false for them and for
// unknown pids. Records are never pruned automatically.
func (m *Manager) Remove(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pid]
	if !ok || rec.IsRunning() {
		return false
	}
	delete(m.records, pid)
	return true
}

// WaitForProcess blocks until pid terminates or the timeout elapses.
// Returns the exit code on success.
func (m *Manager) WaitForProcess(ctx context.Context, pid int, timeout time.Duration) (int, error) {
	rec := m.Get(pid)
	if rec == nil {
		return -1, ErrProcessNotFound
	}

	res := waiter.WaitForProcessExit(ctx, rec.IsRunning, waiter.Options{
		Timeout:      timeout,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     shutdownPollInterval,
	})
	if !res.Success {
		return -1, &TimeoutError{PID: pid, Timeout: timeout}
	}
	return rec.ExitCode(), nil
}

// TimeoutError reports that a process did not terminate within the budget.
type TimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for process %d", e.Timeout, e.PID)
}

package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/process"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/waiter"
)

// State is the terminal lifecycle state.
type State int32

const (
	// StateNotStarted indicates Start has not been called.
	StateNotStarted State = iota
	// StateRunning indicates the shell is live under its PTY.
	StateRunning
	// StateDestroyed is terminal; a destroyed terminal cannot restart.
	StateDestroyed
)

// Event topics emitted by a terminal.
const (
	TopicData      = "terminal.data"
	TopicReady     = "terminal.ready"
	TopicExit      = "terminal.exit"
	TopicDestroyed = "terminal.destroyed"
)

// DefaultPromptPattern matches common interactive shell prompts at the end
// of a line: "$", "#", ">", "%" optionally followed by whitespace.
var DefaultPromptPattern = regexp.MustCompile(`[$#>%]\s*$`)

// Defaults for Options.
const (
	DefaultCols          = 80
	DefaultRows          = 24
	DefaultMaxOutputSize = 10 << 20 // 10 MiB
	DefaultReadyTimeout  = 5 * time.Second
	DefaultExecTimeout   = 10 * time.Second
	destroyTimeout       = 2 * time.Second
)

// Options configures a Terminal.
type Options struct {
	// Shell is the shell executable (defaults to $SHELL or /bin/sh).
	Shell string

	// Args are extra shell arguments.
	Args []string

	// Env are additional environment variables in KEY=VALUE form.
	Env []string

	// WorkDir is the shell working directory.
	WorkDir string

	// Cols and Rows set the initial PTY size.
	Cols, Rows int

	// PromptPattern overrides the default shell prompt detection.
	PromptPattern *regexp.Regexp

	// MaxOutputSize bounds the output buffer; the oldest output is dropped
	// once the bound is exceeded.
	MaxOutputSize int

	// ReadyTimeout bounds the wait for the first prompt. Zero uses the
	// default; negative skips readiness detection entirely.
	ReadyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = os.Getenv("SHELL")
		if o.Shell == "" {
			o.Shell = "/bin/sh"
		}
	}
	if o.Cols <= 0 {
		o.Cols = DefaultCols
	}
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	if o.PromptPattern == nil {
		o.PromptPattern = DefaultPromptPattern
	}
	if o.MaxOutputSize <= 0 {
		o.MaxOutputSize = DefaultMaxOutputSize
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	return o
}

// ExecOptions configures a single command execution.
type ExecOptions struct {
	// Timeout bounds the wait for command completion.
	Timeout time.Duration

	// ExpectedOutput, when set, completes the command once the new output
	// segment contains this substring.
	ExpectedOutput string

	// ExpectedPattern, when set, completes the command once the new output
	// segment matches. Takes precedence over ExpectedOutput.
	ExpectedPattern *regexp.Regexp
}

// Terminal owns one PTY-backed shell process.
// It is safe for concurrent use, though command execution is expected to be
// serialized by the caller (the pool enforces exclusive checkout).
type Terminal struct {
	id      string
	opts    Options
	manager *process.Manager
	emitter *event.Emitter

	mu       sync.Mutex // guards ptmx, cmd, record, output
	ptmx     *os.File
	cmd      *exec.Cmd
	record   *process.Record
	output   []byte
	readDone chan struct{}

	state atomic.Int32
	subs  []*event.Subscription
}

// New creates an unstarted terminal bound to a process manager.
// The manager must not be nil; its emitter carries the terminal's events.
func New(manager *process.Manager, opts Options) *Terminal {
	return &Terminal{
		id:      uuid.New().String(),
		opts:    opts.withDefaults(),
		manager: manager,
		emitter: manager.Events(),
	}
}

// ID returns the terminal's unique identifier.
func (t *Terminal) ID() string {
	return t.id
}

// State returns the lifecycle state.
func (t *Terminal) State() State {
	return State(t.state.Load())
}

// IsRunning reports whether the shell process is live.
func (t *Terminal) IsRunning() bool {
	if t.State() != StateRunning {
		return false
	}
	t.mu.Lock()
	rec := t.record
	t.mu.Unlock()
	return rec != nil && rec.IsRunning()
}

// Start spawns the shell under a PTY and waits for the first prompt.
// It fails if called twice or after Destroy.
func (t *Terminal) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		if t.State() == StateDestroyed {
			return ErrDestroyed
		}
		return ErrAlreadyStarted
	}

	if _, err := exec.LookPath(t.opts.Shell); err != nil {
		t.state.Store(int32(StateNotStarted))
		return fmt.Errorf("%w: %s", ErrShellNotFound, t.opts.Shell)
	}

	cmd := exec.Command(t.opts.Shell, t.opts.Args...)
	cmd.Dir = t.opts.WorkDir
	cmd.Env = append(os.Environ(), t.opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(t.opts.Cols),
		Rows: uint16(t.opts.Rows),
	})
	if err != nil {
		t.state.Store(int32(StateNotStarted))
		return fmt.Errorf("start PTY shell: %w", err)
	}

	rec, err := t.manager.Adopt(cmd, t.opts.Shell, t.opts.Args)
	if err != nil {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		t.state.Store(int32(StateNotStarted))
		return fmt.Errorf("track PTY shell: %w", err)
	}

	readDone := make(chan struct{})
	t.mu.Lock()
	t.ptmx = ptmx
	t.cmd = cmd
	t.record = rec
	t.readDone = readDone
	t.mu.Unlock()

	// Relay the shell's exit through the terminal topic so consumers do
	// not need to correlate pids themselves.
	sub := t.emitter.Subscribe(process.TopicExited, func(_ string, p event.Payload) {
		if pid, ok := p["pid"].(int); ok && pid == rec.PID {
			t.emitter.Emit(TopicExit, event.Payload{
				"id":       t.id,
				"pid":      pid,
				"exitCode": p["exitCode"],
			})
		}
	})
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	go t.readLoop(ptmx, readDone)

	if t.opts.ReadyTimeout > 0 {
		res := waiter.WaitForTerminalReady(ctx, t.GetOutput, t.opts.PromptPattern, waiter.Options{
			Timeout:      t.opts.ReadyTimeout,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
		})
		if !res.Success {
			_ = t.Destroy()
			return fmt.Errorf("%w after %s", ErrNotReady, t.opts.ReadyTimeout)
		}
	}

	t.emitter.Emit(TopicReady, event.Payload{"id": t.id, "pid": rec.PID})
	return nil
}

// readLoop drains the PTY into the output buffer until the PTY closes.
func (t *Terminal) readLoop(ptmx *os.File, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			t.appendOutput(buf[:n])
			t.emitter.Emit(TopicData, event.Payload{
				"id":   t.id,
				"data": string(buf[:n]),
			})
		}
		if err != nil {
			// EIO is the normal Linux read error once the shell exits.
			return
		}
	}
}

func (t *Terminal) appendOutput(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.output = append(t.output, data...)
	if len(t.output) > t.opts.MaxOutputSize {
		// Keep the tail; old output is the least interesting.
		excess := len(t.output) - t.opts.MaxOutputSize
		t.output = append(t.output[:0], t.output[excess:]...)
	}
}

// GetOutput returns a snapshot of the accumulated output.
func (t *Terminal) GetOutput() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.output)
}

// ClearOutput discards the accumulated output.
// Fails on a destroyed terminal so the pool can detect unusable entries.
func (t *Terminal) ClearOutput() error {
	if t.State() == StateDestroyed {
		return ErrDestroyed
	}
	t.mu.Lock()
	t.output = t.output[:0]
	t.mu.Unlock()
	return nil
}

func (t *Terminal) outputLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.output)
}

func (t *Terminal) outputSince(mark int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mark > len(t.output) {
		// The buffer was cleared or trimmed behind the mark.
		return string(t.output)
	}
	return string(t.output[mark:])
}

// Write sends raw bytes to the shell's stdin.
func (t *Terminal) Write(data []byte) (int, error) {
	if t.State() != StateRunning {
		return 0, ErrNotRunning
	}
	t.mu.Lock()
	ptmx := t.ptmx
	t.mu.Unlock()
	if ptmx == nil {
		return 0, ErrNotRunning
	}
	return ptmx.Write(data)
}

// WriteLine sends a line of input, appending the line terminator.
func (t *Terminal) WriteLine(line string) error {
	_, err := t.Write([]byte(line + "\n"))
	return err
}

// SendControl sends a control character to the shell.
// Only single ASCII letters are accepted ("c" sends Ctrl-C); anything else
// is rejected before writing so malformed test input cannot inject
// arbitrary control codes.
func (t *Terminal) SendControl(letter string) error {
	if len(letter) != 1 {
		return ErrInvalidControlChar
	}
	c := letter[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return ErrInvalidControlChar
	}
	_, err := t.Write([]byte{c - 64})
	return err
}

// ExecuteCommand writes a command line and waits for completion.
//
// Completion means the new output segment matches ExpectedPattern or
// contains ExpectedOutput; with neither set, the last non-empty line of the
// new segment must match the prompt pattern. Returns the new segment.
func (t *Terminal) ExecuteCommand(ctx context.Context, command string, opts ExecOptions) (string, error) {
	if t.State() != StateRunning {
		return "", ErrNotRunning
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	mark := t.outputLen()
	if err := t.WriteLine(command); err != nil {
		return "", fmt.Errorf("write command %q: %w", command, err)
	}

	snapshot := func() string { return t.outputSince(mark) }
	waitOpts := waiter.Options{
		Timeout:      timeout,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
	}

	var res waiter.Result
	switch {
	case opts.ExpectedPattern != nil:
		res = waiter.WaitForOutput(ctx, snapshot, "", opts.ExpectedPattern, waitOpts)
	case opts.ExpectedOutput != "":
		res = waiter.WaitForOutput(ctx, snapshot, opts.ExpectedOutput, nil, waitOpts)
	default:
		res = waiter.WaitForCondition(ctx, func(context.Context) (any, error) {
			seg := snapshot()
			if seg == "" {
				return nil, nil
			}
			line := waiter.LastLine(seg)
			return line != "" && t.opts.PromptPattern.MatchString(line), nil
		}, waitOpts)
	}

	if !res.Success {
		return snapshot(), fmt.Errorf("command %q timed out after %s", command, timeout)
	}
	return snapshot(), nil
}

// Resize changes the PTY dimensions.
func (t *Terminal) Resize(cols, rows int) error {
	if cols < 1 || rows < 1 {
		return ErrInvalidSize
	}
	if t.State() != StateRunning {
		return ErrNotRunning
	}
	t.mu.Lock()
	ptmx := t.ptmx
	t.mu.Unlock()
	if ptmx == nil {
		return ErrNotRunning
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill signals the shell's process group through the manager, so uniform
// group semantics apply. Falls back to a direct group kill when the manager
// no longer tracks the process.
func (t *Terminal) Kill(sig syscall.Signal) bool {
	t.mu.Lock()
	rec := t.record
	cmd := t.cmd
	t.mu.Unlock()

	if rec != nil && t.manager.Get(rec.PID) != nil {
		return t.manager.Kill(rec.PID, sig)
	}
	if cmd != nil && cmd.Process != nil {
		return syscall.Kill(-cmd.Process.Pid, sig) == nil
	}
	return false
}

// PID returns the shell pid, or -1 when not started.
func (t *Terminal) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record == nil {
		return -1
	}
	return t.record.PID
}

// ProcessInfo returns the process record backing this terminal, or nil.
func (t *Terminal) ProcessInfo() *process.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record
}

// Destroy terminates the shell and releases the PTY. It is idempotent,
// never fails, and always clears buffers and manager subscriptions.
func (t *Terminal) Destroy() error {
	prev := State(t.state.Swap(int32(StateDestroyed)))
	if prev == StateDestroyed {
		return nil
	}

	t.mu.Lock()
	rec := t.record
	ptmx := t.ptmx
	readDone := t.readDone
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	if rec != nil && rec.IsRunning() {
		t.Kill(syscall.SIGTERM)

		res := waiter.WaitForProcessExit(context.Background(), rec.IsRunning, waiter.Options{
			Timeout:      destroyTimeout,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
		})
		if !res.Success {
			t.Kill(syscall.SIGKILL)
			waiter.WaitForProcessExit(context.Background(), rec.IsRunning, waiter.Options{
				Timeout:      destroyTimeout,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     100 * time.Millisecond,
			})
		}
	}

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(time.Second):
		}
	}

	t.mu.Lock()
	t.output = nil
	t.ptmx = nil
	t.mu.Unlock()

	for _, sub := range subs {
		t.emitter.Unsubscribe(sub)
	}

	t.emitter.Emit(TopicDestroyed, event.Payload{"id": t.id})
	return nil
}

// Shell returns the configured shell executable.
func (t *Terminal) Shell() string {
	return t.opts.Shell
}

// WorkDir returns the configured working directory.
func (t *Terminal) WorkDir() string {
	return t.opts.WorkDir
}

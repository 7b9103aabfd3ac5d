package process

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
)

func waitExit(t *testing.T, rec *Record) {
	t.Helper()
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit in time", rec.PID)
	}
}

func TestManager_StartAndNaturalExit(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	exited := make(chan event.Payload, 1)
	m.Events().Subscribe(TopicExited, func(_ string, p event.Payload) {
		exited <- p
	})

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 0"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.PGID != rec.PID {
		t.Errorf("expected process group leader, pid=%d pgid=%d", rec.PID, rec.PGID)
	}

	waitExit(t, rec)

	if rec.Status() != StatusExited {
		t.Errorf("status = %s, want exited", rec.Status())
	}
	if rec.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", rec.ExitCode())
	}

	select {
	case p := <-exited:
		if p["pid"] != rec.PID {
			t.Errorf("exited event pid = %v, want %d", p["pid"], rec.PID)
		}
	case <-time.After(time.Second):
		t.Error("no process.exited event")
	}
}

func TestManager_ExitCodePropagated(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 7"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, rec)

	if rec.ExitCode() != 7 {
		t.Errorf("exit code = %d, want 7", rec.ExitCode())
	}
}

func TestManager_SpawnError(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	errored := make(chan struct{}, 1)
	m.Events().Subscribe(TopicError, func(string, event.Payload) {
		errored <- struct{}{}
	})

	_, err := m.Start(context.Background(), "/no/such/binary", []string{"arg"}, StartOptions{})
	if err == nil {
		t.Fatal("expected spawn error")
	}

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if spawnErr.Command != "/no/such/binary" {
		t.Errorf("SpawnError.Command = %q", spawnErr.Command)
	}

	select {
	case <-errored:
	case <-time.After(time.Second):
		t.Error("spawn failure was not emitted as an event")
	}
}

func TestManager_KillUnknownPID(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	if m.Kill(999999, syscall.SIGTERM) {
		t.Error("killing an unknown pid must return false")
	}
}

func TestManager_Kill(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sleep", []string{"30"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !m.Kill(rec.PID, syscall.SIGKILL) {
		t.Fatal("expected Kill to report delivery")
	}
	waitExit(t, rec)

	if rec.Status() != StatusKilled {
		t.Errorf("status = %s, want killed", rec.Status())
	}
	if m.Kill(rec.PID, syscall.SIGKILL) {
		t.Error("killing an already-dead pid must return false")
	}
}

func TestManager_KillReachesGroup(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	// The shell spawns a child; killing the group must take both down.
	rec, err := m.Start(context.Background(), "sh", []string{"-c", "sleep 30 & wait"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !m.Kill(rec.PID, syscall.SIGKILL) {
		t.Fatal("expected Kill to report delivery")
	}
	waitExit(t, rec)

	if m.IsRunning(rec.PID) {
		t.Error("group leader still reported running after SIGKILL")
	}
}

func TestManager_SigtermTrapped(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh",
		[]string{"-c", `trap "" TERM; while :; do sleep 0.1; done`}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond) // let the trap install

	if !m.Kill(rec.PID, syscall.SIGTERM) {
		t.Fatal("SIGTERM delivery should be reported")
	}
	time.Sleep(300 * time.Millisecond)

	if !m.IsRunning(rec.PID) {
		t.Fatal("process trapping SIGTERM should still be running")
	}

	if !m.Kill(rec.PID, syscall.SIGKILL) {
		t.Fatal("SIGKILL delivery should be reported")
	}
	waitExit(t, rec)

	if m.IsRunning(rec.PID) {
		t.Error("process should be gone after SIGKILL")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(nil)

	cleanup := make(chan event.Payload, 1)
	m.Events().Subscribe(TopicCleanup, func(_ string, p event.Payload) {
		cleanup <- p
	})

	for i := 0; i < 3; i++ {
		if _, err := m.Start(context.Background(), "sleep", []string{"30"}, StartOptions{}); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	m.Shutdown(context.Background(), 4*time.Second)

	if n := len(m.RunningProcesses()); n != 0 {
		t.Errorf("%d processes still running after Shutdown", n)
	}

	if _, err := m.Start(context.Background(), "sleep", []string{"1"}, StartOptions{}); !errors.Is(err, ErrManagerShutdown) {
		t.Errorf("Start after Shutdown = %v, want ErrManagerShutdown", err)
	}

	select {
	case p := <-cleanup:
		if p["cleaned"] != 3 {
			t.Errorf("cleanup count = %v, want 3", p["cleaned"])
		}
	case <-time.After(time.Second):
		t.Error("no process.cleanup event")
	}
}

func TestManager_ShutdownEscalatesToSigkill(t *testing.T) {
	m := NewManager(nil)

	rec, err := m.Start(context.Background(), "sh",
		[]string{"-c", `trap "" TERM; while :; do sleep 0.1; done`}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	m.Shutdown(context.Background(), 2*time.Second)

	if m.IsRunning(rec.PID) {
		t.Error("SIGTERM-immune process survived Shutdown")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Shutdown took too long: %v", elapsed)
	}
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.Shutdown(context.Background(), time.Second)
	m.Shutdown(context.Background(), time.Second)
	m.Destroy()
	m.Destroy()
}

func TestManager_Adopt(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	if _, err := m.Adopt(nil, "x", nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Adopt(nil) = %v, want ErrNotStarted", err)
	}

	cmd := commandInOwnGroup("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec, err := m.Adopt(cmd, "sleep", []string{"30"})
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if !m.IsRunning(rec.PID) {
		t.Fatal("adopted process should be tracked as running")
	}

	if !m.Kill(rec.PID, syscall.SIGKILL) {
		t.Fatal("expected Kill on adopted process to succeed")
	}
	waitExit(t, rec)
}

func TestManager_Remove(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 0"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if m.Remove(rec.PID) && rec.IsRunning() {
		t.Error("running processes must not be removable")
	}
	waitExit(t, rec)

	if !m.Remove(rec.PID) {
		t.Error("terminated record should be removable")
	}
	if m.Get(rec.PID) != nil {
		t.Error("record still present after Remove")
	}
	if m.Remove(rec.PID) {
		t.Error("second Remove must return false")
	}
}

func TestManager_WaitForProcess(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 5"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	code, err := m.WaitForProcess(context.Background(), rec.PID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForProcess: %v", err)
	}
	if code != 5 {
		t.Errorf("exit code = %d, want 5", code)
	}

	if _, err := m.WaitForProcess(context.Background(), 999999, time.Second); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("unknown pid = %v, want ErrProcessNotFound", err)
	}
}

func TestManager_WaitForProcessTimeout(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sleep", []string{"30"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = m.WaitForProcess(context.Background(), rec.PID, 100*time.Millisecond)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeoutErr.PID != rec.PID {
		t.Errorf("TimeoutError.PID = %d, want %d", timeoutErr.PID, rec.PID)
	}
}

func TestManager_RecordsRetainedAfterExit(t *testing.T) {
	m := NewManager(nil)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 0"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, rec)

	if got := m.Get(rec.PID); got != rec {
		t.Error("terminated record should remain queryable")
	}
	if len(m.Processes()) != 1 {
		t.Errorf("Processes() = %d records, want 1", len(m.Processes()))
	}
	if len(m.RunningProcesses()) != 0 {
		t.Error("RunningProcesses() should be empty")
	}
}

package process

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

// commandInOwnGroup builds a command that starts detached in its own
// process group, mirroring what Manager.Start does.
func commandInOwnGroup(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func TestRegistry_TracksLiveProcesses(t *testing.T) {
	reg := NewRegistry()
	m := NewManager(reg)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sleep", []string{"30"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if reg.Len() != 1 {
		t.Fatalf("registry tracks %d processes, want 1", reg.Len())
	}
	if pids := reg.PIDs(); len(pids) != 1 || pids[0] != rec.PID {
		t.Errorf("registry pids = %v, want [%d]", pids, rec.PID)
	}

	m.Kill(rec.PID, syscall.SIGKILL)
	waitExit(t, rec)

	// The reaper removes the pid once the exit status is collected.
	deadline := time.Now().Add(time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Error("registry still tracks a reaped process")
	}
}

func TestRegistry_RemovedOnNaturalExit(t *testing.T) {
	reg := NewRegistry()
	m := NewManager(reg)
	defer m.Destroy()

	rec, err := m.Start(context.Background(), "sh", []string{"-c", "exit 0"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, rec)

	deadline := time.Now().Add(time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Error("naturally exited process not removed from registry")
	}
}

func TestRegistry_ReapAll(t *testing.T) {
	reg := NewRegistry()
	m := NewManager(reg)

	rec, err := m.Start(context.Background(), "sleep", []string{"30"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n := reg.ReapAll(); n != 1 {
		t.Errorf("ReapAll signalled %d groups, want 1", n)
	}
	waitExit(t, rec)

	if rec.Status() != StatusKilled {
		t.Errorf("status after ReapAll = %s, want killed", rec.Status())
	}
	if reg.Len() != 0 {
		t.Errorf("registry not cleared, %d remaining", reg.Len())
	}
}

func TestRegistry_SharedAcrossManagers(t *testing.T) {
	reg := NewRegistry()
	m1 := NewManager(reg)
	m2 := NewManager(reg)
	defer m1.Destroy()
	defer m2.Destroy()

	if _, err := m1.Start(context.Background(), "sleep", []string{"30"}, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m2.Start(context.Background(), "sleep", []string{"30"}, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if reg.Len() != 2 {
		t.Errorf("registry tracks %d processes across managers, want 2", reg.Len())
	}
	if n := reg.ReapAll(); n != 2 {
		t.Errorf("ReapAll signalled %d groups, want 2", n)
	}
}

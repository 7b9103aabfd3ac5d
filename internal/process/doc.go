// Package process provides lifecycle management for OS child processes.
//
// The package guarantees two properties that test runs spawning thousands of
// child processes tend to violate: no zombies (every spawned process is
// reaped) and no orphans (every process group is signalled on shutdown, even
// when children of children were spawned by a tracked shell).
//
// # Manager
//
// Manager spawns every process as its own process group (Setpgid), so the
// group id equals the pid and a single signal to the negative group id
// reaches the whole tree:
//
//	registry := process.NewRegistry()
//	mgr := process.NewManager(registry)
//	defer mgr.Destroy()
//
//	rec, err := mgr.Start(ctx, "bash", []string{"-c", "sleep 10"}, process.StartOptions{})
//	if err != nil {
//	    return err
//	}
//	mgr.Kill(rec.PID, syscall.SIGTERM)
//
// A reaping goroutine collects the exit status of every process the manager
// started or adopted, so terminated children never linger in the process
// table.
//
// # Shutdown Escalation
//
// Shutdown sends SIGTERM to every running group, polls for half the timeout,
// escalates to SIGKILL, and polls for the remaining half. It never fails;
// failures to deliver signals to already-gone groups are benign.
//
// # Registry
//
// Registry is the last line of defense: the host entry point owns one,
// injects it into every Manager, and calls ReapAll from its signal handler
// so that a crashing or interrupted run still kills every tracked process
// group. ReapAll is synchronous and allocation-light on the signal path.
// Library code never installs process-wide signal handlers itself.
package process

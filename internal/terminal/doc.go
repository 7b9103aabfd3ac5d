// Package terminal wraps one pseudo-terminal-backed shell process and gives
// it a synchronous-feeling command execution protocol.
//
// A Terminal owns exactly one shell spawned under a PTY. All PTY output is
// accumulated into a bounded append-only buffer from start until ClearOutput
// or Destroy. Command execution writes the command line and polls the new
// output segment until it matches an expected string/pattern or, by default,
// until the last line looks like a shell prompt again:
//
//	term := terminal.New(mgr, terminal.Options{Shell: "/bin/sh"})
//	if err := term.Start(ctx); err != nil {
//	    return err
//	}
//	defer term.Destroy()
//
//	out, err := term.ExecuteCommand(ctx, "echo hello", terminal.ExecOptions{
//	    ExpectedOutput: "hello",
//	})
//
// The dual matching mode is deliberate: most commands only need "wait for
// the prompt", while verifying a result string requires explicit matching.
//
// Process lifetime is delegated to the process.Manager the terminal was
// created with, so group-kill semantics apply uniformly. Destroy escalates
// SIGTERM to SIGKILL, releases the PTY, clears buffers, and removes every
// listener the instance registered on the shared manager.
package terminal

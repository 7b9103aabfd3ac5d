// Package main is the agentictest CLI: it runs shell commands in a pooled
// PTY terminal under the resource core's lifecycle management.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/config"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/pool"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/process"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/resource"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/terminal"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configPath string
	shell      string
	workDir    string
	logLevel   string
	timeout    time.Duration
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()
	logger := newLogger(opts.logLevel)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("load configuration", "error", err)
		return 1
	}

	commands := flag.Args()
	if len(commands) == 0 {
		fmt.Fprintln(os.Stderr, "no commands given")
		flag.Usage()
		return 2
	}

	registry := process.NewRegistry()
	manager := process.NewManager(registry)
	optimizer := resource.New(cfg.Resource(), manager, nil)

	manager.Events().Subscribe("memory.*", func(topic string, p event.Payload) {
		logger.Warn("memory pressure", "topic", topic, "payload", p)
	})

	// SIGINT/SIGTERM: tear down the optimizer and manager, then reap every
	// tracked process group synchronously. The registry sweep is the
	// last-resort guarantee that no shell outlives us.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down on signal", "signal", sig.String())
		optimizer.Destroy()
		ctx, cancel := context.WithTimeout(context.Background(), process.DefaultShutdownTimeout)
		manager.Shutdown(ctx, process.DefaultShutdownTimeout)
		cancel()
		registry.ReapAll()
		os.Exit(130)
	}()

	// Live retuning of memory limits while commands run.
	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, func(next config.Config) {
			logger.Info("configuration reloaded", "path", opts.configPath)
			optimizer.UpdateMemoryLimits(next.Resource().Memory)
		}, func(err error) {
			logger.Warn("configuration reload failed", "error", err)
		})
		if err != nil {
			logger.Warn("configuration watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	code := execute(logger, optimizer, opts, commands)

	optimizer.Destroy()
	ctx, cancel := context.WithTimeout(context.Background(), process.DefaultShutdownTimeout)
	manager.Shutdown(ctx, process.DefaultShutdownTimeout)
	cancel()
	registry.ReapAll()
	return code
}

// execute runs every command in one pooled terminal and prints each
// command's output. Returns 0 only if all commands completed.
func execute(logger *slog.Logger, optimizer *resource.Optimizer, opts options, commands []string) int {
	acquireCtx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	term, err := optimizer.AcquireTerminal(acquireCtx, pool.TerminalConfig{
		Shell:   opts.shell,
		WorkDir: opts.workDir,
	})
	if err != nil {
		logger.Error("acquire terminal", "error", err)
		return 1
	}
	defer func() {
		if err := optimizer.ReleaseTerminal(term); err != nil {
			logger.Warn("release terminal", "error", err)
		}
	}()

	failures := 0
	for _, command := range commands {
		logger.Debug("executing", "command", command)

		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		out, err := term.ExecuteCommand(ctx, command, terminal.ExecOptions{
			Timeout: opts.timeout,
		})
		cancel()

		fmt.Print(out)
		if err != nil {
			logger.Error("command failed", "command", command, "error", err)
			failures++
		}
	}

	if failures > 0 {
		logger.Error("run finished with failures", "failed", failures, "total", len(commands))
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", level)
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (.yaml/.yml/.toml)")
	flag.StringVar(&opts.shell, "shell", "/bin/sh", "Shell to run commands in")
	flag.StringVar(&opts.workDir, "workdir", "", "Working directory for the shell")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-command execution timeout")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "agentictest - run commands in managed PTY terminals\n\n")
		fmt.Fprintf(os.Stderr, "Usage: agentictest [options] command [command...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  agentictest 'echo hello'\n")
		fmt.Fprintf(os.Stderr, "  agentictest -shell /bin/bash -timeout 10s 'make test' 'make lint'\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("agentictest %s (%s)\n", version, commit)
		os.Exit(0)
	}

	return opts
}

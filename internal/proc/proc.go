// Package proc runs the council's subprocesses: CLI seat engines, verify
// checks, and subprocess enrichers. Every child gets its own process group so
// a deadline or stop flag kills the whole tree, TERM first, KILL after the
// grace period.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"council/internal/fault"
	"council/internal/logging"
)

// Config bounds every run.
type Config struct {
	MaxOutputBytes int64
	// GracePeriod is the TERM-to-KILL window when a child must die.
	GracePeriod time.Duration
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		MaxOutputBytes: 10 * 1024 * 1024,
		GracePeriod:    10 * time.Second,
	}
}

// Command describes one subprocess.
type Command struct {
	Argv  []string
	Dir   string
	Env   []string // appended to the parent environment
	Stdin string
	// OutPath streams stdout to a file as it arrives, so a killed seat still
	// leaves its partial output on disk for extraction.
	OutPath string
	Timeout time.Duration
}

// Result is what happened.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Killed     bool
	KillReason string
	Truncated  bool
}

// Runner executes Commands under Config's bounds.
type Runner struct {
	cfg Config
}

// NewRunner returns a runner with cfg, filling zero fields from defaults.
func NewRunner(cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	return &Runner{cfg: cfg}
}

// Run executes cmd and waits for it. Deadline and context cancellation kill
// the process group; the partial result is still returned with Killed set.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fault.Errorf(fault.KindRuntimeIO, "proc.run", "empty argv")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = append(os.Environ(), cmd.Env...)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}
	setupProcessGroup(execCmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.cfg.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: r.cfg.MaxOutputBytes}

	var outFile *os.File
	if cmd.OutPath != "" {
		f, err := os.OpenFile(cmd.OutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fault.New(fault.KindRuntimeIO, "proc.run", err)
		}
		outFile = f
		execCmd.Stdout = io.MultiWriter(f, stdout)
	} else {
		execCmd.Stdout = stdout
	}
	execCmd.Stderr = stderr

	logging.Proc("spawn: %s (dir=%s timeout=%s)", strings.Join(cmd.Argv, " "), cmd.Dir, cmd.Timeout)
	start := time.Now()
	if err := execCmd.Start(); err != nil {
		if outFile != nil {
			outFile.Close()
		}
		return nil, fault.New(fault.KindRuntimeIO, "proc.run", err)
	}

	done := make(chan error, 1)
	go func() { done <- execCmd.Wait() }()

	result := &Result{ExitCode: -1}
	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		result.Killed = true
		if runCtx.Err() == context.DeadlineExceeded {
			result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
		} else {
			result.KillReason = "stop requested"
		}
		logging.Proc("terminating process group (%s): %s", result.KillReason, cmd.Argv[0])
		terminateGroup(execCmd)
		select {
		case waitErr = <-done:
		case <-time.After(r.cfg.GracePeriod):
			logging.Proc("grace period elapsed, escalating to KILL: pid=%d", pid(execCmd))
			killGroup(execCmd)
			waitErr = <-done
		}
	}

	result.Duration = time.Since(start)
	if outFile != nil {
		outFile.Sync()
		outFile.Close()
	}
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdout.truncated || stderr.truncated

	switch {
	case result.Killed:
		// Exit status of a killed child is noise.
	case waitErr == nil:
		result.ExitCode = 0
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fault.New(fault.KindRuntimeIO, "proc.run", waitErr)
		}
	}

	logging.ProcDebug("done: %s exit=%d killed=%v duration=%s stdout=%dB",
		cmd.Argv[0], result.ExitCode, result.Killed, result.Duration.Round(time.Millisecond), len(result.Stdout))

	if result.Killed && strings.HasPrefix(result.KillReason, "timeout") {
		return result, fault.Errorf(fault.KindTimeout, "proc.run", "%s: %s", cmd.Argv[0], result.KillReason)
	}
	return result, nil
}

func pid(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// limitedWriter caps total bytes kept in memory. Writes past the cap report
// success so the child never sees a broken pipe.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return n, err
}

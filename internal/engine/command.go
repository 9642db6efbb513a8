package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// stderrTailLimit bounds how much tool stderr is kept for error context.
const stderrTailLimit = 4096

// commandSpec describes one external tool invocation. Credentials travel in
// Env where the tool supports it, keeping them out of process listings.
type commandSpec struct {
	Name   string
	Args   []string
	Env    []string // extra KEY=VALUE entries appended to the inherited env
	Stdin  io.Reader
	Stdout io.Writer
}

// commandRunner executes dump and restore tools. execCommand is swappable so
// tests can observe the constructed invocation without the tool installed.
type commandRunner struct {
	log         *logging.Logger
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newCommandRunner(log *logging.Logger) *commandRunner {
	return &commandRunner{log: log, execCommand: exec.CommandContext}
}

// run executes the invocation and returns the tail of its stderr alongside any
// execution error. Callers classify the error; run only reports it.
func (r *commandRunner) run(ctx context.Context, spec commandSpec) (string, error) {
	cmd := r.execCommand(ctx, spec.Name, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = spec.Stdin
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.log.LogExternalCommand(spec.Name, spec.Args, time.Since(start), err)

	return tail(stderr.String(), stderrTailLimit), err
}

// dumpError classifies a failed dump invocation, distinguishing deadline
// expiry and cancellation from tool failure.
func dumpError(ctx context.Context, tool, stderr string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return joberr.DumpTimeout(fmt.Sprintf("%s did not finish before the dump deadline", tool), err)
	case errors.Is(ctx.Err(), context.Canceled):
		return joberr.Canceled(fmt.Sprintf("%s was interrupted", tool), err)
	default:
		return joberr.DumpFailed(fmt.Sprintf("%s failed", tool), err).
			WithContext("stderr", stderr).
			WithContext("exit_code", exitCode(err))
	}
}

// restoreError mirrors dumpError for the restore direction.
func restoreError(ctx context.Context, tool, stderr string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return joberr.RestoreTimeout(fmt.Sprintf("%s did not finish before the restore deadline", tool), err)
	case errors.Is(ctx.Err(), context.Canceled):
		return joberr.Canceled(fmt.Sprintf("%s was interrupted", tool), err)
	default:
		return joberr.RestoreFailed(fmt.Sprintf("%s failed", tool), err).
			WithContext("stderr", stderr).
			WithContext("exit_code", exitCode(err))
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

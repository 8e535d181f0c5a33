// Package command runs external processes on behalf of the daemon.
//
// Everything upcycle does to the outside world, from fetching the
// source repository to restarting services and probing their health,
// happens through argv invocations of external collaborators. Runner is
// the single seam for those invocations, so every package above this one
// can be tested against a scripted fake.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Runner executes an external command and returns its stdout. Stderr is
// captured separately and included in error messages on failure.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// killDelay is how long Wait allows the process to exit after its context
// is cancelled and the process group has been signalled.
const killDelay = 5 * time.Second

// ExecRunner runs commands via os/exec. Each child is placed in its own
// process group; on context cancellation the whole group is killed, so a
// hung health-check command cannot leave orphaned grandchildren behind.
type ExecRunner struct{}

// Run executes name with args and returns trimmed stdout. The returned
// error carries the command line, the exit status, and trimmed stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the process group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = killDelay

	if err := cmd.Run(); err != nil {
		return "", &Error{
			Command: append([]string{name}, args...),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Error is a failed external command. Stderr is preserved verbatim so
// callers can classify failures from the collaborator's own diagnostics.
type Error struct {
	Command []string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v (stderr: %s)", strings.Join(e.Command, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

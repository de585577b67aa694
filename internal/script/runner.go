// Package script runs the shell transforms behind scriptable files.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultTimeout bounds a transform when the Runner sets none.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when a command outlives its deadline.
var ErrTimeout = errors.New("script timed out")

// Runner executes commands with /bin/sh.
type Runner struct {
	Timeout time.Duration
	Shell   string
	Logger  *zap.Logger
}

// Run executes command with stdin on its standard input and returns its
// standard output. The command runs in its own process group, and the whole
// group is killed when the timeout or ctx expires. A non-zero exit is an
// error carrying the command's stderr.
func (r Runner) Run(ctx context.Context, command string, stdin []byte) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole group, so children of the shell die too.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	log.Debug("script finished",
		zap.String("command", command),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
		zap.Error(err))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %q", ErrTimeout, timeout, command)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %q: %w", command, err)
		}
		return nil, fmt.Errorf("run %q: %w: %s", command, err, msg)
	}
	return stdout.Bytes(), nil
}

package execctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// localRunner executes programs on this machine using os/exec.
type localRunner struct {
	euid func() int
}

func (r *localRunner) run(ctx context.Context, argv []string, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var buf bytes.Buffer
	switch {
	case cmd.TTY:
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	case cmd.Output != nil:
		c.Stdout, c.Stderr = cmd.Output, cmd.Output
	default:
		c.Stdout, c.Stderr = &buf, &buf
	}

	err := c.Run()
	result := &Result{Output: buf.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", argv[0], ctx.Err())
		}
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return result, nil
}

// privileged skips sudo when already running as root.
func (r *localRunner) privileged() bool {
	return r.euid() == 0
}

func (r *localRunner) close() error { return nil }

func (r *localRunner) name() string { return "local system" }

// NewLocal returns a Context for this machine. With sudo set every
// command is elevated unless the process already runs as root.
func NewLocal(logger zerolog.Logger, sudo bool) Context {
	return &shell{
		runner: &localRunner{euid: unix.Geteuid},
		sudo:   sudo,
		logger: logger,
	}
}

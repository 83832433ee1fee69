package execctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
)

// exitStatus is implemented by *ssh.ExitError.
type exitStatus interface {
	ExitStatus() int
}

// lockedWriter serializes writes from the stdout and stderr copiers of
// an SSH session that share one buffer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// remoteRunner executes programs on another machine over SSH.
type remoteRunner struct {
	client sshsvc.SSHClient
	host   string
	user   string
}

func (r *remoteRunner) run(ctx context.Context, argv []string, cmd Command) (*Result, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH session on %s: %w", r.host, err)
	}
	defer session.Close()

	var buf bytes.Buffer
	switch {
	case cmd.TTY:
		if err := session.RequestPty("xterm", 40, 80); err != nil {
			return nil, fmt.Errorf("failed to request pseudo terminal on %s: %w", r.host, err)
		}
		session.SetStdio(os.Stdin, os.Stdout, os.Stderr)
	case cmd.Output != nil:
		out := &lockedWriter{w: cmd.Output}
		session.SetStdio(nil, out, out)
	default:
		out := &lockedWriter{w: &buf}
		session.SetStdio(nil, out, out)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(shellquote.Join(argv...))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, fmt.Errorf("%s interrupted on %s: %w", argv[0], r.host, ctx.Err())
	case err = <-done:
	}

	result := &Result{Output: buf.Bytes()}
	var status exitStatus
	if errors.As(err, &status) {
		result.ExitCode = status.ExitStatus()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run %s on %s: %w", argv[0], r.host, err)
	}
	return result, nil
}

func (r *remoteRunner) privileged() bool {
	return r.user == "root"
}

func (r *remoteRunner) close() error {
	return r.client.Close()
}

func (r *remoteRunner) name() string {
	return "remote system " + r.host
}

// NewRemote returns a Context for the machine behind client. The
// client is closed with the context.
func NewRemote(logger zerolog.Logger, client sshsvc.SSHClient, host, user string, sudo bool) Context {
	return &shell{
		runner: &remoteRunner{client: client, host: host, user: user},
		sudo:   sudo,
		logger: logger,
	}
}

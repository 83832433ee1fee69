package execctx

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fgeck/rsync-system-backup/internal/models"
	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
)

type fakeExitError struct{ status int }

func (e *fakeExitError) Error() string   { return "exited" }
func (e *fakeExitError) ExitStatus() int { return e.status }

func newRemote(t *testing.T, user string, sudo bool, run func(session *sshsvc.MockSession, cmd string) error) (Context, *[]string, *bool) {
	t.Helper()
	var lines []string
	closed := false
	client := &sshsvc.MockClient{
		NewSessionFunc: func() (sshsvc.SSHSession, error) {
			session := &sshsvc.MockSession{}
			session.RunFunc = func(cmd string) error {
				lines = append(lines, cmd)
				if run != nil {
					return run(session, cmd)
				}
				return nil
			}
			return session, nil
		},
		CloseFunc: func() error {
			closed = true
			return nil
		},
	}
	return NewRemote(testLogger(), client, "nas.local", user, sudo), &lines, &closed
}

func TestRemote_Execute(t *testing.T) {
	rc, lines, _ := newRemote(t, "backup", true, func(session *sshsvc.MockSession, _ string) error {
		_, _ = io.WriteString(session.Stdout, "ok")
		return nil
	})

	result, err := rc.Execute(context.Background(), NewCommand("cp", "--archive", "--link", "/mnt/latest", "/mnt/2024-01-02 03:04:05"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(result.Output))
	assert.Equal(t, []string{"sudo cp --archive --link /mnt/latest '/mnt/2024-01-02 03:04:05'"}, *lines)
}

func TestRemote_RootSkipsSudo(t *testing.T) {
	rc, lines, _ := newRemote(t, "root", true, nil)

	_, err := rc.Execute(context.Background(), NewCommand("mount", "/mnt/backups"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mount /mnt/backups"}, *lines)
}

func TestRemote_NonZeroExit(t *testing.T) {
	rc, _, _ := newRemote(t, "backup", false, func(_ *sshsvc.MockSession, _ string) error {
		return &fakeExitError{status: 1}
	})

	_, err := rc.Execute(context.Background(), NewCommand("mountpoint", "-q", "/mnt/backups"))
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)

	ok, err := rc.Test(context.Background(), "mountpoint", "-q", "/mnt/backups")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemote_TransportError(t *testing.T) {
	rc, _, _ := newRemote(t, "backup", false, func(_ *sshsvc.MockSession, _ string) error {
		return errors.New("connection reset")
	})

	ok, err := rc.Test(context.Background(), "true")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "nas.local")
}

func TestRemote_TTYRequestsPty(t *testing.T) {
	var requested string
	client := &sshsvc.MockClient{
		NewSessionFunc: func() (sshsvc.SSHSession, error) {
			return &sshsvc.MockSession{
				RequestPtyFunc: func(term string, _, _ int) error {
					requested = term
					return nil
				},
			}, nil
		},
	}
	rc := NewRemote(testLogger(), client, "nas.local", "backup", true)

	_, err := rc.Execute(context.Background(), Command{Args: []string{"cryptdisks_start", "backups"}, TTY: true})
	require.NoError(t, err)
	assert.Equal(t, "xterm", requested)
}

func TestRemote_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var signalled ssh.Signal
	client := &sshsvc.MockClient{
		NewSessionFunc: func() (sshsvc.SSHSession, error) {
			return &sshsvc.MockSession{
				RunFunc: func(string) error {
					<-release
					return nil
				},
				SignalFunc: func(sig ssh.Signal) error {
					signalled = sig
					return nil
				},
			}, nil
		},
	}
	rc := NewRemote(testLogger(), client, "nas.local", "backup", false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rc.Execute(ctx, NewCommand("sleep", "60"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ssh.SIGTERM, signalled)
}

func TestRemote_CloseRunsCleanupAndClosesClient(t *testing.T) {
	rc, lines, closed := newRemote(t, "backup", true, nil)

	rc.Cleanup(NewCommand("umount", "/mnt/backups"))
	rc.Cleanup(NewCommand("cryptdisks_stop", "backups"))

	require.NoError(t, rc.Close(context.Background()))
	assert.Equal(t, []string{"sudo cryptdisks_stop backups", "sudo umount /mnt/backups"}, *lines)
	assert.True(t, *closed)
	assert.Equal(t, "remote system nas.local", rc.String())
}

func TestFactory_Remote(t *testing.T) {
	svc := sshsvc.NewWithClientFactory(testLogger(), &sshsvc.MockClientFactory{})
	factory := NewFactory(testLogger(), svc)

	_, err := factory.Remote(context.Background(), models.SSHConfig{Host: "nas.local"}, false)
	require.Error(t, err)
}

func TestFactory_Local(t *testing.T) {
	factory := NewFactory(testLogger(), nil)
	assert.Equal(t, "local system", factory.Local(false).String())
}

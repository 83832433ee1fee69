package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestDesktop_Notify(t *testing.T) {
	ec := &execctx.MockContext{}
	d := NewDesktop(testLogger(), ec)

	err := d.Notify(context.Background(), models.Notification{
		Summary: Summary,
		Body:    "Backup failed after 2m0s! Review the system logs for details.",
		Urgency: models.UrgencyCritical,
	})
	require.NoError(t, err)
	require.Len(t, ec.Executed, 1)
	assert.Equal(t, []string{
		"notify-send",
		"--app-name=rsync-system-backup",
		"--urgency=critical",
		"System backups",
		"Backup failed after 2m0s! Review the system logs for details.",
	}, ec.Executed[0].Args)
}

func TestDesktop_DefaultUrgency(t *testing.T) {
	d := NewDesktop(testLogger(), &execctx.MockContext{})
	args := d.Args(models.Notification{Summary: Summary, Body: "Starting backup"})
	assert.Contains(t, args, "--urgency=normal")
}

func TestDesktop_Failure(t *testing.T) {
	ec := &execctx.MockContext{
		ExecuteFunc: func(context.Context, execctx.Command) (*execctx.Result, error) {
			return nil, errors.New("notify-send not found")
		},
	}

	err := NewDesktop(testLogger(), ec).Notify(context.Background(), models.Notification{Body: "Starting backup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "desktop notification")
}

func TestMulti_DeliversToAll(t *testing.T) {
	failing := &MockNotifier{NotifyFunc: func(context.Context, models.Notification) error {
		return errors.New("unreachable")
	}}
	working := &MockNotifier{}
	m := NewMulti(testLogger(), failing, working)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), models.Notification{Body: "Starting dry-run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock: unreachable")
	assert.Equal(t, []string{"Starting dry-run"}, failing.Bodies())
	assert.Equal(t, []string{"Starting dry-run"}, working.Bodies())
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, NewMulti(testLogger()).Notify(context.Background(), models.Notification{}))
}

package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

// AppName identifies the notifications on the desktop.
const AppName = "rsync-system-backup"

// Desktop shows notifications with notify-send.
type Desktop struct {
	ec     execctx.Context
	logger zerolog.Logger
}

// NewDesktop creates a desktop notifier running notify-send in ec.
func NewDesktop(logger zerolog.Logger, ec execctx.Context) *Desktop {
	return &Desktop{ec: ec, logger: logger}
}

// Args returns the notify-send command line for n.
func (d *Desktop) Args(n models.Notification) []string {
	urgency := n.Urgency
	if urgency == "" {
		urgency = models.UrgencyNormal
	}
	return []string{
		"notify-send",
		"--app-name=" + AppName,
		"--urgency=" + string(urgency),
		n.Summary,
		n.Body,
	}
}

func (d *Desktop) Notify(ctx context.Context, n models.Notification) error {
	if _, err := d.ec.Execute(ctx, execctx.NewCommand(d.Args(n)...)); err != nil {
		return fmt.Errorf("failed to show desktop notification: %w", err)
	}
	d.logger.Debug().Str("body", n.Body).Msg("desktop notification shown")
	return nil
}

func (d *Desktop) Name() string { return "desktop" }

package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/notify"
)

func (r *run) notifyStarting(ctx context.Context) {
	body := "Starting backup"
	if r.cfg.DryRun {
		body = "Starting dry-run"
	}
	r.notify(ctx, models.Notification{Summary: notify.Summary, Body: body, Urgency: models.UrgencyNormal})
}

func (r *run) notifyFinished(ctx context.Context, elapsed time.Duration) {
	r.notify(ctx, models.Notification{
		Summary: notify.Summary,
		Body:    fmt.Sprintf("Finished backup in %s.", elapsed.Round(time.Second)),
		Urgency: models.UrgencyNormal,
	})
}

func (r *run) notifyFailed(ctx context.Context, elapsed time.Duration) {
	r.notify(ctx, models.Notification{
		Summary: notify.Summary,
		Body:    fmt.Sprintf("Backup failed after %s! Review the system logs for details.", elapsed.Round(time.Second)),
		Urgency: models.UrgencyCritical,
	})
}

// notify never fails the run.
func (r *run) notify(ctx context.Context, n models.Notification) {
	if !r.cfg.NotificationsEnabled || r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Debug().Err(err).Str("body", n.Body).Msg("notification not delivered")
	}
}

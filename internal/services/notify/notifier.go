// Package notify delivers backup lifecycle notifications.
package notify

import (
	"context"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// Summary is the title of every notification.
const Summary = "System backups"

// Notifier delivers a notification over one channel.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
	Name() string
}

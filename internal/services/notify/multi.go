package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// Multi sends notifications to several notifiers.
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMulti creates a Multi notifier.
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Notify delivers n to every notifier, even when some fail. The failures
// are returned together.
func (m *Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			m.logger.Warn().Err(err).Str("notifier", notifier.Name()).Msg("notifier failed")
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Name() string { return "multi" }

// Len returns the number of notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

var (
	_ Notifier = (*Multi)(nil)
	_ Notifier = (*Desktop)(nil)
)

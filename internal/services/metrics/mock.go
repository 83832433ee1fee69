package metrics

import (
	"context"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// MockPusher records pushed results for tests.
type MockPusher struct {
	PushFunc func(ctx context.Context, result *models.RunResult) error

	Pushed []*models.RunResult
}

// Push records result and calls PushFunc.
func (m *MockPusher) Push(ctx context.Context, result *models.RunResult) error {
	m.Pushed = append(m.Pushed, result)
	if m.PushFunc != nil {
		return m.PushFunc(ctx, result)
	}
	return nil
}

var _ Pusher = (*MockPusher)(nil)

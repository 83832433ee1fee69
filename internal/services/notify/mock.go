package notify

import (
	"context"
	"sync"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// MockNotifier records notifications for tests.
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, n models.Notification) error

	mu   sync.Mutex
	Sent []models.Notification
}

// Notify records n and calls NotifyFunc.
func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, n)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

// Name returns "mock".
func (m *MockNotifier) Name() string { return "mock" }

// Bodies returns the bodies of the recorded notifications.
func (m *MockNotifier) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := make([]string, 0, len(m.Sent))
	for _, n := range m.Sent {
		bodies = append(bodies, n.Body)
	}
	return bodies
}

var _ Notifier = (*MockNotifier)(nil)

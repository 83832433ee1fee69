package execctx

import (
	"context"
	"sync"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// MockContext is a function-field Context for tests. It records every
// executed and registered command.
type MockContext struct {
	Name            string
	ExecuteFunc     func(ctx context.Context, cmd Command) (*Result, error)
	TestFunc        func(ctx context.Context, args ...string) (bool, error)
	IsDirectoryFunc func(ctx context.Context, path string) (bool, error)
	CloseFunc       func(ctx context.Context) error

	mu       sync.Mutex
	Executed []Command
	Cleanups []Command
	Closed   bool
}

// Execute records cmd and calls ExecuteFunc or succeeds.
func (m *MockContext) Execute(ctx context.Context, cmd Command) (*Result, error) {
	m.mu.Lock()
	m.Executed = append(m.Executed, cmd)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, cmd)
	}
	return &Result{}, nil
}

// Test calls TestFunc or reports true.
func (m *MockContext) Test(ctx context.Context, args ...string) (bool, error) {
	if m.TestFunc != nil {
		return m.TestFunc(ctx, args...)
	}
	return true, nil
}

// IsDirectory calls IsDirectoryFunc or reports true.
func (m *MockContext) IsDirectory(ctx context.Context, path string) (bool, error) {
	if m.IsDirectoryFunc != nil {
		return m.IsDirectoryFunc(ctx, path)
	}
	return true, nil
}

// Cleanup records cmd.
func (m *MockContext) Cleanup(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleanups = append(m.Cleanups, cmd)
}

// Close marks the context closed and calls CloseFunc.
func (m *MockContext) Close(ctx context.Context) error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx)
	}
	return nil
}

// String returns Name.
func (m *MockContext) String() string {
	if m.Name == "" {
		return "mock system"
	}
	return m.Name
}

// Commands returns the program names of executed commands in order.
func (m *MockContext) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Executed))
	for _, cmd := range m.Executed {
		if len(cmd.Args) > 0 {
			names = append(names, cmd.Args[0])
		}
	}
	return names
}

// MockFactory is a function-field Factory for tests.
type MockFactory struct {
	LocalFunc  func(sudo bool) Context
	RemoteFunc func(ctx context.Context, cfg models.SSHConfig, sudo bool) (Context, error)
}

// Local calls LocalFunc or returns an empty MockContext.
func (m *MockFactory) Local(sudo bool) Context {
	if m.LocalFunc != nil {
		return m.LocalFunc(sudo)
	}
	return &MockContext{}
}

// Remote calls RemoteFunc or returns an empty MockContext.
func (m *MockFactory) Remote(ctx context.Context, cfg models.SSHConfig, sudo bool) (Context, error) {
	if m.RemoteFunc != nil {
		return m.RemoteFunc(ctx, cfg, sudo)
	}
	return &MockContext{Name: cfg.Host}, nil
}

var (
	_ Context = (*MockContext)(nil)
	_ Factory = (*MockFactory)(nil)
	_ Factory = (*DefaultFactory)(nil)
)

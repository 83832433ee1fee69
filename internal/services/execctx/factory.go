package execctx

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
)

// Factory creates execution contexts.
type Factory interface {
	Local(sudo bool) Context
	Remote(ctx context.Context, cfg models.SSHConfig, sudo bool) (Context, error)
}

// DefaultFactory creates local contexts and SSH backed remote contexts.
type DefaultFactory struct {
	ssh    sshsvc.Service
	logger zerolog.Logger
}

// NewFactory creates a new DefaultFactory.
func NewFactory(logger zerolog.Logger, ssh sshsvc.Service) *DefaultFactory {
	return &DefaultFactory{ssh: ssh, logger: logger}
}

// Local returns a context for this machine.
func (f *DefaultFactory) Local(sudo bool) Context {
	return NewLocal(f.logger, sudo)
}

// Remote connects to cfg.Host and returns a context for it.
func (f *DefaultFactory) Remote(ctx context.Context, cfg models.SSHConfig, sudo bool) (Context, error) {
	client, err := f.ssh.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote context: %w", err)
	}
	return NewRemote(f.logger, client, cfg.Host, cfg.Username, sudo), nil
}

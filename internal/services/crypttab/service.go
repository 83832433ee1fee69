package crypttab

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

// Service looks up encrypted filesystems through an execution context.
type Service interface {
	// Lookup returns the entry for name, or nil if there is none.
	Lookup(ctx context.Context, ec execctx.Context, name string) (*Entry, error)
	// IsAvailable reports whether the encrypted device is connected.
	IsAvailable(ctx context.Context, ec execctx.Context, entry Entry) (bool, error)
	// IsUnlocked reports whether the device has been unlocked.
	IsUnlocked(ctx context.Context, ec execctx.Context, entry Entry) (bool, error)
}

// Impl implements Service.
type Impl struct {
	path   string
	logger zerolog.Logger
}

// New creates a crypttab service reading the file at path.
func New(logger zerolog.Logger, path string) *Impl {
	return &Impl{path: path, logger: logger}
}

func (s *Impl) Lookup(ctx context.Context, ec execctx.Context, name string) (*Entry, error) {
	result, err := ec.Execute(ctx, execctx.NewCommand("cat", s.path))
	if err != nil {
		var cmdErr *execctx.CommandError
		if errors.As(err, &cmdErr) {
			s.logger.Warn().Str("path", s.path).Str("context", ec.String()).Msg("crypttab not readable")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	entries, err := Parse(bytes.NewReader(result.Output))
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			s.logger.Debug().
				Str("name", entry.Name).
				Str("device", entry.SourcePath()).
				Msg("found crypttab entry")
			return &entry, nil
		}
	}
	return nil, nil
}

func (s *Impl) IsAvailable(ctx context.Context, ec execctx.Context, entry Entry) (bool, error) {
	return ec.Test(ctx, "test", "-e", entry.SourcePath())
}

func (s *Impl) IsUnlocked(ctx context.Context, ec execctx.Context, entry Entry) (bool, error) {
	return ec.Test(ctx, "test", "-e", entry.MapperPath())
}

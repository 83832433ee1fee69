// Package rotation prunes old snapshots with the rotate-backups program.
package rotation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

// Program is the external rotation program.
const Program = "rotate-backups"

// Options controls one rotation.
type Options struct {
	Directory string
	Scheme    models.RotationScheme
	DryRun    bool
	IONice    string
}

// Service rotates snapshot directories.
type Service interface {
	Rotate(ctx context.Context, ec execctx.Context, opts Options) error
}

// Impl implements Service.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new rotation service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// BuildArgs returns the rotate-backups command line for opts. Periods
// are passed from shortest to longest; unknown periods are ignored.
func BuildArgs(opts Options) []string {
	args := []string{Program}
	for _, period := range models.RotationPeriods {
		count, ok := opts.Scheme[period]
		if !ok {
			continue
		}
		value := strconv.Itoa(count)
		if count == models.RetainAlways {
			value = "always"
		}
		args = append(args, fmt.Sprintf("--%s=%s", period, value))
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.IONice != "" {
		args = append(args, "--ionice="+opts.IONice)
	}
	return append(args, opts.Directory)
}

func (s *Impl) Rotate(ctx context.Context, ec execctx.Context, opts Options) error {
	args := BuildArgs(opts)
	s.logger.Info().
		Str("directory", opts.Directory).
		Str("context", ec.String()).
		Bool("dry_run", opts.DryRun).
		Msg("rotating snapshots")

	result, err := ec.Execute(ctx, execctx.NewCommand(args...))
	if err != nil {
		return fmt.Errorf("failed to rotate snapshots in %s: %w", opts.Directory, err)
	}
	if out := strings.TrimSpace(string(result.Output)); out != "" {
		s.logger.Debug().Str("output", out).Msg("rotate-backups output")
	}
	return nil
}

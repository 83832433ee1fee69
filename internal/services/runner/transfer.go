package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

// PartialTransferCodes are rsync exit codes that are tolerated:
// 23 (partial transfer due to error) and 24 (source files vanished).
var PartialTransferCodes = []int{23, 24}

// IsPartialTransfer reports whether code is a tolerated rsync exit code.
func IsPartialTransfer(code int) bool {
	for _, c := range PartialTransferCodes {
		if code == c {
			return true
		}
	}
	return false
}

// RsyncOptions controls the rsync command line.
type RsyncOptions struct {
	Source    string
	Target    string
	DryRun    bool
	MultiFS   bool
	Excludes  []string
	Verbosity int
	Progress  bool
	RSH       string // remote shell for SSH targets, empty for the rsync default
}

// BuildRsyncCommand returns the rsync command line for opts.
func BuildRsyncCommand(opts RsyncOptions) []string {
	args := []string{"rsync"}
	if opts.DryRun {
		args = append(args, "--dry-run", "--verbose")
	}
	for i := 0; i < opts.Verbosity; i++ {
		args = append(args, "--verbose")
	}
	if opts.Progress {
		args = append(args, "--progress")
	}
	if opts.RSH != "" {
		args = append(args, "--rsh="+opts.RSH)
	}
	// Files that no longer exist on the source are removed from the
	// backup; snapshots keep the old copies.
	args = append(args, "--delete", "--delete-excluded")
	args = append(args, "--acls", "--archive", "--hard-links", "--numeric-ids", "--xattrs")
	if !opts.MultiFS {
		args = append(args, "--one-file-system")
	}
	for _, pattern := range opts.Excludes {
		args = append(args, "--filter=-/ "+pattern)
	}
	return append(args, EnsureTrailingSlash(opts.Source), EnsureTrailingSlash(opts.Target))
}

// EnsureTrailingSlash returns expr with exactly one trailing slash, so
// that rsync copies directory contents. The empty string is returned
// unchanged.
func EnsureTrailingSlash(expr string) string {
	if expr == "" {
		return expr
	}
	return strings.TrimRight(expr, "/") + "/"
}

// RemoteShell returns the ssh command rsync connects to SSH destinations
// with, matching the settings of the remote execution context. It
// returns "" when the ssh defaults apply.
func RemoteShell(cfg models.SSHConfig) string {
	args := []string{"ssh"}
	if cfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(cfg.Port))
	}
	if cfg.KeyPath != "" {
		args = append(args, "-i", cfg.KeyPath, "-o", "IdentitiesOnly=yes")
	}
	switch {
	case cfg.InsecureIgnoreHostKey:
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	case cfg.KnownHostsPath != "":
		args = append(args, "-o", "StrictHostKeyChecking=yes", "-o", "UserKnownHostsFile="+cfg.KnownHostsPath)
	}
	if len(args) == 1 {
		return ""
	}
	return shellquote.Join(args...)
}

func (r *run) transfer(ctx context.Context) error {
	dest := r.cfg.Destination

	if dest.Tunnel != nil {
		if err := dest.Tunnel.Open(ctx); err != nil {
			return err
		}
		defer func() {
			if err := dest.Tunnel.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("failed to close tunnel")
			}
		}()
	}

	target, err := dest.RsyncTarget()
	if err != nil {
		return err
	}

	if err := r.ensureDestinationDirectory(ctx); err != nil {
		return err
	}

	opts := RsyncOptions{
		Source:    r.cfg.Source,
		Target:    target,
		DryRun:    r.cfg.DryRun,
		MultiFS:   r.cfg.MultiFS,
		Excludes:  r.cfg.ExcludePatterns,
		Verbosity: r.cfg.RsyncVerbosity,
		Progress:  r.cfg.RsyncProgress,
	}
	if dest.IsRemote() && !dest.IsDaemon() {
		opts.RSH = RemoteShell(RemoteSSHConfig(r.cfg))
	}
	args := BuildRsyncCommand(opts)

	r.logger.Info().
		Str("source", r.cfg.Source).
		Str("target", target).
		Bool("dry_run", r.cfg.DryRun).
		Msg("creating system backup using rsync")

	start := time.Now()
	_, err = r.source.Execute(ctx, execctx.Command{
		Args: args,
		// An empty HOME keeps rsync from reading ~/.cvsignore.
		Env:    map[string]string{"HOME": ""},
		IONice: r.cfg.IONice,
		Output: r.output,
	})

	transfer := &models.TransferResult{Duration: time.Since(start)}
	r.result.Transfer = transfer
	var cmdErr *execctx.CommandError
	switch {
	case err == nil:
	case errors.As(err, &cmdErr) && IsPartialTransfer(cmdErr.ExitCode):
		transfer.ExitCode, transfer.Partial = cmdErr.ExitCode, true
		r.logger.Warn().
			Int("exit_code", cmdErr.ExitCode).
			Msg("ignoring partial transfer warnings")
	default:
		if errors.As(err, &cmdErr) {
			transfer.ExitCode = cmdErr.ExitCode
		}
		r.logger.Error().
			Err(err).
			Dur("duration", transfer.Duration).
			Msg("backup failed")
		return fmt.Errorf("rsync failed: %w", err)
	}

	r.logger.Info().
		Dur("duration", transfer.Duration).
		Bool("partial", transfer.Partial).
		Msg("backup created")
	return nil
}

// ensureDestinationDirectory creates the destination directory when the
// destination allows command execution. Dry runs only log it.
func (r *run) ensureDestinationDirectory(ctx context.Context) error {
	if r.dest == nil {
		return nil
	}
	dir := r.cfg.Destination.Directory
	exists, err := r.dest.IsDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to check destination directory: %w", err)
	}
	if exists {
		return nil
	}
	if r.cfg.DryRun {
		r.logger.Info().Str("directory", dir).Msg("destination directory would be created")
		return nil
	}
	r.logger.Info().Str("directory", dir).Msg("creating missing destination directory")
	if _, err := r.dest.Execute(ctx, execctx.NewCommand("mkdir", "-p", dir)); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return nil
}

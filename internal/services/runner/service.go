// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/destination"
	"github.com/fgeck/rsync-system-backup/internal/errdefs"
	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/crypttab"
	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
	"github.com/fgeck/rsync-system-backup/internal/services/metrics"
	"github.com/fgeck/rsync-system-backup/internal/services/notify"
	"github.com/fgeck/rsync-system-backup/internal/services/rotation"
	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
	"github.com/fgeck/rsync-system-backup/internal/services/telegram"
	"github.com/fgeck/rsync-system-backup/internal/services/tunnel"
	"github.com/fgeck/rsync-system-backup/internal/services/wol"
)

// SnapshotLayout names snapshot directories.
const SnapshotLayout = "2006-01-02 15:04:05"

// Action names used in the final log line.
const (
	ActionBackup   = "create backup"
	ActionSnapshot = "create snapshot"
	ActionRotate   = "rotate old snapshots"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	contexts    execctx.Factory
	rotationSvc rotation.Service
	wolSvc      wol.Service
	sshSvc      sshsvc.Service
	notifier    notify.Notifier // nil: built from the config
	pusher      metrics.Pusher  // nil: built from the config
	output      io.Writer
	logger      zerolog.Logger

	goos string
	now  func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	ssh := sshsvc.New(logger)
	return &Impl{
		contexts:    execctx.NewFactory(logger, ssh),
		rotationSvc: rotation.New(logger),
		wolSvc:      wol.New(logger),
		sshSvc:      ssh,
		output:      os.Stdout,
		logger:      logger,
		goos:        runtime.GOOS,
		now:         time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	contexts execctx.Factory,
	rotationSvc rotation.Service,
	wolSvc wol.Service,
	sshSvc sshsvc.Service,
	notifier notify.Notifier,
	pusher metrics.Pusher,
	output io.Writer,
) *Impl {
	return &Impl{
		contexts:    contexts,
		rotationSvc: rotationSvc,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		notifier:    notifier,
		pusher:      pusher,
		output:      output,
		logger:      logger,
		goos:        "linux",
		now:         time.Now,
	}
}

// run holds the state of one backup run.
type run struct {
	cfg      models.BackupConfig
	source   execctx.Context
	dest     execctx.Context // nil for rsync daemon modules
	crypttab crypttab.Service
	notifier notify.Notifier
	output   io.Writer
	result   *models.RunResult
	logger   zerolog.Logger
}

// Run executes the complete backup workflow.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error) {
	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Logger()
	result := &models.RunResult{
		RunID:     runID,
		StartTime: s.now(),
		Phases:    make(map[string]time.Duration),
	}

	if cfg.Destination == nil {
		result.Error = fmt.Errorf("%w: no destination configured", errdefs.ErrMissingDestination)
		return result, result.Error
	}
	if s.goos != "linux" && !cfg.Force {
		result.Error = fmt.Errorf("%w: rsync-system-backup only supports Linux, use --force to run on %s",
			errdefs.ErrUnsupportedPlatform, s.goos)
		return result, result.Error
	}

	logger.Info().
		Str("source", cfg.Source).
		Str("destination", cfg.Destination.String()).
		Bool("dry_run", cfg.DryRun).
		Msg("starting backup run")

	r := &run{
		cfg:      cfg,
		crypttab: crypttab.New(logger, cfg.CrypttabPath),
		notifier: s.buildNotifier(logger, cfg),
		output:   s.output,
		result:   result,
		logger:   logger,
	}
	err := s.execute(ctx, r)

	result.Duration = time.Since(result.StartTime)
	result.Error = err
	s.pushMetrics(ctx, logger, cfg, result)

	if err != nil {
		return result, err
	}
	logger.Info().
		Dur("duration", result.Duration).
		Strs("actions", result.Actions).
		Msgf("took %s to %s", result.Duration.Round(time.Second), joinActions(result.Actions))
	return result, nil
}

func (s *Impl) execute(ctx context.Context, r *run) (err error) {
	cfg := r.cfg

	if cfg.WOL != nil {
		if err := r.phase(models.PhaseWake, func() error { return s.runWOL(ctx, r.logger, cfg.WOL) }); err != nil {
			return err
		}
	}

	if cfg.Tunnel != nil && cfg.Destination.Tunnel == nil {
		d := *cfg.Destination
		d.Tunnel = s.newTunnel(r.logger, cfg, &d)
		r.cfg.Destination = &d
	}

	// Cleanup commands must run even when ctx has been canceled.
	cleanupCtx := context.WithoutCancel(ctx)

	r.source = s.contexts.Local(cfg.SudoEnabled)
	defer func() {
		if err := r.source.Close(cleanupCtx); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close source context")
		}
	}()

	dest, ctxErr := s.destinationContext(ctx, r)
	switch {
	case errors.Is(ctxErr, errdefs.ErrDestinationContextUnavailable):
		r.logger.Warn().
			Err(ctxErr).
			Msg("skipping unlock, mount, snapshot and rotation steps on the destination")
	case ctxErr != nil:
		return ctxErr
	default:
		r.dest = dest
		defer func() {
			if err := dest.Close(cleanupCtx); err != nil {
				r.logger.Warn().Err(err).Msg("failed to close destination context")
			}
		}()
	}

	var entry *crypttab.Entry
	if cfg.CryptoDevice != "" {
		if err := r.phase(models.PhasePreflight, func() (err error) {
			entry, err = r.checkDisk(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	if cfg.BackupEnabled {
		r.notifyStarting(ctx)
		defer func() {
			elapsed := time.Since(r.result.StartTime)
			if err != nil {
				r.notifyFailed(ctx, elapsed)
				return
			}
			r.notifyFinished(ctx, elapsed)
		}()
	}

	if entry != nil {
		if err := r.phase(models.PhaseUnlock, func() error { return r.unlock(ctx, *entry) }); err != nil {
			return err
		}
	}
	if cfg.MountPoint != "" {
		if err := r.phase(models.PhaseMount, func() error { return r.mount(ctx) }); err != nil {
			return err
		}
	}

	if cfg.BackupEnabled {
		if err := r.phase(models.PhaseTransfer, func() error { return r.transfer(ctx) }); err != nil {
			return err
		}
		r.result.Actions = append(r.result.Actions, ActionBackup)
	}
	if cfg.SnapshotEnabled {
		if err := r.phase(models.PhaseSnapshot, func() error { return r.snapshot(ctx, s.now()) }); err != nil {
			return err
		}
	}
	if cfg.RotateEnabled {
		if err := r.phase(models.PhaseRotate, func() error { return r.rotate(ctx, s.rotationSvc) }); err != nil {
			return err
		}
	}
	return nil
}

// phase runs fn and records its duration. A failing phase is remembered
// as the failed phase of the run.
func (r *run) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.result.Phases[name] = time.Since(start)
	if err != nil {
		r.result.FailedPhase = name
	}
	return err
}

// destinationContext fails with ErrDestinationContextUnavailable for
// rsync daemon modules, which don't allow command execution.
func (s *Impl) destinationContext(ctx context.Context, r *run) (execctx.Context, error) {
	dest := r.cfg.Destination
	switch {
	case dest.IsDaemon():
		return nil, fmt.Errorf("%w: %s is an rsync daemon module",
			errdefs.ErrDestinationContextUnavailable, dest)
	case dest.IsRemote():
		return s.contexts.Remote(ctx, RemoteSSHConfig(r.cfg), r.cfg.SudoEnabled)
	default:
		return s.contexts.Local(r.cfg.SudoEnabled), nil
	}
}

// RemoteSSHConfig returns the SSH settings for an SSH destination.
func RemoteSSHConfig(cfg models.BackupConfig) models.SSHConfig {
	sshCfg := cfg.SSH
	if sshCfg.Host == "" {
		sshCfg.Host = cfg.Destination.Hostname
	}
	if sshCfg.Username == "" {
		sshCfg.Username = cfg.Destination.Username
	}
	return sshCfg
}

// TunnelSSHConfig returns the SSH settings for the server that tunnels
// the rsync daemon connection.
func TunnelSSHConfig(cfg models.BackupConfig) models.SSHConfig {
	sshCfg := cfg.SSH
	sshCfg.Host = cfg.Tunnel.Host
	sshCfg.Port = cfg.Tunnel.Port
	sshCfg.Username = cfg.Tunnel.Username
	return sshCfg
}

func (s *Impl) newTunnel(logger zerolog.Logger, cfg models.BackupConfig, dest *destination.Destination) destination.Tunnel {
	target := net.JoinHostPort(dest.Hostname, strconv.Itoa(dest.Port()))
	return tunnel.New(logger, s.sshSvc, TunnelSSHConfig(cfg), cfg.Tunnel.LocalPort, target)
}

func (s *Impl) runWOL(ctx context.Context, logger zerolog.Logger, cfg *models.WOLConfig) error {
	logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.WaitAddress).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}

	if !result.TargetReady && cfg.WaitAddress != "" {
		return fmt.Errorf("target did not become ready after WOL")
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) buildNotifier(logger zerolog.Logger, cfg models.BackupConfig) notify.Notifier {
	if s.notifier != nil {
		return s.notifier
	}
	if !cfg.NotificationsEnabled {
		return nil
	}
	notifiers := []notify.Notifier{notify.NewDesktop(logger, s.contexts.Local(false))}
	if cfg.Telegram != nil {
		notifiers = append(notifiers, telegram.New(logger, *cfg.Telegram))
	}
	return notify.NewMulti(logger, notifiers...)
}

func (s *Impl) pushMetrics(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig, result *models.RunResult) {
	pusher := s.pusher
	if pusher == nil {
		if cfg.Metrics == nil {
			return
		}
		pusher = metrics.NewPushgateway(logger, *cfg.Metrics)
	}
	if err := pusher.Push(context.WithoutCancel(ctx), result); err != nil {
		logger.Warn().Err(err).Msg("failed to push metrics")
	}
}

// checkDisk fails with ErrMissingBackupDisk when the encrypted device
// isn't connected. Destinations without an execution context are skipped.
func (r *run) checkDisk(ctx context.Context) (*crypttab.Entry, error) {
	name := r.cfg.CryptoDevice
	if r.dest == nil {
		r.logger.Warn().
			Str("device", name).
			Msg("skipping encrypted filesystem checks, destination has no execution context")
		return nil, nil
	}

	entry, err := r.crypttab.Lookup(ctx, r.dest, name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: encrypted filesystem %s isn't listed in %s",
			errdefs.ErrMissingBackupDisk, name, r.cfg.CrypttabPath)
	}
	available, err := r.crypttab.IsAvailable(ctx, r.dest, *entry)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, fmt.Errorf("%w: encrypted filesystem %s isn't available (the device file %s doesn't exist)",
			errdefs.ErrMissingBackupDisk, name, entry.SourcePath())
	}
	return entry, nil
}

func (r *run) unlock(ctx context.Context, entry crypttab.Entry) error {
	unlocked, err := r.crypttab.IsUnlocked(ctx, r.dest, entry)
	if err != nil {
		return err
	}
	if unlocked {
		r.logger.Info().Str("device", entry.Name).Msg("encrypted filesystem is already unlocked")
		return nil
	}

	r.logger.Info().Str("device", entry.Name).Msg("unlocking encrypted filesystem")
	if _, err := r.dest.Execute(ctx, execctx.Command{
		Args: []string{"cryptdisks_start", entry.Name},
		Sudo: true,
		TTY:  true,
	}); err != nil {
		return fmt.Errorf("%w %s: %w", errdefs.ErrFailedToUnlock, entry.Name, err)
	}
	unlocked, err = r.crypttab.IsUnlocked(ctx, r.dest, entry)
	if err != nil {
		return err
	}
	if !unlocked {
		return fmt.Errorf("%w %s (%s doesn't exist)", errdefs.ErrFailedToUnlock, entry.Name, entry.MapperPath())
	}
	r.dest.Cleanup(execctx.Command{
		Args: []string{"cryptdisks_stop", entry.Name},
		Sudo: true,
		TTY:  true,
	})
	return nil
}

func (r *run) mount(ctx context.Context) error {
	dir := r.cfg.MountPoint
	if r.dest == nil {
		r.logger.Warn().Str("mount_point", dir).Msg("skipping mount, destination has no execution context")
		return nil
	}
	active, err := r.dest.Test(ctx, "mountpoint", "-q", dir)
	if err != nil {
		return err
	}
	if active {
		r.logger.Info().Str("mount_point", dir).Msg("filesystem is already mounted")
		return nil
	}

	r.logger.Info().Str("mount_point", dir).Msg("mounting filesystem")
	if _, err := r.dest.Execute(ctx, execctx.Command{Args: []string{"mount", dir}, Sudo: true}); err != nil {
		return fmt.Errorf("%w %s: %w", errdefs.ErrFailedToMount, dir, err)
	}
	active, err = r.dest.Test(ctx, "mountpoint", "-q", dir)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w %s (the mount point is still inactive)", errdefs.ErrFailedToMount, dir)
	}
	r.dest.Cleanup(execctx.Command{Args: []string{"umount", dir}, Sudo: true})
	return nil
}

// snapshot hard links the destination directory into a timestamped
// sibling directory.
func (r *run) snapshot(ctx context.Context, now time.Time) error {
	if r.dest == nil {
		r.logger.Warn().Msg("skipping snapshot, destination has no execution context")
		return nil
	}
	dir := r.cfg.Destination.Directory
	parent, err := r.cfg.Destination.ParentDirectory()
	if err != nil {
		return err
	}
	snapshot := path.Join(parent, SnapshotName(now))
	cmd := execctx.Command{
		Args:   []string{"cp", "--archive", "--link", dir, snapshot},
		IONice: r.cfg.IONice,
	}
	if r.cfg.DryRun {
		r.logger.Info().Str("command", cmd.String()).Msg("dry run, not creating snapshot")
		return nil
	}

	r.logger.Info().Str("snapshot", snapshot).Msg("creating snapshot")
	if _, err := r.dest.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	r.result.Actions = append(r.result.Actions, ActionSnapshot)
	return nil
}

func (r *run) rotate(ctx context.Context, svc rotation.Service) error {
	if r.dest == nil {
		r.logger.Warn().Msg("skipping snapshot rotation, destination has no execution context")
		return nil
	}
	parent, err := r.cfg.Destination.ParentDirectory()
	if err != nil {
		return err
	}
	if err := svc.Rotate(ctx, r.dest, rotation.Options{
		Directory: parent,
		Scheme:    r.cfg.RotationScheme,
		DryRun:    r.cfg.DryRun,
		IONice:    r.cfg.IONice,
	}); err != nil {
		return err
	}
	r.result.Actions = append(r.result.Actions, ActionRotate)
	return nil
}

// SnapshotName returns the directory name of a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return t.Format(SnapshotLayout)
}

func joinActions(actions []string) string {
	switch len(actions) {
	case 0:
		return "do nothing"
	case 1:
		return actions[0]
	}
	out := actions[0]
	for _, a := range actions[1 : len(actions)-1] {
		out += ", " + a
	}
	return out + " and " + actions[len(actions)-1]
}

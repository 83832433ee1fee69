package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/fgeck/rsync-system-backup/internal/config"
	"github.com/fgeck/rsync-system-backup/internal/errdefs"
	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/runner"
)

var runCmd = &cobra.Command{
	Use:   "run [SOURCE] DESTINATION",
	Short: "Execute the backup workflow",
	Long: `Execute the backup workflow:
1. Wake-on-LAN (if configured)
2. Check that the encrypted backup disk is connected (--crypto)
3. Unlock the encrypted filesystem (--crypto)
4. Mount the backup filesystem (--mount)
5. Transfer SOURCE (default: /) to DESTINATION using rsync
6. Create a hard linked snapshot of the backup
7. Rotate old snapshots
8. Lock and unmount what was unlocked and mounted

By default all of backup, snapshot and rotate run. Passing any of
--backup, --snapshot or --rotate runs only the given ones.

DESTINATION is a local directory, [USER@]HOST:DIR (SSH),
HOST::MODULE[/DIR] or rsync://[USER@]HOST[:PORT]/MODULE[/DIR] (rsync
daemon). When omitted, $RSYNC_MODULE_PATH is used.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runBackup,
}

func init() {
	addBackupFlags(runCmd.Flags())
}

// addBackupFlags defines the flags that are bound into the config parser.
func addBackupFlags(fs *pflag.FlagSet) {
	fs.BoolP("backup", "b", false, "create or update the backup")
	fs.BoolP("snapshot", "s", false, "create a snapshot of the backup")
	fs.BoolP("rotate", "r", false, "rotate old snapshots")
	fs.StringP("mount", "m", "", "mount point of the backup filesystem")
	fs.StringP("crypto", "c", "", "crypttab name of the encrypted backup filesystem")
	fs.String("crypttab", models.DefaultCrypttabPath, "crypttab file on the destination")
	fs.StringP("tunnel", "t", "", "connect to the rsync daemon through an SSH tunnel to [USER@]HOST[:PORT]")
	fs.Int("tunnel-local-port", 0, "local port of the SSH tunnel (default: pick a free port)")
	fs.StringP("ionice", "i", "", "I/O scheduling class: idle, best-effort or realtime")
	fs.BoolP("no-sudo", "u", false, "don't run privileged commands with sudo")
	fs.BoolP("dry-run", "n", false, "show what would be transferred without changing anything")
	fs.Bool("multi-fs", false, "cross filesystem boundaries")
	fs.StringArrayP("exclude", "x", nil, "exclude files matching the rsync pattern (repeatable)")
	fs.Bool("no-default-excludes", false, "don't exclude /dev, /proc, /sys, ... by default")
	fs.StringToString("rotation", nil, "rotation scheme, e.g. daily=7,monthly=always")
	fs.Bool("disable-notifications", false, "don't send notifications")
	fs.Count("rsync-verbose", "make rsync more verbose (repeatable)")
	fs.Bool("progress", false, "show rsync transfer progress")
	fs.BoolP("force", "f", false, "run on unsupported platforms")
	fs.String("ssh-key", "", "private key for SSH destinations and tunnels")
	fs.Int("ssh-port", 0, "SSH port (default 22)")
	fs.String("known-hosts", "", "known_hosts file used to verify SSH host keys (default ~/.ssh/known_hosts)")
	fs.Bool("insecure-ignore-host-key", false, "don't verify SSH host keys")
}

func loadConfig(cmd *cobra.Command, args []string) (*models.BackupConfig, error) {
	parser := config.NewParser()
	if err := parser.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := parser.SetArgs(args); err != nil {
		return nil, err
	}

	var (
		cfg *models.BackupConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.Resolve()
	}
	if err != nil {
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return reportError(log.Logger, err, false)
	}

	log.Info().
		Str("config", configFile).
		Str("source", cfg.Source).
		Str("destination", cfg.Destination.String()).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	runnerSvc := runner.New(log.Logger)
	if _, err := runnerSvc.Run(ctx, *cfg); err != nil {
		return reportError(log.Logger, err, unattended(os.Stdout))
	}
	return nil
}

// reportError logs err and returns nil when the process should still exit
// successfully: a missing backup disk is expected when running unattended
// (e.g. from cron while the disk isn't connected).
func reportError(logger zerolog.Logger, err error, unattended bool) error {
	switch {
	case errors.Is(err, errdefs.ErrMissingBackupDisk) && unattended:
		logger.Info().Msgf("Skipping backup: %s", err)
		return nil
	case errdefs.IsKnown(err):
		logger.Error().Msgf("Aborting due to error: %s", err)
	default:
		logger.Error().
			Err(err).
			Str("type", fmt.Sprintf("%T", rootCause(err))).
			Msg("backup failed with unexpected error")
	}
	return err
}

// unattended reports whether out isn't connected to a terminal, e.g. when
// running from cron or a systemd timer.
func unattended(out *os.File) bool {
	return !term.IsTerminal(int(out.Fd()))
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

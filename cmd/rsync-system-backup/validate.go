package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/runner"
	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
)

var validateCmd = &cobra.Command{
	Use:   "validate [SOURCE] DESTINATION",
	Short: "Validate the configuration",
	Long: `Resolve flags, environment and config file and print the result without executing any backup operations.

With --check-ssh, connect to the SSH destination and the tunnel server
to verify that they are reachable with the configured credentials.`,
	Args:  cobra.MaximumNArgs(2),
	RunE:  validateConfig,
}

var checkSSH bool

func init() {
	addBackupFlags(validateCmd.Flags())
	validateCmd.Flags().BoolVar(&checkSSH, "check-ssh", false, "connect to the SSH destination and tunnel server")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	printSummary(cfg)

	if checkSSH {
		if err := checkConnections(cmd.Context(), sshsvc.New(log.Logger), cfg, os.Stdout); err != nil {
			log.Error().Err(err).Msg("SSH connection check failed")
			return err
		}
	}
	return nil
}

type sshTarget struct {
	name string
	cfg  models.SSHConfig
}

// sshTargets returns the SSH servers a backup run connects to.
func sshTargets(cfg *models.BackupConfig) []sshTarget {
	var targets []sshTarget
	if cfg.Destination.IsRemote() && !cfg.Destination.IsDaemon() {
		targets = append(targets, sshTarget{"destination", runner.RemoteSSHConfig(*cfg)})
	}
	if cfg.Tunnel != nil {
		targets = append(targets, sshTarget{"tunnel", runner.TunnelSSHConfig(*cfg)})
	}
	return targets
}

func checkConnections(ctx context.Context, svc sshsvc.Service, cfg *models.BackupConfig, out io.Writer) error {
	targets := sshTargets(cfg)
	fmt.Fprintln(out)
	if len(targets) == 0 {
		fmt.Fprintln(out, "No SSH connections to check")
		return nil
	}

	fmt.Fprintln(out, "SSH Connections:")
	var errs []error
	for _, target := range targets {
		addr := sshsvc.Address(target.cfg)
		if _, err := svc.TestConnection(ctx, target.cfg); err != nil {
			fmt.Fprintf(out, "  %s (%s): failed\n", target.name, addr)
			errs = append(errs, fmt.Errorf("%s %s: %w", target.name, addr, err))
			continue
		}
		fmt.Fprintf(out, "  %s (%s): ok\n", target.name, addr)
	}
	return errors.Join(errs...)
}

func enabled(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printSummary(cfg *models.BackupConfig) {
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Source: %s\n", cfg.Source)
	fmt.Printf("  Destination: %s\n", cfg.Destination)
	fmt.Printf("  Backup: %s\n", enabled(cfg.BackupEnabled))
	fmt.Printf("  Snapshot: %s\n", enabled(cfg.SnapshotEnabled))
	fmt.Printf("  Rotate: %s\n", enabled(cfg.RotateEnabled))
	fmt.Printf("  Dry run: %s\n", enabled(cfg.DryRun))
	fmt.Printf("  Sudo: %s\n", enabled(cfg.SudoEnabled))
	fmt.Printf("  Notifications: %s\n", enabled(cfg.NotificationsEnabled))
	if cfg.IONice != "" {
		fmt.Printf("  I/O scheduling class: %s\n", cfg.IONice)
	}

	if cfg.CryptoDevice != "" || cfg.MountPoint != "" {
		fmt.Println()
		fmt.Println("Backup Disk:")
		if cfg.CryptoDevice != "" {
			fmt.Printf("  Encrypted filesystem: %s (%s)\n", cfg.CryptoDevice, cfg.CrypttabPath)
		}
		if cfg.MountPoint != "" {
			fmt.Printf("  Mount point: %s\n", cfg.MountPoint)
		}
	}

	fmt.Println()
	fmt.Println("Excludes:")
	for _, pattern := range cfg.ExcludePatterns {
		fmt.Printf("  %s\n", pattern)
	}

	fmt.Println()
	fmt.Println("Rotation Scheme:")
	for _, period := range models.RotationPeriods {
		count, ok := cfg.RotationScheme[period]
		if !ok {
			continue
		}
		if count == models.RetainAlways {
			fmt.Printf("  %s: always\n", period)
			continue
		}
		fmt.Printf("  %s: %d\n", period, count)
	}

	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  SSH tunnel: %v\n", cfg.Tunnel != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics != nil)

	if cfg.Tunnel != nil {
		fmt.Println()
		fmt.Println("Tunnel Configuration:")
		host := cfg.Tunnel.Host
		if cfg.Tunnel.Username != "" {
			host = cfg.Tunnel.Username + "@" + host
		}
		fmt.Printf("  SSH server: %s:%d\n", host, cfg.Tunnel.Port)
		if cfg.Tunnel.LocalPort != 0 {
			fmt.Printf("  Local port: %d\n", cfg.Tunnel.LocalPort)
		}
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.WaitAddress != "" {
			fmt.Printf("  Wait for: %s\n", cfg.WOL.WaitAddress)
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Metrics != nil {
		fmt.Println()
		fmt.Println("Metrics Configuration:")
		fmt.Printf("  Pushgateway: %s\n", cfg.Metrics.PushgatewayURL)
		if cfg.Metrics.Job != "" {
			fmt.Printf("  Job: %s\n", cfg.Metrics.Job)
		}
	}

	if len(cfg.ExcludePatterns) == 0 {
		fmt.Println()
		fmt.Println("Warning: nothing is excluded")
	}
}

// Package models contains the data structures used throughout rsync-system-backup.
package models

import (
	"github.com/fgeck/rsync-system-backup/internal/destination"
)

// DefaultSource is the directory that is backed up when no source is given.
const DefaultSource = "/"

// DefaultCrypttabPath is where encrypted filesystems are looked up.
const DefaultCrypttabPath = "/etc/crypttab"

// DefaultExcludes are rooted to the top of the transferred tree.
var DefaultExcludes = []string{
	"/dev/",
	"/home/*/.cache/",
	"/media/",
	"/mnt/",
	"/proc/",
	"/run/",
	"/sys/",
	"/tmp/",
	"/var/cache/",
	"/var/tmp/",
}

// IONiceClasses are the I/O scheduling classes understood by ionice.
var IONiceClasses = []string{"idle", "best-effort", "realtime"}

// BackupConfig holds the complete, resolved configuration for a backup run.
// It is read-only once the run starts.
type BackupConfig struct {
	BackupEnabled   bool
	SnapshotEnabled bool
	RotateEnabled   bool

	Source       string
	Destination  *destination.Destination
	CryptoDevice string // empty if not configured
	MountPoint   string // empty if not configured
	CrypttabPath string

	ExcludePatterns []string
	RotationScheme  RotationScheme

	SudoEnabled          bool
	DryRun               bool
	NotificationsEnabled bool
	IONice               string // empty, "idle", "best-effort" or "realtime"
	MultiFS              bool   // cross filesystem boundaries
	RsyncVerbosity       int    // extra --verbose flags
	RsyncProgress        bool
	Force                bool // run on unsupported platforms

	SSH      SSHConfig
	Tunnel   *TunnelConfig   // nil if not configured
	Telegram *TelegramConfig // nil if not configured
	WOL      *WOLConfig      // nil if not configured
	Metrics  *MetricsConfig  // nil if not configured
}

// MetricsConfig holds Prometheus Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

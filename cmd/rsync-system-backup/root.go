package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	logFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "rsync-system-backup",
	Short: "Linux system backups powered by rsync",
	Long: `rsync-system-backup creates full system backups of Linux hosts using rsync:
  - Unlocking and mounting encrypted backup disks (crypttab)
  - Transferring the system with rsync (local, SSH or rsync daemon)
  - Hard linked snapshots of the backup
  - Rotation of old snapshots with rotate-backups
  - Desktop and Telegram notifications

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stdout)
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file (rotated by size)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging(out io.Writer) {
	var output io.Writer = out
	if !jsonOutput {
		console := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		console.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		output = console
	}

	if logFile != "" {
		output = zerolog.MultiLevelWriter(output, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     90, // days
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

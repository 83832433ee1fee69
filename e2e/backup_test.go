//go:build e2e

package e2e

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgeck/rsync-system-backup/internal/destination"
	"github.com/fgeck/rsync-system-backup/internal/errdefs"
	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/fgeck/rsync-system-backup/internal/services/runner"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
}

// layout creates a source tree with a regular file and a symbolic link,
// and an empty backup directory.
func layout(t *testing.T) (source, backups string) {
	t.Helper()
	root := t.TempDir()
	source = filepath.Join(root, "source")
	backups = filepath.Join(root, "backups")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "etc", "hostname"), []byte("laptop\n"), 0o644))
	require.NoError(t, os.Symlink("etc/hostname", filepath.Join(source, "hostname")))
	require.NoError(t, os.MkdirAll(filepath.Join(backups, "latest"), 0o755))
	return source, backups
}

func localConfig(t *testing.T, source, backups string) models.BackupConfig {
	t.Helper()
	dest, err := destination.Parse(filepath.Join(backups, "latest"))
	require.NoError(t, err)
	return models.BackupConfig{
		BackupEnabled:   true,
		SnapshotEnabled: true,
		Source:          source,
		Destination:     dest,
		CrypttabPath:    models.DefaultCrypttabPath,
		RotationScheme:  models.DefaultRotationScheme(),
		Force:           true,
	}
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestBackupAndSnapshot_E2E(t *testing.T) {
	requireTools(t, "rsync", "cp")
	source, backups := layout(t)

	result, err := runner.New(testLogger()).Run(context.Background(), localConfig(t, source, backups))
	require.NoError(t, err)
	assert.Equal(t, []string{runner.ActionBackup, runner.ActionSnapshot}, result.Actions)

	latest := filepath.Join(backups, "latest")
	data, err := os.ReadFile(filepath.Join(latest, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "laptop\n", string(data))

	target, err := os.Readlink(filepath.Join(latest, "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "etc/hostname", target)

	names := entries(t, backups)
	require.Len(t, names, 2)
	assert.Contains(t, names, "latest")
	snapshot := names[0]
	if snapshot == "latest" {
		snapshot = names[1]
	}
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, snapshot)

	original, err := os.Stat(filepath.Join(latest, "etc", "hostname"))
	require.NoError(t, err)
	linked, err := os.Stat(filepath.Join(backups, snapshot, "etc", "hostname"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(original, linked), "snapshot files are hard links")
}

func TestBackupDeletesRemovedFiles_E2E(t *testing.T) {
	requireTools(t, "rsync")
	source, backups := layout(t)
	cfg := localConfig(t, source, backups)
	cfg.SnapshotEnabled = false

	stale := filepath.Join(backups, "latest", "stale")
	require.NoError(t, os.WriteFile(stale, []byte("gone"), 0o644))

	_, err := runner.New(testLogger()).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestDryRun_E2E(t *testing.T) {
	requireTools(t, "rsync")
	source, backups := layout(t)
	cfg := localConfig(t, source, backups)
	cfg.DryRun = true

	_, err := runner.New(testLogger()).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Empty(t, entries(t, filepath.Join(backups, "latest")))
	assert.Equal(t, []string{"latest"}, entries(t, backups), "no snapshot during a dry run")
}

func TestMissingDisk_E2E(t *testing.T) {
	requireTools(t, "rsync")
	source, backups := layout(t)

	crypttab := filepath.Join(t.TempDir(), "crypttab")
	require.NoError(t, os.WriteFile(crypttab,
		[]byte("backups /nonexistent/backup-disk none luks,noauto\n"), 0o644))

	cfg := localConfig(t, source, backups)
	cfg.CryptoDevice = "backups"
	cfg.CrypttabPath = crypttab

	_, err := runner.New(testLogger()).Run(context.Background(), cfg)
	require.ErrorIs(t, err, errdefs.ErrMissingBackupDisk)
	assert.True(t, errdefs.IsKnown(err))
	assert.Contains(t, err.Error(), "/nonexistent/backup-disk")

	assert.Empty(t, entries(t, filepath.Join(backups, "latest")))
}

package crypttab

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgeck/rsync-system-backup/internal/services/execctx"
)

const sample = `# <target name> <source device> <key file> <options>
cryptroot   UUID=7a2b1c6d-0000-4000-8000-000000000001 none luks,discard

backups     /dev/sdb1                                 /root/backups.key luks,noauto
offsite     PARTLABEL=offsite
`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "cryptroot", entries[0].Name)
	assert.Empty(t, entries[0].KeyFile)
	assert.Equal(t, []string{"luks", "discard"}, entries[0].Options)
	assert.Equal(t, "/dev/disk/by-uuid/7a2b1c6d-0000-4000-8000-000000000001", entries[0].SourcePath())

	assert.Equal(t, "/root/backups.key", entries[1].KeyFile)
	assert.Equal(t, "/dev/sdb1", entries[1].SourcePath())
	assert.Equal(t, "/dev/mapper/backups", entries[1].MapperPath())

	assert.Nil(t, entries[2].Options)
	assert.Equal(t, "/dev/disk/by-partlabel/offsite", entries[2].SourcePath())
}

func TestParse_InvalidLine(t *testing.T) {
	_, err := Parse(strings.NewReader("lonely\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestSourcePath_Tags(t *testing.T) {
	tests := map[string]string{
		"LABEL=backups":  "/dev/disk/by-label/backups",
		"PARTUUID=1234":  "/dev/disk/by-partuuid/1234",
		"uuid=abcd":      "/dev/disk/by-uuid/abcd",
		"/dev/nvme0n1p3": "/dev/nvme0n1p3",
		"OTHER=thing":    "OTHER=thing",
	}
	for device, want := range tests {
		t.Run(device, func(t *testing.T) {
			assert.Equal(t, want, Entry{Device: device}.SourcePath())
		})
	}
}

func testService() *Impl {
	return New(zerolog.New(io.Discard), "/etc/crypttab")
}

func TestLookup(t *testing.T) {
	ec := &execctx.MockContext{
		ExecuteFunc: func(_ context.Context, cmd execctx.Command) (*execctx.Result, error) {
			return &execctx.Result{Output: []byte(sample)}, nil
		},
	}

	entry, err := testService().Lookup(context.Background(), ec, "backups")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/dev/sdb1", entry.Device)
	assert.Equal(t, []string{"cat", "/etc/crypttab"}, ec.Executed[0].Args)

	entry, err = testService().Lookup(context.Background(), ec, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLookup_Unreadable(t *testing.T) {
	ec := &execctx.MockContext{
		ExecuteFunc: func(context.Context, execctx.Command) (*execctx.Result, error) {
			return &execctx.Result{ExitCode: 1}, &execctx.CommandError{Command: "cat /etc/crypttab", ExitCode: 1}
		},
	}

	entry, err := testService().Lookup(context.Background(), ec, "backups")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLookup_TransportError(t *testing.T) {
	ec := &execctx.MockContext{
		ExecuteFunc: func(context.Context, execctx.Command) (*execctx.Result, error) {
			return nil, assert.AnError
		},
	}

	_, err := testService().Lookup(context.Background(), ec, "backups")
	require.ErrorIs(t, err, assert.AnError)
}

func TestAvailability(t *testing.T) {
	var tested [][]string
	ec := &execctx.MockContext{
		TestFunc: func(_ context.Context, args ...string) (bool, error) {
			tested = append(tested, args)
			return args[2] == "/dev/sdb1", nil
		},
	}
	entry := Entry{Name: "backups", Device: "/dev/sdb1"}
	svc := testService()

	ok, err := svc.IsAvailable(context.Background(), ec, entry)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsUnlocked(context.Background(), ec, entry)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, [][]string{
		{"test", "-e", "/dev/sdb1"},
		{"test", "-e", "/dev/mapper/backups"},
	}, tested)
}

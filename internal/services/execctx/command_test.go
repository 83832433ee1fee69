package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		elevate bool
		want    []string
	}{
		{
			name: "plain",
			cmd:  NewCommand("mountpoint", "-q", "/mnt/backups"),
			want: []string{"mountpoint", "-q", "/mnt/backups"},
		},
		{
			name:    "sudo",
			cmd:     NewCommand("mount", "/mnt/backups"),
			elevate: true,
			want:    []string{"sudo", "mount", "/mnt/backups"},
		},
		{
			name: "environment is sorted",
			cmd:  Command{Args: []string{"rsync"}, Env: map[string]string{"HOME": "", "LC_ALL": "C"}},
			want: []string{"env", "HOME=", "LC_ALL=C", "rsync"},
		},
		{
			name:    "everything",
			cmd:     Command{Args: []string{"rsync", "/", "/mnt"}, Env: map[string]string{"HOME": ""}, IONice: "idle"},
			elevate: true,
			want:    []string{"sudo", "env", "HOME=", "ionice", "--class", "idle", "rsync", "/", "/mnt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.cmd, tt.elevate))
		})
	}
}

func TestCommandString(t *testing.T) {
	cmd := NewCommand("cp", "--archive", "--link", "/mnt/latest", "/mnt/2024-01-02 03:04:05")
	assert.Equal(t, "cp --archive --link /mnt/latest '/mnt/2024-01-02 03:04:05'", cmd.String())
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "false", ExitCode: 1}
	assert.Equal(t, "external command failed with exit code 1: false", err.Error())

	err = &CommandError{Command: "rsync", ExitCode: 12, Output: "protocol error\n"}
	assert.Equal(t, "external command failed with exit code 12: rsync, output: protocol error", err.Error())
}

func TestCleanupStack_DrainsInReverse(t *testing.T) {
	var stack CleanupStack
	stack.Push(NewCommand("first"))
	stack.Push(NewCommand("second"))
	stack.Push(NewCommand("third"))
	assert.Equal(t, 3, stack.Len())

	var order []string
	errs := stack.Drain(func(cmd Command) error {
		order = append(order, cmd.Args[0])
		if cmd.Args[0] == "second" {
			return assert.AnError
		}
		return nil
	})

	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Len(t, errs, 1)
	assert.Equal(t, 0, stack.Len())
}

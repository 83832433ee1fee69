package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrMissingBackupDisk, want: true},
		{name: "wrapped", err: fmt.Errorf("%w: /dev/sdb1 doesn't exist", ErrMissingBackupDisk), want: true},
		{name: "double wrapped", err: fmt.Errorf("snapshot: %w", fmt.Errorf("%w: /", ErrParentDirectoryUnavailable)), want: true},
		{name: "unknown", err: errors.New("rsync exited with 12"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKnown(tt.err))
		})
	}
}

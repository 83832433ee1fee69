package execctx

import (
	"context"
	"errors"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// Context executes commands on one machine.
type Context interface {
	// Execute runs cmd and returns a *CommandError for nonzero exits.
	Execute(ctx context.Context, cmd Command) (*Result, error)
	// Test runs a command and reports whether it exited with status zero.
	Test(ctx context.Context, args ...string) (bool, error)
	// IsDirectory reports whether path is a directory.
	IsDirectory(ctx context.Context, path string) (bool, error)
	// Cleanup registers a command to run when the context is closed.
	Cleanup(cmd Command)
	// Close runs the registered cleanup commands, newest first, and
	// releases the context. Cleanup failures are logged, not returned.
	Close(ctx context.Context) error
	// String describes the machine, for logs.
	String() string
}

// runner executes a rendered argument vector.
type runner interface {
	run(ctx context.Context, argv []string, cmd Command) (*Result, error)
	privileged() bool
	close() error
	name() string
}

// shell implements Context on top of a runner.
type shell struct {
	runner  runner
	sudo    bool
	cleanup CleanupStack
	logger  zerolog.Logger
}

func (s *shell) Execute(ctx context.Context, cmd Command) (*Result, error) {
	elevate := (s.sudo || cmd.Sudo) && !s.runner.privileged()
	argv := render(cmd, elevate)
	line := shellquote.Join(argv...)

	s.logger.Debug().
		Str("context", s.runner.name()).
		Str("command", line).
		Msg("executing command")

	start := time.Now()
	result, err := s.runner.run(ctx, argv, cmd)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	if result.ExitCode != 0 {
		return result, &CommandError{
			Command:  line,
			ExitCode: result.ExitCode,
			Output:   string(result.Output),
		}
	}
	return result, nil
}

func (s *shell) Test(ctx context.Context, args ...string) (bool, error) {
	_, err := s.Execute(ctx, NewCommand(args...))
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, err
}

func (s *shell) IsDirectory(ctx context.Context, path string) (bool, error) {
	return s.Test(ctx, "test", "-d", path)
}

func (s *shell) Cleanup(cmd Command) {
	s.logger.Debug().
		Str("context", s.runner.name()).
		Str("command", cmd.String()).
		Msg("registered cleanup command")
	s.cleanup.Push(cmd)
}

func (s *shell) Close(ctx context.Context) error {
	if n := s.cleanup.Len(); n > 0 {
		s.logger.Info().Int("commands", n).Str("context", s.runner.name()).Msg("running cleanup commands")
	}
	s.cleanup.Drain(func(cmd Command) error {
		if _, err := s.Execute(ctx, cmd); err != nil {
			s.logger.Warn().Err(err).Str("command", cmd.String()).Msg("cleanup command failed")
			return err
		}
		return nil
	})
	return s.runner.close()
}

func (s *shell) String() string {
	return s.runner.name()
}

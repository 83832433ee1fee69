// Package execctx runs external programs on the source or destination
// machine of a backup, locally or over SSH, optionally with elevated
// privileges.
package execctx

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Command describes an external program invocation.
type Command struct {
	Args []string
	// Sudo forces privilege elevation regardless of the context default.
	Sudo bool
	// TTY connects the program to the controlling terminal, e.g. for
	// password prompts.
	TTY bool
	// Env overrides environment variables. An empty value clears the
	// variable.
	Env map[string]string
	// IONice runs the program with the given I/O scheduling class.
	IONice string
	// Output receives the combined output instead of capturing it.
	Output io.Writer
}

// NewCommand returns a Command for the given program and arguments.
func NewCommand(args ...string) Command {
	return Command{Args: args}
}

// String returns the command line, quoted for a POSIX shell.
func (c Command) String() string {
	return shellquote.Join(c.Args...)
}

// Result holds the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
}

// CommandError is returned when a command exits with a nonzero status.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("external command failed with exit code %d: %s", e.ExitCode, e.Command)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ", output: " + out
	}
	return msg
}

// render builds the argument vector that is actually executed:
// [sudo] [env K=V...] [ionice --class CLASS] program args...
func render(cmd Command, elevate bool) []string {
	argv := make([]string, 0, len(cmd.Args)+8)
	if elevate {
		argv = append(argv, "sudo")
	}
	if len(cmd.Env) > 0 {
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		argv = append(argv, "env")
		for _, k := range keys {
			argv = append(argv, k+"="+cmd.Env[k])
		}
	}
	if cmd.IONice != "" {
		argv = append(argv, "ionice", "--class", cmd.IONice)
	}
	return append(argv, cmd.Args...)
}

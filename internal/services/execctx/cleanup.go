package execctx

// CleanupStack holds commands that undo successful actions, such as
// locking a device that was unlocked. Commands run in reverse order of
// registration.
type CleanupStack struct {
	commands []Command
}

// Push registers a cleanup command.
func (s *CleanupStack) Push(cmd Command) {
	s.commands = append(s.commands, cmd)
}

// Len returns the number of pending cleanup commands.
func (s *CleanupStack) Len() int {
	return len(s.commands)
}

// Drain pops every command, newest first, and passes it to run. Errors
// don't stop the drain; they are returned together.
func (s *CleanupStack) Drain(run func(Command) error) []error {
	var errs []error
	for len(s.commands) > 0 {
		last := len(s.commands) - 1
		cmd := s.commands[last]
		s.commands = s.commands[:last]
		if err := run(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

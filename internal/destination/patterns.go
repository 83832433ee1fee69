package destination

import "regexp"

// The patterns are tried in order; the first match wins.
var patterns = []*regexp.Regexp{
	// rsync://[USER@]HOST[:PORT]/MODULE[/DIR]
	regexp.MustCompile(`^rsync://(?:(?P<username>[^@]+)@)?(?P<hostname>[^:/]+)(?::(?P<port_number>\d+))?/(?P<module>[^/]+)(?:/(?P<directory>.*))?$`),
	// [USER@]HOST::MODULE[/DIR]
	regexp.MustCompile(`^(?:(?P<username>[^@]+)@)?(?P<hostname>[^:]+)::(?P<module>[^/]+)(?:/(?P<directory>.*))?$`),
	// [USER@]HOST:DIR
	regexp.MustCompile(`^(?:(?P<username>[^@]+)@)?(?P<hostname>[^:]+):(?P<directory>.*)$`),
	// DIR
	regexp.MustCompile(`(?s)^(?P<directory>.+)$`),
}

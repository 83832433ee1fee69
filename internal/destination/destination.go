// Package destination models the location where backups are written and
// converts between that model and rsync's command line syntax.
package destination

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/rsync-system-backup/internal/errdefs"
)

// DefaultPort is the port an rsync daemon listens on by default.
const DefaultPort = 873

// Tunnel is a locally forwarded port that relays connections to a remote
// rsync daemon.
type Tunnel interface {
	// Open starts forwarding and returns once the local port accepts
	// connections.
	Open(ctx context.Context) error
	// LocalPort is the port rsync should connect to on localhost.
	LocalPort() int
	// Close stops forwarding.
	Close() error
}

// Destination identifies where backups are written.
//
// The zero value of PortNumber means DefaultPort. Fields may be changed
// directly until the backup starts; Expression always reflects them.
type Destination struct {
	Username   string
	Hostname   string
	PortNumber int
	// Module is the name of an rsync daemon module. A destination with a
	// module doesn't allow arbitrary command execution.
	Module string
	// Directory is relative to the module root when Module is set and
	// Directory has no leading slash.
	Directory string
	// Tunnel is set when the daemon connection is tunneled over SSH.
	Tunnel Tunnel
}

// Parse parses a destination expression. See the package patterns for the
// supported syntaxes.
func Parse(expression string) (*Destination, error) {
	d := &Destination{PortNumber: DefaultPort}
	for _, p := range patterns {
		match := p.FindStringSubmatch(expression)
		if match == nil {
			continue
		}
		for i, name := range p.SubexpNames() {
			if name == "" || match[i] == "" {
				continue
			}
			if err := d.set(name, match[i]); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: failed to parse expression %q", errdefs.ErrInvalidDestination, expression)
}

func (d *Destination) set(field, value string) error {
	switch field {
	case "username":
		d.Username = value
	case "hostname":
		d.Hostname = value
	case "port_number":
		return d.SetPort(value)
	case "module":
		d.Module = value
	case "directory":
		d.Directory = value
	}
	return nil
}

// SetPort coerces value to a port number.
func (d *Destination) SetPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("port number %q is not an integer: %w", value, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port number %d is out of range", port)
	}
	d.PortNumber = port
	return nil
}

// Port returns the port number of the rsync daemon.
func (d *Destination) Port() int {
	if d.PortNumber == 0 {
		return DefaultPort
	}
	return d.PortNumber
}

// IsDaemon reports whether the destination is an rsync daemon module.
func (d *Destination) IsDaemon() bool {
	return d.Module != ""
}

// IsRemote reports whether the destination lives on another host.
func (d *Destination) IsRemote() bool {
	return d.Hostname != ""
}

// Validate checks that either a host name or a directory is present.
func (d *Destination) Validate() error {
	if d.Hostname == "" && d.Directory == "" {
		return fmt.Errorf("%w: neither a host name nor a directory was given", errdefs.ErrMissingDestination)
	}
	return nil
}

// Expression returns the destination in rsync's command line syntax.
// Parsing the result yields the same field values.
func (d *Destination) Expression() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d.format(d.Hostname, d.Port(), false), nil
}

// RsyncTarget returns the expression rsync should be given. For tunneled
// daemon connections it points at the local end of the tunnel.
func (d *Destination) RsyncTarget() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	if d.Tunnel != nil && d.IsDaemon() {
		return d.format("localhost", d.Tunnel.LocalPort(), true), nil
	}
	return d.format(d.Hostname, d.Port(), false), nil
}

func (d *Destination) format(hostname string, port int, forcePort bool) string {
	if hostname == "" {
		return d.Directory
	}
	var b strings.Builder
	if d.IsDaemon() {
		b.WriteString("rsync://")
	}
	if d.Username != "" {
		b.WriteString(d.Username)
		b.WriteByte('@')
	}
	b.WriteString(hostname)
	if !d.IsDaemon() {
		b.WriteByte(':')
		b.WriteString(d.Directory)
		return b.String()
	}
	if forcePort || port != DefaultPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(port))
	}
	b.WriteByte('/')
	b.WriteString(d.Module)
	if d.Directory != "" {
		b.WriteByte('/')
		b.WriteString(d.Directory)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (d *Destination) String() string {
	expression, err := d.Expression()
	if err != nil {
		return "<invalid destination>"
	}
	return expression
}

// ParentDirectory returns the directory that holds the destination
// directory and its snapshots.
func (d *Destination) ParentDirectory() (string, error) {
	trimmed := strings.TrimRight(d.Directory, "/")
	i := strings.LastIndex(trimmed, "/")
	switch {
	case i < 0:
		return "", fmt.Errorf(
			"%w: can't create or rotate snapshots of %s because %q has no parent directory",
			errdefs.ErrParentDirectoryUnavailable, d, d.Directory,
		)
	case i == 0:
		return "/", nil
	default:
		return trimmed[:i], nil
	}
}

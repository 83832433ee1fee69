package models

// SSHConfig holds the settings for SSH connections to remote hosts.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	KeyPath        string // empty: SSH agent and ~/.ssh/id_* keys
	KnownHostsPath string // empty: ~/.ssh/known_hosts

	// InsecureIgnoreHostKey accepts any host key. Host keys are verified
	// against the known_hosts file unless this is set.
	InsecureIgnoreHostKey bool
}

// TunnelConfig describes the SSH server that tunnels an rsync daemon
// connection.
type TunnelConfig struct {
	Host      string
	Port      int
	Username  string
	LocalPort int // 0 picks a free port
}

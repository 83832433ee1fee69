// Package ssh provides SSH connections to the hosts involved in a backup.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fgeck/rsync-system-backup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the port of the SSH server when none is configured.
const DefaultPort = 22

// Service defines the interface for SSH operations.
type Service interface {
	Connect(ctx context.Context, cfg models.SSHConfig) (SSHClient, error)
	TestConnection(ctx context.Context, cfg models.SSHConfig) (string, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Run(cmd string) error
	RequestPty(term string, height, width int) error
	SetStdio(stdin io.Reader, stdout, stderr io.Writer)
	Signal(sig ssh.Signal) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Dial(network, addr string) (net.Conn, error) {
	return c.client.Dial(network, addr)
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Run(cmd string) error {
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) RequestPty(term string, height, width int) error {
	return s.session.RequestPty(term, height, width, ssh.TerminalModes{ssh.ECHO: 1})
}

func (s *defaultSSHSession) SetStdio(stdin io.Reader, stdout, stderr io.Writer) {
	s.session.Stdin = stdin
	s.session.Stdout = stdout
	s.session.Stderr = stderr
}

func (s *defaultSSHSession) Signal(sig ssh.Signal) error {
	return s.session.Signal(sig)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// DefaultIdentities are the key files in ~/.ssh tried when no key path is
// configured, in order.
var DefaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
	agentSocket   string
	homeDir       string // location of ~/.ssh, empty disables the defaults
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Debug().Err(err).Msg("home directory unknown, no default SSH identities or known_hosts")
	}
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
		agentSocket:   os.Getenv("SSH_AUTH_SOCK"),
		homeDir:       home,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

// authMethods returns the public key auth for cfg. The returned closer
// releases the SSH agent connection, if one was opened, and may be nil.
func (s *Impl) authMethods(cfg models.SSHConfig) ([]ssh.AuthMethod, io.Closer, error) {
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key %s: %w", cfg.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	var agentConn net.Conn
	if s.agentSocket != "" {
		conn, err := net.Dial("unix", s.agentSocket)
		if err != nil {
			s.logger.Warn().Err(err).Str("socket", s.agentSocket).Msg("failed to connect to SSH agent")
		} else {
			agentConn = conn
		}
	}
	identities := s.defaultSigners()

	if agentConn == nil && len(identities) == 0 {
		return nil, nil, fmt.Errorf("no private key provided, no SSH agent available and no default identity found in %s",
			filepath.Join(s.homeDir, ".ssh"))
	}

	signers := func() ([]ssh.Signer, error) {
		var all []ssh.Signer
		if agentConn != nil {
			agentSigners, err := agent.NewClient(agentConn).Signers()
			if err != nil {
				s.logger.Debug().Err(err).Msg("failed to list SSH agent keys")
			}
			all = append(all, agentSigners...)
		}
		return append(all, identities...), nil
	}
	if agentConn == nil {
		return []ssh.AuthMethod{ssh.PublicKeysCallback(signers)}, nil, nil
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(signers)}, agentConn, nil
}

// defaultSigners loads the DefaultIdentities that exist. Keys that can't
// be parsed, e.g. because they are passphrase protected, are skipped.
func (s *Impl) defaultSigners() []ssh.Signer {
	if s.homeDir == "" {
		return nil
	}
	var signers []ssh.Signer
	for _, name := range DefaultIdentities {
		path := filepath.Join(s.homeDir, ".ssh", name)
		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", path).Msg("skipping SSH identity")
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

// knownHostsPath returns the known_hosts file host keys are verified
// against, or "" when none is configured and the home directory is
// unknown.
func (s *Impl) knownHostsPath(cfg models.SSHConfig) string {
	if cfg.KnownHostsPath != "" {
		return cfg.KnownHostsPath
	}
	if s.homeDir == "" {
		return ""
	}
	return filepath.Join(s.homeDir, ".ssh", "known_hosts")
}

func (s *Impl) hostKeyCallback(cfg models.SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		s.logger.Warn().Str("host", cfg.Host).Msg("SSH host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-out
	}
	path := s.knownHostsPath(cfg)
	if path == "" {
		return nil, fmt.Errorf("no known_hosts file configured for %s", cfg.Host)
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts from %s: %w", path, err)
	}
	return callback, nil
}

// buildConfig returns the client config for cfg. The closer must be
// closed once the handshake is done.
func (s *Impl) buildConfig(cfg models.SSHConfig) (*ssh.ClientConfig, io.Closer, error) {
	hostKeyCallback, err := s.hostKeyCallback(cfg)
	if err != nil {
		return nil, nil, err
	}
	auth, closer, err := s.authMethods(cfg)
	if err != nil {
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            username(cfg),
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, closer, nil
}

func username(cfg models.SSHConfig) string {
	if cfg.Username != "" {
		return cfg.Username
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}

// Address returns the host:port the SSH client connects to.
func Address(cfg models.SSHConfig) string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Connect opens an SSH connection to the configured host.
func (s *Impl) Connect(ctx context.Context, cfg models.SSHConfig) (SSHClient, error) {
	sshConfig, agentConn, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := Address(cfg)
	s.logger.Debug().
		Str("addr", addr).
		Str("user", sshConfig.User).
		Msg("connecting to SSH server")

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		if agentConn != nil {
			agentConn.Close()
		}
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		return res.client, nil
	}
}

// TestConnection verifies SSH connectivity by running a trivial command.
func (s *Impl) TestConnection(ctx context.Context, cfg models.SSHConfig) (string, error) {
	client, err := s.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput("echo OK")
	if err != nil {
		return string(output), fmt.Errorf("test command failed: %w", err)
	}
	return string(output), nil
}

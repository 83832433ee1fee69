// Package tunnel forwards a local TCP port to an rsync daemon through an
// SSH connection.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
	sshsvc "github.com/fgeck/rsync-system-backup/internal/services/ssh"
)

// Impl implements destination.Tunnel using SSH local port forwarding.
type Impl struct {
	ssh       sshsvc.Service
	cfg       models.SSHConfig
	localPort int
	target    string
	logger    zerolog.Logger

	mu       sync.Mutex
	client   sshsvc.SSHClient
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a tunnel through the SSH server in cfg. Connections to
// 127.0.0.1:localPort are forwarded to target (host:port as seen from the
// SSH server). A localPort of 0 picks a free port when the tunnel opens.
func New(logger zerolog.Logger, ssh sshsvc.Service, cfg models.SSHConfig, localPort int, target string) *Impl {
	return &Impl{
		ssh:       ssh,
		cfg:       cfg,
		localPort: localPort,
		target:    target,
		logger:    logger,
	}
}

// Open connects to the SSH server and starts accepting local connections.
func (t *Impl) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return nil
	}

	client, err := t.ssh.Connect(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("failed to open tunnel to %s: %w", t.cfg.Host, err)
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(t.localPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	t.client = client
	t.listener = listener
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		t.localPort = tcp.Port
	}

	t.logger.Info().
		Str("via", t.cfg.Host).
		Str("target", t.target).
		Int("local_port", t.localPort).
		Msg("tunnel opened")

	t.wg.Add(1)
	go t.accept(listener, client)
	return nil
}

func (t *Impl) accept(listener net.Listener, client sshsvc.SSHClient) {
	defer t.wg.Done()
	for {
		local, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Warn().Err(err).Msg("tunnel stopped accepting connections")
			}
			return
		}
		t.wg.Add(1)
		go t.forward(local, client)
	}
}

func (t *Impl) forward(local net.Conn, client sshsvc.SSHClient) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := client.Dial("tcp", t.target)
	if err != nil {
		t.logger.Warn().Err(err).Str("target", t.target).Msg("failed to reach tunnel target")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)
	<-done
}

// LocalPort returns the forwarded local port. Before Open it returns the
// configured port, which may be 0.
func (t *Impl) LocalPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localPort
}

// Close stops accepting connections and closes the SSH connection.
func (t *Impl) Close() error {
	t.mu.Lock()
	listener, client := t.listener, t.client
	t.listener, t.client = nil, nil
	t.mu.Unlock()

	if listener == nil {
		return nil
	}

	var errs []error
	if err := listener.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := client.Close(); err != nil {
		errs = append(errs, err)
	}
	t.wg.Wait()

	t.logger.Debug().Str("target", t.target).Msg("tunnel closed")
	return errors.Join(errs...)
}

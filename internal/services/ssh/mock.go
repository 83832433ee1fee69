package ssh

import (
	"io"
	"net"

	"golang.org/x/crypto/ssh"
)

// MockSession is a function-field SSHSession for tests.
type MockSession struct {
	CombinedOutputFunc func(cmd string) ([]byte, error)
	RunFunc            func(cmd string) error
	RequestPtyFunc     func(term string, height, width int) error
	SignalFunc         func(sig ssh.Signal) error
	CloseFunc          func() error

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CombinedOutput calls CombinedOutputFunc or returns empty output.
func (m *MockSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.CombinedOutputFunc != nil {
		return m.CombinedOutputFunc(cmd)
	}
	return []byte(""), nil
}

// Run calls RunFunc or succeeds.
func (m *MockSession) Run(cmd string) error {
	if m.RunFunc != nil {
		return m.RunFunc(cmd)
	}
	return nil
}

// RequestPty calls RequestPtyFunc or succeeds.
func (m *MockSession) RequestPty(term string, height, width int) error {
	if m.RequestPtyFunc != nil {
		return m.RequestPtyFunc(term, height, width)
	}
	return nil
}

// SetStdio records the streams.
func (m *MockSession) SetStdio(stdin io.Reader, stdout, stderr io.Writer) {
	m.Stdin, m.Stdout, m.Stderr = stdin, stdout, stderr
}

// Signal calls SignalFunc or succeeds.
func (m *MockSession) Signal(sig ssh.Signal) error {
	if m.SignalFunc != nil {
		return m.SignalFunc(sig)
	}
	return nil
}

// Close calls CloseFunc or succeeds.
func (m *MockSession) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockClient is a function-field SSHClient for tests.
type MockClient struct {
	NewSessionFunc func() (SSHSession, error)
	DialFunc       func(network, addr string) (net.Conn, error)
	CloseFunc      func() error
}

// NewSession calls NewSessionFunc or returns an empty MockSession.
func (m *MockClient) NewSession() (SSHSession, error) {
	if m.NewSessionFunc != nil {
		return m.NewSessionFunc()
	}
	return &MockSession{}, nil
}

// Dial calls DialFunc or fails.
func (m *MockClient) Dial(network, addr string) (net.Conn, error) {
	if m.DialFunc != nil {
		return m.DialFunc(network, addr)
	}
	return nil, net.ErrClosed
}

// Close calls CloseFunc or succeeds.
func (m *MockClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockClientFactory is a function-field ClientFactory for tests.
type MockClientFactory struct {
	NewClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// NewClient calls NewClientFunc or returns an empty MockClient.
func (m *MockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.NewClientFunc != nil {
		return m.NewClientFunc(network, addr, config)
	}
	return &MockClient{}, nil
}

var (
	_ SSHSession    = (*MockSession)(nil)
	_ SSHClient     = (*MockClient)(nil)
	_ ClientFactory = (*MockClientFactory)(nil)
)

package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockDialer struct {
	dialFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if m.dialFunc != nil {
		return m.dialFunc(ctx, network, address)
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestWake_Success_NoWaitAddress(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)

	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, nil)

	cfg := models.WOLConfig{
		MACAddress:  "invalid-mac",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network error")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)

	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_WaitAddress_ImmediateSuccess(t *testing.T) {
	var dialed string
	dialer := &mockDialer{
		dialFunc: func(_ context.Context, network, address string) (net.Conn, error) {
			dialed = network + "://" + address
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		WaitAddress:  "192.168.1.100:22",
		Timeout:      10 * time.Second,
		PollInterval: 1 * time.Second,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, "tcp://192.168.1.100:22", dialed)
}

func TestWake_WaitAddress_DelayedSuccess(t *testing.T) {
	callCount := 0
	dialer := &mockDialer{
		dialFunc: func(context.Context, string, string) (net.Conn, error) {
			callCount++
			if callCount < 3 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		WaitAddress:  "192.168.1.100:873",
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, callCount, 3)
}

func TestWake_WaitAddress_Timeout(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		WaitAddress:  "192.168.1.100:22",
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	ctx, cancel := context.WithCancel(context.Background())

	cfg := models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		WaitAddress:  "192.168.1.100:22",
		Timeout:      10 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}

	// Cancel context after a short delay
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Equal(t, context.Canceled, result.Error)
}

func TestWake_WithStabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{})

	stabilizeWait := 50 * time.Millisecond
	cfg := models.WOLConfig{
		MACAddress:    "AA:BB:CC:DD:EE:FF",
		BroadcastIP:   "192.168.1.255",
		WaitAddress:   "192.168.1.100:22",
		Timeout:       10 * time.Second,
		PollInterval:  10 * time.Millisecond,
		StabilizeWait: stabilizeWait,
	}

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg)
	duration := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, duration, stabilizeWait)
}

func TestWake_RealListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	svc := NewWithClients(testLogger(), &mockWOLClient{}, &net.Dialer{Timeout: time.Second})

	result, err := svc.Wake(context.Background(), models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "127.255.255.255",
		WaitAddress:  listener.Addr().String(),
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
}

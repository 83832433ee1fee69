package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the backup server.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	WaitAddress   string        // host:port polled until it accepts connections
	Timeout       time.Duration // max time to wait for target
	PollInterval  time.Duration // how often to poll the address
	StabilizeWait time.Duration // wait after target responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

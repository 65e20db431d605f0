package models

import "time"

// WOLConfig holds the Wake-on-LAN settings for the machine that hosts the
// storage root.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // optional URL answered once the host is up
	StoragePath   string        // path that must exist before the run starts
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the host responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	Attempts     int
	WaitDuration time.Duration
	Error        error
}

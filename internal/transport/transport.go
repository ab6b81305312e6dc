// Package transport implements the bridge's local-network connection to a
// Tuya device: framing and encrypting datapoint commands per the device's
// protocol version, and decoding the status frames it pushes back.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Stats reports operational counters for a single device's transport
// connection, mirrored into the ambient metrics surface.
type Stats struct {
	FramesTx     uint64
	FramesRx     uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Logger is the minimal logging interface local transports use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LocalTransport is the contract DeviceEntity workers and the polling loop
// use to talk to a device over the LAN. Implemented by *TuyaLocalClient;
// mocked in tests.
type LocalTransport interface {
	// Connect checks that the device is reachable and readies the
	// transport for calls.
	Connect(ctx context.Context) error

	// SendDPs encodes and sends a datapoint write frame.
	SendDPs(ctx context.Context, devID string, dps map[string]any) error

	// RequestStatus sends a status query frame and returns the decoded
	// datapoint values from the device's response.
	RequestStatus(ctx context.Context, devID string) (map[string]any, error)

	// SetOnStatus registers a callback invoked whenever the device
	// proactively pushes a status frame (not in response to a request).
	SetOnStatus(callback func(devID string, dps map[string]any))

	IsConnected() bool
	Stats() Stats
	Close() error
}

// DeviceConn is the per-device configuration a LocalTransport needs to open
// a connection: address, credentials, and protocol version.
type DeviceConn struct {
	DevID    string
	IP       string
	LocalKey string
	Version  string // "3.1", "3.2", "3.3", "3.4"

	// Port overrides the device's local port, defaulting to 6668 when
	// zero. Only ever set away from the default in tests.
	Port int
}

// baseStats holds the atomic counters shared by transport implementations.
type baseStats struct {
	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64

	connMu    sync.RWMutex
	connected bool
}

func (s *baseStats) snapshot() Stats {
	s.connMu.RLock()
	connected := s.connected
	s.connMu.RUnlock()

	var lastActivity time.Time
	if ts := s.lastActivity.Load(); ts != 0 {
		lastActivity = time.Unix(ts, 0)
	}

	return Stats{
		FramesTx:     s.framesTx.Load(),
		FramesRx:     s.framesRx.Load(),
		ErrorsTotal:  s.errorsTotal.Load(),
		LastActivity: lastActivity,
		Connected:    connected,
	}
}

func (s *baseStats) setConnected(v bool) {
	s.connMu.Lock()
	s.connected = v
	s.connMu.Unlock()
}

func (s *baseStats) touch() {
	s.lastActivity.Store(time.Now().Unix())
}

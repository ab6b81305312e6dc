package bridgecore

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/pipeline"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/transport"
)

func TestConnManagerEnsureReusesExistingConnection(t *testing.T) {
	built := 0
	m := newConnManager(func(transport.DeviceConn, transport.Logger) (transport.LocalTransport, error) {
		built++
		return &fakeTransport{}, nil
	}, nil)

	d := &device.Device{DevID: "dev1", IP: "10.0.0.5", LocalKey: "key", Version: "3.3"}

	c1, err := m.ensure(context.Background(), d)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	c2, err := m.ensure(context.Background(), d)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the second ensure to reuse the first connection")
	}
	if built != 1 {
		t.Fatalf("expected exactly one transport to be built, got %d", built)
	}
}

// TestConnManagerEntityOutlivesCallerContext guards against a connection's
// device entity being torn down when the short-lived context of the
// command that created it expires, since the entity must keep running for
// later commands and poll ticks.
func TestConnManagerEntityOutlivesCallerContext(t *testing.T) {
	m := newConnManager(func(transport.DeviceConn, transport.Logger) (transport.LocalTransport, error) {
		return &fakeTransport{}, nil
	}, nil)

	d := &device.Device{DevID: "dev1", IP: "10.0.0.5", LocalKey: "key", Version: "3.3"}

	callerCtx, cancel := context.WithCancel(context.Background())
	conn, err := m.ensure(callerCtx, d)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)

	resultCh := make(chan error, 1)
	conn.entity.Enqueue(&pipeline.Command{
		DevID:    "dev1",
		DPs:      map[string]any{"switch_1": true},
		Priority: 1,
		TTL:      time.Second,
		ResultCh: resultCh,
	})

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("expected command to succeed after caller context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command result; entity appears to have stopped")
	}
}

func TestConnManagerRemoveTearsDownConnection(t *testing.T) {
	ft := &fakeTransport{}
	m := newConnManager(func(transport.DeviceConn, transport.Logger) (transport.LocalTransport, error) {
		return ft, nil
	}, nil)

	d := &device.Device{DevID: "dev1", IP: "10.0.0.5", LocalKey: "key", Version: "3.3"}
	if _, err := m.ensure(context.Background(), d); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	m.remove("dev1")

	if _, ok := m.get("dev1"); ok {
		t.Fatal("expected connection to be forgotten after remove")
	}
}

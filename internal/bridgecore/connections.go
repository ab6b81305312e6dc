package bridgecore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/pipeline"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/transport"
)

// NewTransport builds the LocalTransport for one device. The default is
// transport.NewTuyaLocalClient; tests substitute a fake.
type NewTransport func(conn transport.DeviceConn, logger transport.Logger) (transport.LocalTransport, error)

func defaultNewTransport(conn transport.DeviceConn, logger transport.Logger) (transport.LocalTransport, error) {
	return transport.NewTuyaLocalClient(conn, logger)
}

// connection bundles one device's live transport and command pipeline.
type connection struct {
	devID     string
	transport transport.LocalTransport
	entity    *pipeline.DeviceEntity
}

// connManager owns the live transport + pipeline for every device with an
// open local connection, keyed by dev_id. Connections are created lazily
// (on first command or first poll tick) and torn down explicitly on
// device removal or bridge shutdown.
type connManager struct {
	mu          sync.Mutex
	conns       map[string]*connection
	newTransport NewTransport
	logger      transport.Logger

	// runCtx is the long-lived context each device entity's worker
	// goroutine runs under. It must outlive any single command's
	// short-lived request context, which only bounds the Connect call
	// and the command's own wait for a result.
	runCtx    context.Context
	runCancel context.CancelFunc
}

func newConnManager(newTransport NewTransport, logger transport.Logger) *connManager {
	if newTransport == nil {
		newTransport = defaultNewTransport
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &connManager{
		conns:        map[string]*connection{},
		newTransport: newTransport,
		logger:       logger,
		runCtx:       runCtx,
		runCancel:    runCancel,
	}
}

// senderAdapter satisfies pipeline.Sender by delegating to a
// transport.LocalTransport, returning that transport's errors unchanged.
type senderAdapter struct {
	t transport.LocalTransport
}

func (s senderAdapter) SendDPs(ctx context.Context, devID string, dps map[string]any) error {
	return s.t.SendDPs(ctx, devID, dps)
}

func (s senderAdapter) RequestStatus(ctx context.Context, devID string) (map[string]any, error) {
	return s.t.RequestStatus(ctx, devID)
}

// ensure returns the connection for d, opening and connecting it first if
// none exists yet.
func (m *connManager) ensure(ctx context.Context, d *device.Device) (*connection, error) {
	m.mu.Lock()
	if c, ok := m.conns[d.DevID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	lt, err := m.newTransport(transport.DeviceConn{
		DevID:    d.DevID,
		IP:       d.IP,
		LocalKey: d.LocalKey,
		Version:  d.Version,
	}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("bridgecore: building transport for %s: %w", d.DevID, err)
	}
	if err := lt.Connect(ctx); err != nil {
		return nil, fmt.Errorf("bridgecore: connecting to %s: %w", d.DevID, err)
	}

	entity := pipeline.NewDeviceEntity(m.runCtx, d.DevID, senderAdapter{t: lt}, nil)

	c := &connection{devID: d.DevID, transport: lt, entity: entity}

	m.mu.Lock()
	if existing, ok := m.conns[d.DevID]; ok {
		m.mu.Unlock()
		entity.Stop()
		lt.Close()
		return existing, nil
	}
	m.conns[d.DevID] = c
	m.mu.Unlock()

	return c, nil
}

// get returns the connection for devID if one is already open, without
// creating one.
func (m *connManager) get(devID string) (*connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[devID]
	return c, ok
}

// remove tears down and forgets devID's connection, if any.
func (m *connManager) remove(devID string) {
	m.mu.Lock()
	c, ok := m.conns[devID]
	delete(m.conns, devID)
	m.mu.Unlock()

	if !ok {
		return
	}
	c.entity.Stop()
	c.transport.Close()
}

// closeAll tears down every open connection, used on bridge shutdown.
func (m *connManager) closeAll() {
	m.runCancel()

	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = map[string]*connection{}
	m.mu.Unlock()

	for _, c := range conns {
		c.entity.Stop()
		c.transport.Close()
	}
}

// deviceIDs lists every device with an open connection, used by the poll
// loop's DeviceLister.
func (m *connManager) deviceIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

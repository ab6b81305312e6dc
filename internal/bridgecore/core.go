package bridgecore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/cloud"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/homie"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/metrics"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/mqttutil"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/pipeline"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/polling"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/scanner"
)

// Logger is the minimal logging interface bridgecore needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the MQTT-facing contract Core needs: publish and a
// pattern-keyed handler table, matching internal/mqttutil.Broker.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	AddHandler(pattern string, handler func(topic string, payload []byte) error) error
	RemoveHandlers(pattern string) error
}

var topics = mqttutil.Topics{}

// Config configures a Core.
type Config struct {
	Broker       Broker
	Registry     *device.Registry
	CloudClient  cloud.Client
	Scanner      *scanner.Scanner
	ScanFile     *scanner.ScanFile
	Lifecycle    *homie.Lifecycle
	Metrics      *metrics.Registry
	MetricsPub   *metrics.PeriodicPublisher
	PollInterval time.Duration
	ProbeEvery   time.Duration
	NewTransport NewTransport
	Logger       Logger
}

// Core is the bridge's central orchestrator: the connectivity state
// machine, the admission-gated command dispatch, the bounded worker pool
// for long-running commands, and the glue between the poll loop, the
// per-device transports, and both the native and Homie MQTT surfaces.
type Core struct {
	broker      Broker
	registry    *device.Registry
	cloudClient cloud.Client
	scan        *scanner.Scanner
	scanFile    *scanner.ScanFile
	lifecycle   *homie.Lifecycle
	metrics     *metrics.Registry
	metricsPub  *metrics.PeriodicPublisher
	logger      Logger

	state      *stateTracker
	pool       *workerPool
	conns      *connManager
	poll       *polling.Loop
	statuses   *lastStatuses
	translator *pipeline.Translator

	probeEvery time.Duration

	scanMu     sync.Mutex
	scanCancel context.CancelFunc

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Core. Start must be called to begin probing, polling, and
// servicing commands.
func New(cfg Config) *Core {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ProbeEvery <= 0 {
		cfg.ProbeEvery = 15 * time.Second
	}

	c := &Core{
		broker:      cfg.Broker,
		registry:    cfg.Registry,
		cloudClient: cfg.CloudClient,
		scan:        cfg.Scanner,
		scanFile:    cfg.ScanFile,
		lifecycle:   cfg.Lifecycle,
		metrics:     cfg.Metrics,
		metricsPub:  cfg.MetricsPub,
		logger:      cfg.Logger,
		probeEvery:  cfg.ProbeEvery,
		statuses:    newLastStatuses(),
		translator:  pipeline.NewTranslator(),
		done:        make(chan struct{}),
	}
	c.state = newStateTracker(c.onStateChange)
	c.pool = newWorkerPool(workerPoolSize)
	c.conns = newConnManager(cfg.NewTransport, transportLoggerAdapter{c.logger})

	c.poll = polling.New(polling.Config{
		Interval:  cfg.PollInterval,
		Requester: pollRequester{c},
		Lister:    pollLister{c},
		OnResult:  c.handlePollResult,
		Logger:    pollLoggerAdapter{c.logger},
	})

	return c
}

// transportLoggerAdapter satisfies transport.Logger from bridgecore's
// Logger, since the two interfaces only differ in name, not shape.
type transportLoggerAdapter struct{ l Logger }

func (a transportLoggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a transportLoggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a transportLoggerAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a transportLoggerAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

type pollLoggerAdapter struct{ l Logger }

func (a pollLoggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a pollLoggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a pollLoggerAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a pollLoggerAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// pollRequester adapts Core to polling.StatusRequester.
type pollRequester struct{ c *Core }

func (r pollRequester) RequestStatus(ctx context.Context, devID string) (map[string]any, error) {
	return r.c.requestStatus(ctx, devID)
}

// pollLister adapts Core to polling.DeviceLister: every device in the
// registry is swept each tick (if the registry cannot be listed, only
// devices with an open connection are). A device with no connection yet
// (never commanded, never polled) is connected lazily on the first poll.
type pollLister struct{ c *Core }

func (l pollLister) DeviceIDs(ctx context.Context) []string {
	devices, err := l.c.registry.List(ctx)
	if err != nil {
		l.c.logger.Warn("poll lister: failed to list devices", "error", err)
		return l.c.conns.deviceIDs()
	}
	ids := make([]string, 0, len(devices))
	for i := range devices {
		ids = append(ids, devices[i].DevID)
	}
	return ids
}

// Start subscribes every command topic and begins the probe loop, the
// poll loop, and the metrics publisher.
func (c *Core) Start(ctx context.Context) error {
	if err := c.registerHandlers(); err != nil {
		return fmt.Errorf("bridgecore: registering handlers: %w", err)
	}

	if err := c.publishBridgeStatus(); err != nil {
		c.logger.Warn("failed to publish initial bridge status", "error", err)
	}

	c.wg.Add(1)
	go c.probeLoop(ctx)

	c.poll.Start(ctx)

	if c.metricsPub != nil {
		c.metricsPub.Start()
	}

	c.logger.Info("bridgecore started")
	return nil
}

// Stop runs the graceful shutdown sequence: stop polling and probing, shut
// the worker pool down without waiting for in-flight jobs, stop every
// device connection, and stop the metrics publisher.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.poll.Stop()
	c.pool.shutdown(false)
	c.conns.closeAll()
	if c.metricsPub != nil {
		c.metricsPub.Stop()
	}
	c.wg.Wait()
	c.logger.Info("bridgecore stopped")
}

func (c *Core) registerHandlers() error {
	registrations := []struct {
		topic   string
		handler func(topic string, payload []byte) error
	}{
		{topics.AllDeviceSets(), c.withAdmission(cmdDeviceSet, c.handleDeviceSet)},
		{topics.BridgeCommand("scan"), c.withAdmission(cmdScan, c.handleScan)},
		{topics.BridgeCommand("scan_gen"), c.withAdmission(cmdScanGen, c.handleScanGen)},
		{topics.BridgeCommand("scan_gen_all"), c.withAdmission(cmdScanGenAll, c.handleScanGenAll)},
		{topics.BridgeCommand("stop_scan"), c.withAdmission(cmdStopScan, c.handleStopScan)},
		{topics.BridgeCommand("scan_time"), c.withAdmission(cmdSetScanTime, c.handleSetScanTime)},
		{topics.BridgeCommand("add"), c.withAdmission(cmdAdd, c.handleAdd)},
		{topics.BridgeCommand("remove"), c.withAdmission(cmdRemove, c.handleRemove)},
		{topics.BridgeCommand("update_key"), c.withAdmission(cmdUpdateKey, c.handleUpdateKey)},
		{topics.BridgeCommand("friendly_name"), c.withAdmission(cmdFriendlyName, c.handleFriendlyName)},
	}

	for _, reg := range registrations {
		if err := c.broker.AddHandler(reg.topic, reg.handler); err != nil {
			return err
		}
	}
	return nil
}

// onStateChange republishes bridge status whenever the connectivity state
// actually changes.
func (c *Core) onStateChange(s State) {
	if c.metrics != nil {
		c.metrics.SetBridgeState(string(s))
	}
	if err := c.publishBridgeStatus(); err != nil {
		c.logger.Warn("failed to publish bridge status on state change", "error", err)
	}
}

type bridgeStatusPayload struct {
	State string `json:"state"`
}

func (c *Core) publishBridgeStatus() error {
	payload, err := json.Marshal(bridgeStatusPayload{State: string(c.state.get())})
	if err != nil {
		return err
	}
	return c.broker.Publish(topics.BridgeStatus(), payload, 1, true)
}

func (c *Core) probeLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.probeEvery)
	defer ticker.Stop()

	c.runProbe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.runProbe()
		}
	}
}

func (c *Core) runProbe() {
	state := determineState(probeLAN(), probeInternet())
	c.state.set(state)
}

// State returns the bridge's current connectivity state.
func (c *Core) State() State {
	return c.state.get()
}

// IsConnected implements health.Checker: the bridge is considered
// connected for readiness purposes whenever the LAN is reachable, even if
// the cloud is not (LAN_ONLY still services local commands).
func (c *Core) IsConnected() bool {
	return c.state.get() != StateOffline
}

// requestStatus ensures a connection exists for devID and enqueues a
// priority-1 status request on its pipeline, so a poll tick is serialized
// against that device's interactive commands through the same queue and
// worker instead of racing them on the shared socket.
func (c *Core) requestStatus(ctx context.Context, devID string) (map[string]any, error) {
	d, err := c.registry.Get(ctx, devID)
	if err != nil {
		return nil, err
	}
	conn, err := c.conns.ensure(ctx, d)
	if err != nil {
		return nil, err
	}

	statusCh := make(chan pipeline.StatusResult, 1)
	conn.entity.Enqueue(&pipeline.Command{
		DevID:    devID,
		Status:   true,
		Priority: pollPriority,
		TTL:      pollTTL,
		StatusCh: statusCh,
	})

	select {
	case res := <-statusCh:
		return res.DPs, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CommanderFor implements homie.CommanderFor: it returns a Commander that
// issues DP writes for devID through that device's pipeline.
func (c *Core) CommanderFor(devID string) homie.Commander {
	return deviceCommander{core: c, devID: devID}
}

type deviceCommander struct {
	core  *Core
	devID string
}

// SendDP resolves code (a human Tuya DP code, e.g. "switch_1") against the
// device's mapping and enqueues the raw-DP-keyed write, so Homie property
// writes never put a human-readable code directly on the wire.
func (d deviceCommander) SendDP(code string, value any) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTTL)
	defer cancel()

	dev, err := d.core.registry.Get(ctx, d.devID)
	if err != nil {
		return err
	}
	dps, err := d.core.translator.SetStatusV2(dev, map[string]any{code: value})
	if err != nil {
		return err
	}
	return d.core.sendDPs(d.devID, dps, interactivePriority)
}

const (
	interactivePriority = 0
	pollPriority        = 1
	commandTTL          = 5 * time.Second
	pollTTL             = 800 * time.Millisecond
)

// sendDPs ensures devID's connection exists and enqueues dps on its
// pipeline, waiting up to commandTTL for the result.
func (c *Core) sendDPs(devID string, dps map[string]any, priority int) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTTL)
	defer cancel()

	d, err := c.registry.Get(ctx, devID)
	if err != nil {
		return err
	}
	conn, err := c.conns.ensure(ctx, d)
	if err != nil {
		return err
	}

	resultCh := make(chan error, 1)
	conn.entity.Enqueue(&pipeline.Command{
		DevID:    devID,
		DPs:      dps,
		Priority: priority,
		TTL:      commandTTL,
		ResultCh: resultCh,
	})

	select {
	case err := <-resultCh:
		if c.metrics != nil {
			c.metrics.RecordCommand(err == nil)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleDeviceSet services an inbound tuya2mqtt/devices/<id>/set publish:
// devID comes from the topic itself, the property-level command from the
// JSON payload. The payload is translated through the device's Translator
// before anything reaches the wire, so "switch", "bright", "color_hsv" and
// the rest of the API-v1 keys (or an aggregated API-v2 set_status) resolve
// to raw datapoint writes instead of being forwarded verbatim.
func (c *Core) handleDeviceSet(topic string, payload []byte) error {
	devID := devIDFromSetTopic(topic)
	if devID == "" {
		return fmt.Errorf("bridgecore: cannot parse dev_id from topic %q", topic)
	}
	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("bridgecore: decoding device set payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTTL)
	defer cancel()
	dev, err := c.registry.Get(ctx, devID)
	if err != nil {
		return err
	}

	dps, err := c.translateSet(dev, req)
	if err != nil {
		return err
	}
	if len(dps) == 0 {
		return nil
	}
	return c.sendDPs(devID, dps, interactivePriority)
}

// devIDFromSetTopic extracts <id> out of tuya2mqtt/devices/<id>/set.
func devIDFromSetTopic(topic string) string {
	const prefix = "tuya2mqtt/devices/"
	const suffix = "/set"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
}

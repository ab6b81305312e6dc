package homie

import (
	"strings"
	"sync"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

// Logger is the minimal logging interface the lifecycle uses.
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

// Subscriber is the MQTT-facing contract the lifecycle needs beyond
// Publisher: registering a handler against a topic pattern, mirroring
// internal/mqttutil.Broker's AddHandler/RemoveHandlers handler table.
type Subscriber interface {
	AddHandler(pattern string, handler func(topic string, payload []byte) error) error
	RemoveHandlers(pattern string) error
}

// Registry is the subset of the device registry the lifecycle needs to
// service the external-deletion path.
type Registry interface {
	Remove(devID string) error
}

// CommanderFor builds the Commander a twin's DeviceBridge issues DP
// writes through, for one specific device.
type CommanderFor interface {
	CommanderFor(devID string) Commander
}

// HomieTwin is one device's live Homie presence: its current
// description, node/property bindings, and the runtime bridge
// translating between DPs and topics.
type HomieTwin struct {
	DevID   string
	HomieID string
	Desc    *Description
	Bridge  *DeviceBridge
}

// Lifecycle owns the homie/5/<id> tree for every known device: creation,
// key-change republication, friendly-name-driven recreation, and
// teardown, plus the $broadcast/switch_led helper and the
// external-deletion path triggered by a retained empty $state publish.
type Lifecycle struct {
	publish    Publisher
	subscriber Subscriber
	commanders CommanderFor
	registry   Registry
	templates  []Template
	logger     Logger

	mu    sync.Mutex
	twins map[string]*HomieTwin // keyed by dev_id
}

// NewLifecycle builds a Lifecycle with no twins yet. Call Start to wire
// the external-deletion and broadcast subscriptions.
func NewLifecycle(publish Publisher, subscriber Subscriber, commanders CommanderFor, registry Registry, templates []Template, logger Logger) *Lifecycle {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Lifecycle{
		publish:    publish,
		subscriber: subscriber,
		commanders: commanders,
		registry:   registry,
		templates:  templates,
		logger:     logger,
		twins:      map[string]*HomieTwin{},
	}
}

// Start subscribes the broadcast switch_led helper and the
// external-deletion watcher on every device's $state topic.
func (l *Lifecycle) Start() error {
	if err := l.subscriber.AddHandler(BroadcastSwitchLED, func(topic string, payload []byte) error {
		l.handleBroadcastSwitchLED(topic, payload)
		return nil
	}); err != nil {
		return err
	}
	return l.subscriber.AddHandler(homieRoot+"/+/$state", func(topic string, payload []byte) error {
		if id := homieIDFromStateTopic(topic); id != "" {
			l.HandleStateWatch(id, payload)
		}
		return nil
	})
}

func homieIDFromStateTopic(topic string) string {
	const suffix = "/$state"
	prefix := homieRoot + "/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
}

// Twin returns the live twin for a device, or nil if it has none.
func (l *Lifecycle) Twin(devID string) *HomieTwin {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.twins[devID]
}

// OnDeviceAdded runs the converter for d, instantiates its twin, and
// publishes its description: init, then the description, then ready.
func (l *Lifecycle) OnDeviceAdded(d *device.Device) error {
	twin, err := l.buildTwin(d)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.twins[d.DevID] = twin
	l.mu.Unlock()

	return l.publishTwin(twin)
}

// OnDeviceKeyChanged re-runs the converter (the device's capability set
// may have changed alongside its key) and republishes the description,
// bouncing $state through init and back to ready.
func (l *Lifecycle) OnDeviceKeyChanged(d *device.Device) error {
	l.mu.Lock()
	old := l.twins[d.DevID]
	l.mu.Unlock()
	if old == nil {
		return l.OnDeviceAdded(d)
	}

	if err := l.publishState(old.HomieID, "init"); err != nil {
		return err
	}

	twin, err := l.buildTwin(d)
	if err != nil {
		return err
	}
	old.Bridge.Close()

	l.mu.Lock()
	l.twins[d.DevID] = twin
	l.mu.Unlock()

	return l.publishTwin(twin)
}

// OnFriendlyNameChanged drops and recreates the twin entirely, since a
// friendly-name change alters the device's Homie id.
func (l *Lifecycle) OnFriendlyNameChanged(d *device.Device) error {
	if err := l.OnDeviceRemoved(d.DevID); err != nil {
		return err
	}
	return l.OnDeviceAdded(d)
}

// OnDeviceRemoved drops a twin from the twin map and tears it down with
// zero-byte retained publishes on its $state, $description and each
// property's value topic. Node and property attribute topics and
// $target topics are not cleared.
func (l *Lifecycle) OnDeviceRemoved(devID string) error {
	l.mu.Lock()
	twin := l.twins[devID]
	delete(l.twins, devID)
	l.mu.Unlock()

	if twin == nil {
		return nil
	}
	twin.Bridge.Close()
	return l.teardown(twin)
}

func (l *Lifecycle) buildTwin(d *device.Device) (*HomieTwin, error) {
	generic, bindings, err := Convert(d)
	if err != nil {
		return nil, err
	}

	desc := generic
	if tpl := FindTemplate(l.templates, d); tpl != nil {
		desc, bindings, err = ApplyTemplate(generic, bindings, *tpl, d)
		if err != nil {
			return nil, err
		}
	}

	homieID := DeviceID(d)
	bridge := NewDeviceBridge(homieID, l.publish, l.commanders.CommanderFor(d.DevID), bindings)

	return &HomieTwin{DevID: d.DevID, HomieID: homieID, Desc: desc, Bridge: bridge}, nil
}

func (l *Lifecycle) publishTwin(twin *HomieTwin) error {
	if err := l.publishState(twin.HomieID, "init"); err != nil {
		return err
	}

	payload, err := marshalDescription(twin.Desc)
	if err != nil {
		return err
	}
	if err := l.publish.Publish(descriptionTopic(twin.HomieID), payload, 1, true); err != nil {
		return err
	}

	if err := l.subscribeSettableProperties(twin); err != nil {
		return err
	}

	return l.publishState(twin.HomieID, "ready")
}

func (l *Lifecycle) subscribeSettableProperties(twin *HomieTwin) error {
	for nodeName, node := range twin.Desc.Nodes {
		for propID, prop := range node.Properties {
			if !prop.Settable {
				continue
			}
			node, prop := nodeName, propID
			if err := l.subscriber.AddHandler(propertySetTopic(twin.HomieID, node, prop), func(topic string, payload []byte) error {
				return twin.Bridge.OnSet(node, prop, string(payload))
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Lifecycle) publishState(homieID, state string) error {
	return l.publish.Publish(stateTopic(homieID), []byte(state), 1, true)
}

func (l *Lifecycle) teardown(twin *HomieTwin) error {
	if err := l.publish.Publish(stateTopic(twin.HomieID), nil, 1, true); err != nil {
		return err
	}
	if err := l.publish.Publish(descriptionTopic(twin.HomieID), nil, 1, true); err != nil {
		return err
	}
	for nodeName, node := range twin.Desc.Nodes {
		for propID := range node.Properties {
			if err := l.publish.Publish(propertyTopic(twin.HomieID, nodeName, propID), nil, 1, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleBroadcastSwitchLED toggles switch_led on every twin that
// exposes a relay.switch_led property, in response to a published
// "true"/"false" on the $broadcast topic.
func (l *Lifecycle) handleBroadcastSwitchLED(_ string, payload []byte) {
	raw := strings.TrimSpace(string(payload))
	if raw != "true" && raw != "false" {
		return
	}

	l.mu.Lock()
	twins := make([]*HomieTwin, 0, len(l.twins))
	for _, t := range l.twins {
		twins = append(twins, t)
	}
	l.mu.Unlock()

	for _, t := range twins {
		if _, ok := t.Desc.Nodes["relay"].Properties["switch_led"]; !ok {
			continue
		}
		if err := t.Bridge.OnSet("relay", "switch_led", raw); err != nil {
			l.logger.Warn("broadcast switch_led failed", "dev_id", t.DevID, "error", err)
		}
	}
}

// HandleStateWatch observes a publish on a device's $state topic and,
// if it's a retained empty payload (an external deletion of the
// device's Homie presence), removes the device from the registry.
func (l *Lifecycle) HandleStateWatch(homieID string, payload []byte) {
	if len(payload) != 0 {
		return
	}

	l.mu.Lock()
	var devID string
	for id, t := range l.twins {
		if t.HomieID == homieID {
			devID = id
			break
		}
	}
	l.mu.Unlock()

	if devID == "" {
		return
	}
	if err := l.registry.Remove(devID); err != nil {
		l.logger.Warn("external deletion: failed to remove device", "dev_id", devID, "error", err)
	}
}

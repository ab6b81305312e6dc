package homie

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// pendingSetTTL bounds how long an optimistic on_set waits for a real
// status confirmation before its rollback value is discarded.
const pendingSetTTL = 10 * time.Second

// Publisher is the MQTT-facing contract DeviceBridge needs to publish
// property values and targets.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Commander issues the underlying DP write a property set translates
// to.
type Commander interface {
	SendDP(code string, value any) error
}

// DeviceBridge translates between a device's raw DPs and its Homie
// node/property topics: publish_status pushes DP changes out, on_set
// turns an inbound property write into a DP command.
type DeviceBridge struct {
	homieID  string
	publish  Publisher
	command  Commander

	mu       sync.Mutex
	bindings []Binding
	byDPCode map[string]Binding
	byProp   map[string]Binding // key: node+"/"+prop
	cache    map[string]string  // last published stringified value, key: node+"/"+prop

	pending *ttlcache.Cache[string, string] // key: node+"/"+prop -> previous value
}

// NewDeviceBridge builds a DeviceBridge for a device already known by
// its Homie id, wired to publish and command interfaces.
func NewDeviceBridge(homieID string, publish Publisher, command Commander, bindings []Binding) *DeviceBridge {
	return newDeviceBridge(homieID, publish, command, bindings, pendingSetTTL)
}

func newDeviceBridge(homieID string, publish Publisher, command Commander, bindings []Binding, ttl time.Duration) *DeviceBridge {
	b := &DeviceBridge{
		homieID: homieID,
		publish: publish,
		command: command,
		cache:   map[string]string{},
		pending: ttlcache.New[string, string](ttlcache.WithTTL[string, string](ttl)),
	}
	go b.pending.Start()
	b.SetBindings(bindings)
	return b
}

// SetBindings replaces the active node/property <-> DP code bindings,
// used after a template or key-change re-run of the converter.
func (b *DeviceBridge) SetBindings(bindings []Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = bindings
	b.byDPCode = make(map[string]Binding, len(bindings))
	b.byProp = make(map[string]Binding, len(bindings))
	for _, bind := range bindings {
		b.byDPCode[bind.DPCode] = bind
		b.byProp[propKey(bind.Node, bind.Property)] = bind
	}
}

// Close stops the bridge's pending-set expiry cache.
func (b *DeviceBridge) Close() {
	b.pending.Stop()
}

func propKey(node, prop string) string { return node + "/" + prop }

// stringify renders a raw DP value the way publish_status puts it on
// the wire: booleans as "true"/"false", everything else via fmt-style
// string conversion.
func stringify(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// PublishStatus pushes the current value of every DP in dps to its
// bound Homie property, but only when that value differs from what was
// last published for the property (change detection against the
// internal cache). Non-strict: a DP code with no known binding is
// synthesized on the fly into an "unmapped" node and cached from then
// on. Clears any outstanding $target for a property that just received
// its confirming status.
func (b *DeviceBridge) PublishStatus(dps map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for code, raw := range dps {
		bind, ok := b.byDPCode[code]
		if !ok {
			bind = Binding{Node: "unmapped", Property: SanitizeID(code), DPCode: code}
			b.byDPCode[code] = bind
			b.byProp[propKey(bind.Node, bind.Property)] = bind
		}

		value := stringify(raw)
		key := propKey(bind.Node, bind.Property)
		if b.cache[key] != value {
			b.cache[key] = value
			topic := propertyTopic(b.homieID, bind.Node, bind.Property)
			if err := b.publish.Publish(topic, []byte(value), 1, true); err != nil {
				return err
			}
		}

		if item := b.pending.Get(key); item != nil {
			b.pending.Delete(key)
			targetTopic := propertyTargetTopic(b.homieID, bind.Node, bind.Property)
			if err := b.publish.Publish(targetTopic, nil, 1, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseRaw interprets an inbound /set payload the way on_set does:
// "true"/"false" become bool, else an int, else a float, else the
// string is kept as-is.
func parseRaw(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// OnSet handles an inbound <node>/<prop>/set publish: it optimistically
// republishes the new value, remembers the previous cached value as a
// pending rollback target, issues the underlying DP command, and
// publishes $target so clients can observe the set handshake. If no
// status confirmation arrives within pendingSetTTL, the rollback is
// silently discarded and the optimistic value stands.
func (b *DeviceBridge) OnSet(node, prop, raw string) error {
	b.mu.Lock()
	bind, ok := b.byProp[propKey(node, prop)]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	key := propKey(node, prop)
	previous := b.cache[key]
	value := parseRaw(raw)
	stringified := stringify(value)
	b.cache[key] = stringified
	b.mu.Unlock()

	b.pending.Set(key, previous, ttlcache.DefaultTTL)

	topic := propertyTopic(b.homieID, node, prop)
	if err := b.publish.Publish(topic, []byte(stringified), 1, true); err != nil {
		return err
	}

	if err := b.command.SendDP(bind.DPCode, value); err != nil {
		return err
	}

	targetTopic := propertyTargetTopic(b.homieID, node, prop)
	return b.publish.Publish(targetTopic, []byte(raw), 1, true)
}

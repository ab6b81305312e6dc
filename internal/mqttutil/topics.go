package mqttutil

import "fmt"

// HomieVersion is the Homie convention major version this bridge implements.
const HomieVersion = "5"

// Topics provides builders for the bridge's MQTT topic tree. Using these
// helpers keeps topic naming consistent across publishers and subscribers.
//
// Device state is published under the Homie 5 convention:
//
//	homie/5/<device-id>/$state
//	homie/5/<device-id>/<node-id>/<property-id>
//
// Bridge-level control (add/remove device, rescan, key rotation) lives under
// a small flat namespace outside the Homie tree, since it addresses the
// bridge itself rather than any one device:
//
//	tuya2mqtt/bridge/request/<action>
//	tuya2mqtt/bridge/response/<action>
type Topics struct{}

func homieRoot() string { return "homie/" + HomieVersion }

// DeviceState returns the retained $state topic for a Homie device.
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/$state", homieRoot(), deviceID)
}

// DeviceDescription returns the retained $description topic for a Homie device.
func (Topics) DeviceDescription(deviceID string) string {
	return fmt.Sprintf("%s/%s/$description", homieRoot(), deviceID)
}

// PropertyState returns the retained state topic for a node property.
//
// Example: homie/5/bulb-living/light/brightness
func (Topics) PropertyState(deviceID, nodeID, propertyID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", homieRoot(), deviceID, nodeID, propertyID)
}

// PropertySet returns the command topic a controller publishes to in order
// to request a property change.
//
// Example: homie/5/bulb-living/light/brightness/set
func (Topics) PropertySet(deviceID, nodeID, propertyID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/set", homieRoot(), deviceID, nodeID, propertyID)
}

// AllPropertySets returns the wildcard pattern matching every property set
// command across every known device.
//
// Pattern: homie/5/+/+/+/set
func (Topics) AllPropertySets() string {
	return fmt.Sprintf("%s/+/+/+/set", homieRoot())
}

// AllDeviceStates returns the wildcard pattern matching every device's
// retained $state topic.
//
// Pattern: homie/5/+/$state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/$state", homieRoot())
}

const bridgePrefix = "tuya2mqtt/bridge"

// BridgeCommand returns the topic a controller publishes to in order to
// invoke a bridge-level action (scan, scan_gen, scan_gen_all, stop_scan,
// scan_time, add, remove, update_key, friendly_name).
//
// Example: tuya2mqtt/bridge/request/add
func (Topics) BridgeCommand(action string) string {
	return fmt.Sprintf("%s/request/%s", bridgePrefix, action)
}

// AllBridgeCommands returns the wildcard pattern matching every bridge
// command topic.
//
// Pattern: tuya2mqtt/bridge/request/+
func (Topics) AllBridgeCommands() string {
	return fmt.Sprintf("%s/request/+", bridgePrefix)
}

// BridgeResponse returns the topic a bridge command's result is published to.
//
// Example: tuya2mqtt/bridge/response/add
func (Topics) BridgeResponse(action string) string {
	return fmt.Sprintf("%s/response/%s", bridgePrefix, action)
}

// BridgeStatus returns the bridge's own retained LWT/online-status topic.
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/status", bridgePrefix)
}

// BridgeMetrics returns the topic the periodic JSON metrics snapshot is
// published to.
func (Topics) BridgeMetrics() string {
	return fmt.Sprintf("%s/metrics", bridgePrefix)
}

// DeviceStatus returns the native (non-Homie) status topic a device's
// poll and command results are published to.
func (Topics) DeviceStatus(devID string) string {
	return fmt.Sprintf("tuya2mqtt/devices/%s/status", devID)
}

// DeviceSet returns the native (non-Homie) command topic a controller
// publishes device writes to.
func (Topics) DeviceSet(devID string) string {
	return fmt.Sprintf("tuya2mqtt/devices/%s/set", devID)
}

// AllDeviceSets returns the wildcard pattern matching every device's
// native set topic.
func (Topics) AllDeviceSets() string {
	return "tuya2mqtt/devices/+/set"
}

// DeviceStatuses returns the aggregate topic carrying every device's
// latest status keyed by device id.
func (Topics) DeviceStatuses() string {
	return "tuya2mqtt/devices/statuses"
}

// TopicMatch reports whether topic matches the given MQTT subscription
// pattern, honouring single-level (+) and multi-level (#) wildcards.
func TopicMatch(pattern, topic string) bool {
	patternLevels := splitTopic(pattern)
	topicLevels := splitTopic(topic)

	for i, p := range patternLevels {
		if p == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if p != "+" && p != topicLevels[i] {
			return false
		}
	}

	return len(patternLevels) == len(topicLevels)
}

func splitTopic(topic string) []string {
	var levels []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			levels = append(levels, topic[start:i])
			start = i + 1
		}
	}
	levels = append(levels, topic[start:])
	return levels
}

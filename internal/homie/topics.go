package homie

import "fmt"

const homieRoot = "homie/5"

// BroadcastSwitchLED is the well-known broadcast topic the lifecycle
// subscribes to, toggling every twin's switch_led property at once.
const BroadcastSwitchLED = homieRoot + "/$broadcast/switch_led"

func deviceTopic(id string) string {
	return fmt.Sprintf("%s/%s", homieRoot, id)
}

func stateTopic(id string) string {
	return deviceTopic(id) + "/$state"
}

func descriptionTopic(id string) string {
	return deviceTopic(id) + "/$description"
}

func propertyTopic(id, node, prop string) string {
	return fmt.Sprintf("%s/%s/%s", deviceTopic(id), node, prop)
}

func propertySetTopic(id, node, prop string) string {
	return propertyTopic(id, node, prop) + "/set"
}

func propertyTargetTopic(id, node, prop string) string {
	return propertyTopic(id, node, prop) + "/$target"
}

func allPropertySetWildcard(id string) string {
	return fmt.Sprintf("%s/+/+/set", deviceTopic(id))
}

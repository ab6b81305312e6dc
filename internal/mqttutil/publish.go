package mqttutil

import "fmt"

// maxPayloadSize bounds a single MQTT message to protect broker and client
// memory from a malformed or hostile payload.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}

	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message at the broker's configured
// default QoS. Used for Homie $state/$description and property state topics.
func (b *Broker) PublishRetained(topic string, payload []byte) error {
	return b.Publish(topic, payload, byte(b.cfg.QoS), true)
}

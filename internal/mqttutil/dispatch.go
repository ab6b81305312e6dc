package mqttutil

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// AddHandler subscribes to pattern at the broker level and registers handler
// against it in the local handler table. Every message whose topic matches
// pattern (by MQTT wildcard rules) is delivered to handler, and a topic
// matching several registered patterns fans out to all of their handlers —
// this is what lets both a device-specific and a wildcard listener coexist.
func (b *Broker) AddHandler(pattern string, handler MessageHandler) error {
	if pattern == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	b.handlersMu.Lock()
	b.handlers = append(b.handlers, handlerEntry{pattern: pattern, handler: handler})
	b.handlersMu.Unlock()

	if !b.IsConnected() {
		return ErrNotConnected
	}

	token := b.client.Subscribe(pattern, byte(b.cfg.QoS), b.dispatchCallback())
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// RemoveHandlers removes every handler registered against pattern.
func (b *Broker) RemoveHandlers(pattern string) error {
	b.handlersMu.Lock()
	kept := b.handlers[:0]
	for _, e := range b.handlers {
		if e.pattern != pattern {
			kept = append(kept, e)
		}
	}
	b.handlers = kept
	b.handlersMu.Unlock()

	if !b.IsConnected() {
		return ErrNotConnected
	}

	token := b.client.Unsubscribe(pattern)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	return token.Error()
}

// Dispatch invokes every registered handler whose pattern matches topic. It
// is the pure, broker-independent core of message routing: the paho
// subscription callback calls it, and tests call it directly without a live
// broker.
func (b *Broker) Dispatch(topic string, payload []byte) {
	b.handlersMu.RLock()
	matches := make([]MessageHandler, 0, 1)
	for _, e := range b.handlers {
		if TopicMatch(e.pattern, topic) {
			matches = append(matches, e.handler)
		}
	}
	b.handlersMu.RUnlock()

	for _, handler := range matches {
		b.invoke(handler, topic, payload)
	}
}

// invoke runs a handler with panic recovery, logging both panics and
// returned errors if a logger has been set.
func (b *Broker) invoke(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := b.getLogger(); logger != nil {
				logger.Error("mqtt handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := b.getLogger(); logger != nil {
			logger.Warn("mqtt handler returned error", "topic", topic, "error", err)
		}
	}
}

// dispatchCallback adapts Dispatch to paho's per-subscription handler shape.
// A single shared callback is used for every subscription so that incoming
// messages always flow through the same fan-out logic regardless of which
// pattern triggered delivery.
func (b *Broker) dispatchCallback() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.Dispatch(msg.Topic(), msg.Payload())
	}
}

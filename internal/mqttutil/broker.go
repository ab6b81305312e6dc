// Package mqttutil wraps paho.mqtt.golang with the bridge's connection
// management, publish/subscribe helpers, and a dynamic handler table that
// dispatches each incoming message to every pattern that matches its topic.
package mqttutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/config"
)

// Logger is the minimal logging interface the broker needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library and run
// under panic recovery; they should not block for extended periods.
type MessageHandler func(topic string, payload []byte) error

// handlerEntry pairs a subscription pattern with the handler registered
// against it.
type handlerEntry struct {
	pattern string
	handler MessageHandler
}

// Broker wraps paho.mqtt.golang with reconnect, LWT, and a pattern-matching
// handler table so every registered handler whose pattern matches an
// incoming topic is invoked, mirroring the dynamic-dispatch fan-out the
// bridge's command pipeline relies on.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers are automatically re-subscribed on reconnect.
type Broker struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	handlersMu sync.RWMutex
	handlers   []handlerEntry

	connMu    sync.RWMutex
	connected bool

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	loggerMu sync.RWMutex
	logger   Logger
}

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultPublishTimeout   = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive        = 60 * time.Second
	maxQoS                  = 2
	tlsMinVersion           = tls.VersionTLS12
)

// Connect establishes a connection to the MQTT broker described by cfg.
func Connect(cfg config.MQTTConfig) (*Broker, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts)

	b := &Broker{cfg: cfg, options: opts}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { b.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { b.handleDisconnect(err) })

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	b.connMu.Lock()
	b.connected = true
	b.connMu.Unlock()

	return b, nil
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	initial := cfg.Reconnect.InitialDelay
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxDelay := cfg.Reconnect.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	opts.SetConnectRetryInterval(initial)
	opts.SetMaxReconnectInterval(maxDelay)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT sets the bridge's last-will message: publishing "lost" to its
// own status topic if the connection drops without a graceful Close.
func configureLWT(opts *pahomqtt.ClientOptions) {
	opts.SetWill(Topics{}.BridgeStatus(), `{"status":"lost"}`, 1, true)
}

// newReconnectBackOff builds a backoff policy from the broker's reconnect
// settings. No code in this module calls it.
func newReconnectBackOff(cfg config.MQTTReconnectConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		b.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}
	b.MaxElapsedTime = cfg.MaxElapsed
	return b
}

func (b *Broker) handleConnect() {
	b.connMu.Lock()
	b.connected = true
	b.connMu.Unlock()

	b.restoreSubscriptions()

	_ = b.Publish(Topics{}.BridgeStatus(), []byte(`{"status":"online"}`), 1, true)

	b.callbackMu.RLock()
	cb := b.onConnect
	b.callbackMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (b *Broker) handleDisconnect(err error) {
	b.connMu.Lock()
	b.connected = false
	b.connMu.Unlock()

	b.callbackMu.RLock()
	cb := b.onDisconnect
	b.callbackMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// restoreSubscriptions re-subscribes at the paho level for every distinct
// pattern in the handler table. Called after every (re)connect.
func (b *Broker) restoreSubscriptions() {
	b.handlersMu.RLock()
	patterns := make(map[string]struct{}, len(b.handlers))
	for _, e := range b.handlers {
		patterns[e.pattern] = struct{}{}
	}
	b.handlersMu.RUnlock()

	for pattern := range patterns {
		b.client.Subscribe(pattern, byte(b.cfg.QoS), b.dispatchCallback())
	}
}

// Close gracefully disconnects from the broker, publishing a clean offline
// status distinct from the crash-triggered LWT message.
func (b *Broker) Close() error {
	if b.client == nil {
		return nil
	}
	if b.IsConnected() {
		token := b.client.Publish(Topics{}.BridgeStatus(), byte(b.cfg.QoS), true, []byte(`{"status":"offline"}`))
		token.WaitTimeout(defaultPublishTimeout)
	}
	b.client.Disconnect(defaultDisconnectQuiesce)

	b.connMu.Lock()
	b.connected = false
	b.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (b *Broker) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqttutil: health check: %w", ctx.Err())
	default:
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the current connection state. Satisfies
// internal/observability/health.Checker.
func (b *Broker) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected && b.client != nil && b.client.IsConnected()
}

// SetOnConnect registers a callback invoked on initial connect and every
// subsequent reconnect.
func (b *Broker) SetOnConnect(callback func()) {
	b.callbackMu.Lock()
	b.onConnect = callback
	b.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection is lost.
func (b *Broker) SetOnDisconnect(callback func(err error)) {
	b.callbackMu.Lock()
	b.onDisconnect = callback
	b.callbackMu.Unlock()
}

// SetLogger sets a logger used for handler panic recovery and warnings.
func (b *Broker) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Broker) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

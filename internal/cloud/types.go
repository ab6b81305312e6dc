package cloud

import "context"

// DeviceInfo is the subset of Tuya's cloud device record the bridge needs
// to open a local connection and label the device.
type DeviceInfo struct {
	DevID     string
	Name      string
	LocalKey  string
	ProductID string
	Category  string
	IP        string
	Online    bool
	Version   string // local protocol version, e.g. "3.3", "3.4"
}

// Datapoint describes one entry of a device's cloud-reported DP schema.
type Datapoint struct {
	Code   string
	DPID   string
	Type   string // "bool", "value", "string", "enum", "bitmap", "raw"
	Values map[string]any
}

// Command is a single datapoint write sent through the cloud control
// channel, used as a fallback when no local connection is available.
type Command struct {
	Code  string
	Value any
}

// Client is the contract the rest of the bridge uses to talk to Tuya's
// cloud. Implemented by *RESTClient; mocked in tests.
type Client interface {
	// GetDevice fetches a device's current cloud record, including its
	// local_key and local protocol version.
	GetDevice(ctx context.Context, devID string) (*DeviceInfo, error)

	// GetDatapoints fetches a device's datapoint schema.
	GetDatapoints(ctx context.Context, devID string) ([]Datapoint, error)

	// SendCommands issues datapoint writes through the cloud control
	// channel (used when a device has no reachable local transport).
	SendCommands(ctx context.Context, devID string, commands []Command) error

	// ListDevices lists every device associated with the configured
	// account, used by the scanner to seed the registry before any LAN
	// discovery has run.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
}

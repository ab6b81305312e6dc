package bridgecore

import (
	"encoding/json"
	"errors"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/polling"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/transport"
)

// handlePollResult is the poll loop's OnResult callback: it records
// metrics, publishes a device's fresh status to both the native and
// cumulative debug topics, forwards it to the device's Homie twin if one
// exists, and triggers the key/version auto-recovery path on
// ErrKeyOrVersion.
func (c *Core) handlePollResult(r polling.Result) {
	if c.metrics != nil {
		c.metrics.RecordPoll(r.Slow)
	}

	if r.Err != nil {
		c.handlePollError(r)
		return
	}

	c.publishDeviceStatus(r)

	if c.lifecycle != nil {
		if twin := c.lifecycle.Twin(r.DevID); twin != nil {
			if err := twin.Bridge.PublishStatus(r.DPs); err != nil {
				c.logger.Warn("homie publish status failed", "dev_id", r.DevID, "error", err)
			}
		}
	}
}

func (c *Core) handlePollError(r polling.Result) {
	code := deviceErrorCode(r.Err)
	if c.metrics != nil {
		c.metrics.RecordDeviceError(code)
	}
	c.logger.Warn("poll result error", "dev_id", r.DevID, "code", code, "error", r.Err)

	if errors.Is(r.Err, transport.ErrKeyOrVersion) {
		c.requestUpdateKey(r.DevID)
	}
}

func deviceErrorCode(err error) string {
	switch {
	case errors.Is(err, transport.ErrKeyOrVersion):
		return "ERR_KEY_OR_VER"
	case errors.Is(err, transport.ErrTimeout):
		return "ERR_TIMEOUT"
	case errors.Is(err, transport.ErrNotConnected):
		return "ERR_NOT_CONNECTED"
	case errors.Is(err, transport.ErrConnectFailed):
		return "ERR_CONNECT_FAILED"
	case errors.Is(err, transport.ErrMalformedFrame):
		return "ERR_MALFORMED_FRAME"
	case errors.Is(err, transport.ErrUnsupportedVersion):
		return "ERR_UNSUPPORTED_VERSION"
	default:
		return "ERR_UNKNOWN"
	}
}

// requestUpdateKey self-publishes an update_key command for devID onto the
// bridge's own command topic, so the request runs through the normal
// admission-gated path rather than bypassing it.
func (c *Core) requestUpdateKey(devID string) {
	payload, err := json.Marshal(updateKeyPayload{DevID: devID})
	if err != nil {
		c.logger.Warn("failed to marshal auto-recovery update_key payload", "dev_id", devID, "error", err)
		return
	}
	if err := c.broker.Publish(topics.BridgeCommand("update_key"), payload, 1, false); err != nil {
		c.logger.Warn("failed to self-publish update_key for key/version recovery", "dev_id", devID, "error", err)
	}
}

type deviceStatusPayload struct {
	DPs               map[string]any `json:"dps"`
	RequestStatusTime float64        `json:"request_status_time"`
	Slow              bool           `json:"slow"`
}

// publishDeviceStatus dual-publishes a successful poll result: the native
// per-device status topic, and the cumulative all-devices debug topic.
func (c *Core) publishDeviceStatus(r polling.Result) {
	status := deviceStatusPayload{
		DPs:               r.DPs,
		RequestStatusTime: roundMillis(r.RequestStatusTime.Seconds()),
		Slow:              r.Slow,
	}

	payload, err := json.Marshal(status)
	if err != nil {
		c.logger.Warn("failed to marshal device status", "dev_id", r.DevID, "error", err)
		return
	}
	if err := c.broker.Publish(topics.DeviceStatus(r.DevID), payload, 0, false); err != nil {
		c.logger.Warn("failed to publish device status", "dev_id", r.DevID, "error", err)
	}

	snapshot := c.statuses.set(r.DevID, status)
	all, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("failed to marshal cumulative device statuses", "error", err)
		return
	}
	if err := c.broker.Publish(topics.DeviceStatuses(), all, 0, false); err != nil {
		c.logger.Warn("failed to publish cumulative device statuses", "error", err)
	}
}

// roundMillis rounds a duration in seconds to three decimal places,
// matching the precision the original bridge's status payloads use.
func roundMillis(seconds float64) float64 {
	const scale = 1000.0
	return float64(int64(seconds*scale+0.5)) / scale
}

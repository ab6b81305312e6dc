// Package homie mirrors the bridge's devices as Homie 5 convention MQTT
// topic trees: a generic DP-to-node/property converter, JSON template
// overrides, and the per-device lifecycle (creation, key rotation,
// friendly-name change, removal) that drives publication and teardown.
package homie

import (
	"strings"

	"github.com/google/uuid"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

// bridgeNamespace seeds the deterministic UUIDv5 fallback for a device's
// Homie id, so the same dev_id always yields the same fallback id across
// restarts even with no friendly name set.
var bridgeNamespace = uuid.MustParse("6f36e1d2-6e6b-4f1e-9f2b-6b6f9b0a7c11")

// SanitizeID lowercases s, maps every run of characters outside
// [a-z0-9-] to a single '-', and strips leading/trailing '-', yielding a
// valid Homie topic-level id. Returns "" only if s has no valid
// characters at all.
func SanitizeID(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	prevDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	return out
}

// DeviceID derives a device's Homie topic-tree id: its sanitized
// friendly name if set, else its sanitized dev_id, else a deterministic
// UUIDv5 derived from the dev_id under bridgeNamespace.
func DeviceID(d *device.Device) string {
	if id := SanitizeID(d.FriendlyName); id != "" {
		return id
	}
	if id := SanitizeID(d.DevID); id != "" {
		return id
	}
	return uuid.NewSHA1(bridgeNamespace, []byte(d.DevID)).String()
}

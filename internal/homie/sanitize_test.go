package homie

import (
	"testing"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"Living Room Lamp": "living-room-lamp",
		"  Leading/Trail ": "leading-trail",
		"already-clean":    "already-clean",
		"UPPER_CASE!!":     "upper-case",
		"":                 "",
		"---":               "",
	}
	for in, want := range cases {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeviceIDPrefersFriendlyName(t *testing.T) {
	d := &device.Device{DevID: "abc123", FriendlyName: "Kitchen Switch"}
	if got := DeviceID(d); got != "kitchen-switch" {
		t.Errorf("DeviceID = %q, want kitchen-switch", got)
	}
}

func TestDeviceIDFallsBackToDevID(t *testing.T) {
	d := &device.Device{DevID: "abc123"}
	if got := DeviceID(d); got != "abc123" {
		t.Errorf("DeviceID = %q, want abc123", got)
	}
}

func TestDeviceIDFallsBackToUUIDWhenNothingSanitizes(t *testing.T) {
	d := &device.Device{DevID: "!!!", FriendlyName: "***"}
	got := DeviceID(d)
	if got == "" {
		t.Fatal("DeviceID returned empty string")
	}
	if got != DeviceID(d) {
		t.Fatal("DeviceID is not deterministic")
	}
}

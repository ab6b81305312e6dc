package homie

import (
	"testing"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

func intPtr(n int) *int { return &n }

func TestConvertAssignsNodesAndAliases(t *testing.T) {
	d := &device.Device{
		DevID:        "dev1",
		FriendlyName: "Kitchen Switch",
		Category:     device.CategorySwitch,
		Mapping: map[string]device.DPMapping{
			"switch":     {Code: "switch", Type: device.DPTypeBool},
			"bright":     {Code: "bright", Type: device.DPTypeValue, Min: intPtr(10), Max: intPtr(1000)},
			"cur_power":  {Code: "cur_power", Type: device.DPTypeValue, Unit: "W"},
			"flash_scene_1": {Code: "flash_scene_1", Type: device.DPTypeRaw},
		},
	}

	desc, bindings, err := Convert(d)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if _, ok := desc.Nodes["relay"]; !ok {
		t.Error("expected a relay node for switch code")
	}
	if _, ok := desc.Nodes["light"].Properties["brightness"]; !ok {
		t.Errorf("expected light.brightness property, got %+v", desc.Nodes["light"])
	}
	if p, ok := desc.Nodes["meter"].Properties["power"]; !ok || p.Settable {
		t.Errorf("expected non-settable meter.power property, got %+v ok=%v", p, ok)
	}

	if len(bindings) != 3 {
		t.Fatalf("expected 3 bindings (flash_scene_1 excluded), got %d: %+v", len(bindings), bindings)
	}
	for _, b := range bindings {
		if b.DPCode == "flash_scene_1" {
			t.Error("excluded code flash_scene_1 leaked into bindings")
		}
	}
}

func TestConvertExcludesCountdownExactly(t *testing.T) {
	d := &device.Device{
		DevID: "dev1",
		Mapping: map[string]device.DPMapping{
			"countdown":   {Code: "countdown", Type: device.DPTypeValue},
			"countdown_1": {Code: "countdown_1", Type: device.DPTypeValue},
		},
	}

	_, bindings, err := Convert(d)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	var gotCodes []string
	for _, b := range bindings {
		gotCodes = append(gotCodes, b.DPCode)
	}
	if len(gotCodes) != 1 || gotCodes[0] != "countdown_1" {
		t.Errorf("bindings = %+v, want only countdown_1 (bare countdown excluded, countdown_1 routed to timer)", gotCodes)
	}
	found := false
	for _, b := range bindings {
		if b.DPCode == "countdown_1" && b.Node == "timer" {
			found = true
		}
	}
	if !found {
		t.Error("countdown_1 should be assigned to the timer node")
	}
}

func TestConvertDedupesPropertyIDsOnCollision(t *testing.T) {
	d := &device.Device{
		DevID: "dev1",
		Mapping: map[string]device.DPMapping{
			"colour": {Code: "colour", Type: device.DPTypeRaw},
			"color":  {Code: "color", Type: device.DPTypeRaw},
		},
	}

	_, bindings, err := Convert(d)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	seen := map[string]bool{}
	for _, b := range bindings {
		if seen[b.Property] {
			t.Errorf("duplicate property id %q across bindings", b.Property)
		}
		seen[b.Property] = true
	}
}

func TestDatatypeForIntegerWithStep(t *testing.T) {
	m := device.DPMapping{Type: device.DPTypeValue, Min: intPtr(0), Max: intPtr(100), Scale: intPtr(5)}
	dt, format := datatypeFor(m)
	if dt != "integer" || format != "0:100:5" {
		t.Errorf("datatypeFor = %q %q, want integer 0:100:5", dt, format)
	}
}

func TestDatatypeForEnum(t *testing.T) {
	m := device.DPMapping{Type: device.DPTypeEnum, Values: []string{"low", "mid", "high"}}
	dt, format := datatypeFor(m)
	if dt != "enum" || format != "low,mid,high" {
		t.Errorf("datatypeFor = %q %q, want enum low,mid,high", dt, format)
	}
}

func TestDatatypeForColorJSON(t *testing.T) {
	m := device.DPMapping{Code: "colour_data", Type: device.DPTypeRaw}
	dt, format := datatypeFor(m)
	if dt != "color" || format != "hsv" {
		t.Errorf("datatypeFor = %q %q, want color hsv", dt, format)
	}
}

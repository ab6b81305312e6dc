package pipeline

import (
	"testing"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

func intPtr(v int) *int { return &v }

func TestTranslatorSwitch(t *testing.T) {
	d := &device.Device{DevID: "dev-1", Mapping: map[string]device.DPMapping{
		"1": {Code: "switch_1", Type: device.DPTypeBool},
	}}
	tr := NewTranslator()

	dps, err := tr.Switch(d, true)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if dps["1"] != true {
		t.Errorf("dps = %+v, want dp 1 = true", dps)
	}
}

func TestTranslatorSwitchMissingDatapoint(t *testing.T) {
	d := &device.Device{DevID: "dev-1"}
	if _, err := NewTranslator().Switch(d, true); err == nil {
		t.Error("expected error for device with no switch datapoint")
	}
}

func TestTranslatorBrightnessTypeCScaling(t *testing.T) {
	d := &device.Device{
		DevID:    "dev-1",
		Category: device.CategoryLightTypeC,
		Mapping: map[string]device.DPMapping{
			"2": {Code: "bright_value_v2", Type: device.DPTypeValue},
		},
	}

	dps, err := NewTranslator().Brightness(d, 50)
	if err != nil {
		t.Fatalf("Brightness: %v", err)
	}
	// 10 + round(50 * (1000-10)/100) = 10 + 495 = 505
	if dps["2"] != 505 {
		t.Errorf("dp 2 = %v, want 505", dps["2"])
	}
}

func TestTranslatorBrightnessTypeCBounds(t *testing.T) {
	d := &device.Device{
		DevID:    "dev-1",
		Category: device.CategoryLightTypeC,
		Mapping: map[string]device.DPMapping{
			"2": {Code: "bright_value_v2"},
		},
	}
	tr := NewTranslator()

	dps, err := tr.Brightness(d, 0)
	if err != nil || dps["2"] != 10 {
		t.Errorf("Brightness(0) = %v, %v; want 10, nil", dps, err)
	}

	dps, err = tr.Brightness(d, 100)
	if err != nil || dps["2"] != 1000 {
		t.Errorf("Brightness(100) = %v, %v; want 1000, nil", dps, err)
	}
}

func TestTranslatorBrightnessOutOfRange(t *testing.T) {
	d := &device.Device{DevID: "dev-1", Mapping: map[string]device.DPMapping{"2": {Code: "bright_value_v2"}}}
	if _, err := NewTranslator().Brightness(d, 150); err == nil {
		t.Error("expected error for out-of-range brightness")
	}
}

func TestTranslatorBrightnessGenericScaling(t *testing.T) {
	d := &device.Device{
		DevID: "dev-1",
		Mapping: map[string]device.DPMapping{
			"2": {Code: "bright_value", Min: intPtr(25), Max: intPtr(255)},
		},
	}
	dps, err := NewTranslator().Brightness(d, 100)
	if err != nil {
		t.Fatalf("Brightness: %v", err)
	}
	if dps["2"] != 255 {
		t.Errorf("dp 2 = %v, want 255", dps["2"])
	}
}

func TestTranslatorWorkModeValidatesClosedSet(t *testing.T) {
	d := &device.Device{DevID: "dev-1", Mapping: map[string]device.DPMapping{"3": {Code: "work_mode"}}}
	tr := NewTranslator()

	if _, err := tr.WorkMode(d, "bogus_mode"); err == nil {
		t.Error("expected error for a work_mode value outside the closed set")
	}

	dps, err := tr.WorkMode(d, "white")
	if err != nil {
		t.Fatalf("WorkMode: %v", err)
	}
	if dps["3"] != "white" {
		t.Errorf("dp 3 = %v, want white", dps["3"])
	}
}

func TestTranslatorColorRGBDelegatesToHSV(t *testing.T) {
	d := &device.Device{DevID: "dev-1", Mapping: map[string]device.DPMapping{"5": {Code: "colour_data_v2"}}}
	dps, err := NewTranslator().ColorRGB(d, 255, 0, 0)
	if err != nil {
		t.Fatalf("ColorRGB: %v", err)
	}
	if _, ok := dps["5"].(string); !ok {
		t.Errorf("dp 5 = %v, want packed hex string", dps["5"])
	}
}

func TestTranslatorSetStatusV2AggregatesMultipleDPs(t *testing.T) {
	d := &device.Device{
		DevID: "dev-1",
		Mapping: map[string]device.DPMapping{
			"2": {Code: "bright_value_v2"},
			"3": {Code: "temp_value_v2"},
		},
	}
	dps, err := NewTranslator().SetStatusV2(d, map[string]any{
		"bright_value_v2": 500,
		"temp_value_v2":   200,
	})
	if err != nil {
		t.Fatalf("SetStatusV2: %v", err)
	}
	if dps["2"] != 500 || dps["3"] != 200 {
		t.Errorf("dps = %+v, want dp 2=500 dp 3=200", dps)
	}
}

func TestTranslatorSceneIsNoOp(t *testing.T) {
	d := &device.Device{DevID: "dev-1"}
	dps, err := NewTranslator().Scene(d, "movie_night")
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if dps != nil {
		t.Errorf("Scene dps = %+v, want nil", dps)
	}
}

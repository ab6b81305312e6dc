package pipeline

import (
	"fmt"
	"math"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

// typeCBrightMin and typeCBrightMax are the raw DP bounds Tuya Type-C
// lighting devices use for brightness, as opposed to the plain 0-100
// percent scale exposed over Homie.
const (
	typeCBrightMin = 10
	typeCBrightMax = 1000
)

// workModes is the closed set of values Tuya's work_mode datapoint accepts.
var workModes = map[string]bool{
	"white":      true,
	"colour":     true,
	"scene":      true,
	"music":      true,
}

// Translator converts a Homie property set request into the raw datapoint
// writes a device's category expects.
type Translator struct{}

// NewTranslator returns a Translator. It is stateless; one instance is
// shared across every device.
func NewTranslator() *Translator { return &Translator{} }

// codeFor finds the DP identifier whose mapping has the given code, e.g.
// "switch_1" or "bright_value_v2".
func codeFor(d *device.Device, code string) (string, device.DPMapping, bool) {
	for dp, m := range d.Mapping {
		if m.Code == code {
			return dp, m, true
		}
	}
	return "", device.DPMapping{}, false
}

// Switch translates a boolean on/off request.
func (t *Translator) Switch(d *device.Device, on bool) (map[string]any, error) {
	dp, _, ok := codeFor(d, "switch_1")
	if !ok {
		dp, _, ok = codeFor(d, "switch")
	}
	if !ok {
		return nil, fmt.Errorf("device %s has no switch datapoint", d.DevID)
	}
	return map[string]any{dp: on}, nil
}

// Toggle flips the current boolean value of the switch datapoint. current
// is the last known value, supplied by the caller (the bridge core holds
// device state, not the pipeline).
func (t *Translator) Toggle(d *device.Device, current bool) (map[string]any, error) {
	return t.Switch(d, !current)
}

// Brightness translates a 0-100 percent brightness request, scaling it into
// the device's raw DP range. Type-C lighting devices use 10-1000; anything
// else is assumed to already use a 0-100 raw range.
func (t *Translator) Brightness(d *device.Device, percent int) (map[string]any, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("brightness percent %d out of range 0-100", percent)
	}

	dp, mapping, ok := codeFor(d, "bright_value_v2")
	if !ok {
		dp, mapping, ok = codeFor(d, "bright_value")
	}
	if !ok {
		return nil, fmt.Errorf("device %s has no brightness datapoint", d.DevID)
	}

	if d.Category == device.CategoryLightTypeC {
		raw := scalePercent(percent, typeCBrightMin, typeCBrightMax)
		return map[string]any{dp: raw}, nil
	}

	min, max := 0, 100
	if mapping.Min != nil {
		min = *mapping.Min
	}
	if mapping.Max != nil {
		max = *mapping.Max
	}
	return map[string]any{dp: scalePercent(percent, min, max)}, nil
}

// scalePercent maps a 0-100 percent value onto [min, max], rounding to the
// nearest integer.
func scalePercent(percent, min, max int) int {
	span := float64(max - min)
	return min + int(math.Round(float64(percent)*span/100))
}

// ColorTemp translates a color temperature request, passed straight through
// to the temp_value_v2 datapoint (already in the device's native range).
func (t *Translator) ColorTemp(d *device.Device, value int) (map[string]any, error) {
	dp, _, ok := codeFor(d, "temp_value_v2")
	if !ok {
		dp, _, ok = codeFor(d, "temp_value")
	}
	if !ok {
		return nil, fmt.Errorf("device %s has no color temperature datapoint", d.DevID)
	}
	return map[string]any{dp: value}, nil
}

// ColorHSV translates an HSV color request into Tuya's packed colour_data
// representation (three 4-digit hex segments: h, s, v).
func (t *Translator) ColorHSV(d *device.Device, h, s, v int) (map[string]any, error) {
	dp, _, ok := codeFor(d, "colour_data_v2")
	if !ok {
		dp, _, ok = codeFor(d, "colour_data")
	}
	if !ok {
		return nil, fmt.Errorf("device %s has no color datapoint", d.DevID)
	}
	packed := fmt.Sprintf("%04x%04x%04x", h, s, v)
	return map[string]any{dp: packed}, nil
}

// ColorRGB converts an 8-bit RGB triple to HSV and delegates to ColorHSV,
// since Tuya's wire format for color devices is HSV-native.
func (t *Translator) ColorRGB(d *device.Device, r, g, b int) (map[string]any, error) {
	h, s, v := rgbToHSV(r, g, b)
	return t.ColorHSV(d, h, s, v)
}

func rgbToHSV(r, g, b int) (h, s, v int) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	if delta == 0 {
		h = 0
	} else if max == rf {
		h = int(math.Mod(60*((gf-bf)/delta)+360, 360))
	} else if max == gf {
		h = int(60*((bf-rf)/delta) + 120)
	} else {
		h = int(60*((rf-gf)/delta) + 240)
	}

	if max == 0 {
		s = 0
	} else {
		s = int(math.Round((delta / max) * 1000))
	}
	v = int(math.Round(max * 1000))

	return h, s, v
}

// WorkMode validates mode against Tuya's closed work_mode set and
// translates it.
func (t *Translator) WorkMode(d *device.Device, mode string) (map[string]any, error) {
	if !workModes[mode] {
		return nil, fmt.Errorf("work_mode %q is not one of the recognised values", mode)
	}
	dp, _, ok := codeFor(d, "work_mode")
	if !ok {
		return nil, fmt.Errorf("device %s has no work_mode datapoint", d.DevID)
	}
	return map[string]any{dp: mode}, nil
}

// SetStatusV2 accepts a pre-resolved set of property -> DP-code values and
// aggregates them into a single multi-DP write, so a scene or composite
// property change (e.g. setting brightness and color temp together) lands
// on the wire as one frame instead of several.
func (t *Translator) SetStatusV2(d *device.Device, values map[string]any) (map[string]any, error) {
	dps := make(map[string]any, len(values))
	for code, value := range values {
		dp, m, ok := codeFor(d, code)
		if !ok {
			return nil, fmt.Errorf("device %s has no datapoint for code %q", d.DevID, code)
		}
		if f, isFloat := value.(float64); isFloat && m.Type == device.DPTypeValue {
			value = int(math.Round(f))
		}
		dps[dp] = value
	}
	return dps, nil
}

// Scene is a deliberate no-op: scene activation is resolved entirely by the
// controller side (e.g. Homie or an automation layer publishing a sequence
// of ordinary property sets), so the bridge itself never interprets a
// "scene" command as anything other than a name.
func (t *Translator) Scene(d *device.Device, name string) (map[string]any, error) {
	return nil, nil
}

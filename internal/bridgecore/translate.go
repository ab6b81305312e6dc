package bridgecore

import (
	"fmt"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

// translateSet dispatches an inbound device/set payload through the
// pipeline's Translator, resolving human Tuya codes to raw datapoints
// before anything reaches the wire. An API-v2 payload ({"api_ver": 2, ...})
// aggregates every other key into one set_status write (on a Type-C light,
// a bright_value or bright_value_v2 percent is first scaled to the device's
// 10-1000 range); otherwise each
// recognised API-v1 key is translated independently and the results are
// merged into a single multi-DP write, mirroring how the bridge's own
// _handel_apiv1_methods dispatch table treats a batch of properties set in
// one publish.
func (c *Core) translateSet(dev *device.Device, req map[string]any) (map[string]any, error) {
	if v, ok := req["api_ver"]; ok {
		if n, ok := toInt(v); ok && n == 2 {
			values := make(map[string]any, len(req))
			for k, v := range req {
				if k == "api_ver" {
					continue
				}
				values[k] = v
			}
			if dev.Category == device.CategoryLightTypeC {
				for _, k := range []string{"bright_value", "bright_value_v2"} {
					n, ok := toInt(values[k])
					if !ok {
						continue
					}
					scaled, err := c.translator.Brightness(dev, n)
					if err != nil {
						return nil, fmt.Errorf("bridgecore: translating %q: %w", k, err)
					}
					for _, raw := range scaled {
						values[k] = raw
					}
				}
			}
			return c.translator.SetStatusV2(dev, c.resolveV2Toggles(dev, values))
		}
	}

	dps := make(map[string]any)
	for key, v := range req {
		part, err := c.translateKey(dev, key, v)
		if err != nil {
			return nil, fmt.Errorf("bridgecore: translating %q: %w", key, err)
		}
		for dp, val := range part {
			dps[dp] = val
		}
	}
	return dps, nil
}

func (c *Core) translateKey(dev *device.Device, key string, v any) (map[string]any, error) {
	switch key {
	case "switch":
		return c.translateSwitch(dev, v)
	case "toggle":
		return c.translateToggle(dev, v)
	case "bright":
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("bright payload must be a number, got %T", v)
		}
		return c.translator.Brightness(dev, n)
	case "color_temp":
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("color_temp payload must be a number, got %T", v)
		}
		return c.translator.ColorTemp(dev, n)
	case "color_hsv":
		h, s, val, ok := toIntTriple(v)
		if !ok {
			return nil, fmt.Errorf("color_hsv payload must be a 3-element array")
		}
		return c.translator.ColorHSV(dev, h, s, val)
	case "color_rgb":
		r, g, b, ok := toIntTriple(v)
		if !ok {
			return nil, fmt.Errorf("color_rgb payload must be a 3-element array")
		}
		return c.translator.ColorRGB(dev, r, g, b)
	case "work_mode":
		mode, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("work_mode payload must be a string, got %T", v)
		}
		return c.translator.WorkMode(dev, mode)
	case "scene":
		name, _ := v.(string)
		return c.translator.Scene(dev, name)
	default:
		c.logger.Warn("device set: unrecognised property", "dev_id", dev.DevID, "key", key)
		return nil, nil
	}
}

// translateSwitch handles the two shapes the "switch" key can take: a plain
// on/off bool, or {"state": bool, "switch_num": N} for a multi-gang device,
// which is routed through SetStatusV2 against a synthesized switch_N code.
func (c *Core) translateSwitch(dev *device.Device, v any) (map[string]any, error) {
	switch sv := v.(type) {
	case bool:
		return c.translator.Switch(dev, sv)
	case map[string]any:
		state, _ := sv["state"].(bool)
		num, ok := toInt(sv["switch_num"])
		if !ok || num <= 0 {
			num = 1
		}
		code := fmt.Sprintf("switch_%d", num)
		return c.translator.SetStatusV2(dev, map[string]any{code: state})
	default:
		return nil, fmt.Errorf("switch payload has unexpected type %T", v)
	}
}

// translateToggle resolves the dp code named by v, looks up its last known
// value, and flips it. current defaults false when no status has been
// observed for the device yet.
func (c *Core) translateToggle(dev *device.Device, v any) (map[string]any, error) {
	code, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("toggle payload must be a dp code string, got %T", v)
	}
	dp, ok := dpIDForCode(dev, code)
	if !ok {
		return nil, fmt.Errorf("device %s has no datapoint for code %q", dev.DevID, code)
	}
	last, _ := c.lastDPValue(dev.DevID, dp)
	current, _ := last.(bool)
	return map[string]any{dp: !current}, nil
}

// resolveV2Toggles replaces any value of the literal string "toggle" in an
// aggregated set_status payload with the negation of that code's last known
// value, matching the v2 dispatch's per-key toggle sentinel.
func (c *Core) resolveV2Toggles(dev *device.Device, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for code, v := range values {
		if s, ok := v.(string); ok && s == "toggle" {
			if dp, ok := dpIDForCode(dev, code); ok {
				last, _ := c.lastDPValue(dev.DevID, dp)
				current, _ := last.(bool)
				out[code] = !current
				continue
			}
		}
		out[code] = v
	}
	return out
}

// dpIDForCode finds the raw DP identifier whose mapping carries the given
// human code.
func dpIDForCode(d *device.Device, code string) (string, bool) {
	for dp, m := range d.Mapping {
		if m.Code == code {
			return dp, true
		}
	}
	return "", false
}

// lastDPValue returns the last polled value of dp on devID, if any status
// has been recorded for that device yet.
func (c *Core) lastDPValue(devID, dp string) (any, bool) {
	raw, ok := c.statuses.get(devID)
	if !ok {
		return nil, false
	}
	status, ok := raw.(deviceStatusPayload)
	if !ok {
		return nil, false
	}
	v, ok := status.DPs[dp]
	return v, ok
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func toIntTriple(v any) (a, b, c int, ok bool) {
	arr, isArr := v.([]any)
	if !isArr || len(arr) != 3 {
		return 0, 0, 0, false
	}
	x, ok1 := toInt(arr[0])
	y, ok2 := toInt(arr[1])
	z, ok3 := toInt(arr[2])
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	return x, y, z, true
}

// Package device holds the bridge's notion of a Tuya device: its
// configuration record, the datapoint mapping that describes how to
// interpret and translate its raw DPs, and the registry that persists and
// caches those records.
package device

import (
	"encoding/json"
	"time"
)

// Category is one of the bridge's closed set of supported Tuya product
// categories. An unrecognised category is handled generically (raw DP
// passthrough) rather than rejected.
type Category string

const (
	CategorySwitch     Category = "switch"
	CategoryLight      Category = "light"
	CategoryLightTypeC Category = "light_type_c"
	CategoryCover      Category = "cover"
	CategorySensor     Category = "sensor"
	CategoryUnknown    Category = "unknown"
)

// AllCategories returns every recognised category, for validation and
// documentation purposes.
func AllCategories() []Category {
	return []Category{CategorySwitch, CategoryLight, CategoryLightTypeC, CategoryCover, CategorySensor, CategoryUnknown}
}

// DPType is the Tuya datapoint value type, as reported by the cloud schema
// or inferred from the local protocol payload.
type DPType string

const (
	DPTypeBool   DPType = "bool"
	DPTypeValue  DPType = "value"
	DPTypeString DPType = "string"
	DPTypeEnum   DPType = "enum"
	DPTypeBitmap DPType = "bitmap"
	DPTypeRaw    DPType = "raw"
)

// DPMapping describes one Tuya datapoint: how it was learned, its type,
// and — for value and enum types — the bounds or permitted set needed to
// translate a Homie property value to and from the DP's raw wire form.
type DPMapping struct {
	Code   string   `json:"code"`
	Type   DPType   `json:"type"`
	Min    *int     `json:"min,omitempty"`
	Max    *int     `json:"max,omitempty"`
	Scale  *int     `json:"scale,omitempty"`
	Values []string `json:"values,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	// Unknown marks a DP observed on the wire but absent from the cloud
	// schema at the time it was learned (see Registry.InsertUnknownDP).
	Unknown bool `json:"unknown,omitempty"`
}

func (m DPMapping) deepCopy() DPMapping {
	cp := m
	if m.Min != nil {
		v := *m.Min
		cp.Min = &v
	}
	if m.Max != nil {
		v := *m.Max
		cp.Max = &v
	}
	if m.Scale != nil {
		v := *m.Scale
		cp.Scale = &v
	}
	if m.Values != nil {
		cp.Values = append([]string(nil), m.Values...)
	}
	return cp
}

// Device is the bridge's persisted record for one Tuya device: enough to
// open a local connection, decode its datapoints, and present it over
// Homie without re-querying the cloud on every restart.
type Device struct {
	DevID        string               `json:"dev_id"`
	IP           string               `json:"ip"`
	LocalKey     string               `json:"local_key"`
	ProductID    string               `json:"product_id"`
	Version      string               `json:"version"`
	Category     Category             `json:"category"`
	FriendlyName string               `json:"friendly_name"`
	Mapping      map[string]DPMapping `json:"mapping"`

	// GatewayID is non-empty for a sub-device reached through a Zigbee
	// gateway rather than addressed directly by IP.
	GatewayID string `json:"gateway_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`

	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// DeepCopy returns an independent copy of d, safe to mutate without
// affecting the registry's cached copy.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Mapping != nil {
		cp.Mapping = make(map[string]DPMapping, len(d.Mapping))
		for k, v := range d.Mapping {
			cp.Mapping[k] = v.deepCopy()
		}
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cp.LastSeen = &t
	}
	return &cp
}

// Brief is the compact summary of a device used in bridge command
// acknowledgements: enough to identify
// the device and its capability shape without exposing its local key.
type Brief struct {
	DevID        string   `json:"dev_id"`
	FriendlyName string   `json:"friendly_name"`
	Category     Category `json:"category"`
	Online       bool     `json:"online"`
	DPCodes      []string `json:"dp_codes"`
}

// Brief summarises d for external consumption, omitting the local key.
func (d *Device) Brief(online bool) Brief {
	codes := make([]string, 0, len(d.Mapping))
	for _, m := range d.Mapping {
		codes = append(codes, m.Code)
	}
	return Brief{
		DevID:        d.DevID,
		FriendlyName: d.FriendlyName,
		Category:     d.Category,
		Online:       online,
		DPCodes:      codes,
	}
}

// MarshalJSON round-trips cleanly even with a nil Mapping, so a freshly
// discovered device with no schema yet still persists valid JSON.
func (d Device) MarshalJSON() ([]byte, error) {
	type alias Device
	a := alias(d)
	if a.Mapping == nil {
		a.Mapping = map[string]DPMapping{}
	}
	return json.Marshal(a)
}

package homie

import "encoding/json"

// marshalDescription renders a Description as compact JSON, the form
// published retained on $description.
func marshalDescription(d *Description) ([]byte, error) {
	return json.Marshal(d)
}

// Description is a Homie 5 device $description document, published
// retained on <device-topic>/$description as compact JSON.
type Description struct {
	Homie      string          `json:"homie"`
	Version    int             `json:"version"`
	Name       string          `json:"name"`
	Children   []string        `json:"children,omitempty"`
	Root       string          `json:"root,omitempty"`
	Parent     string          `json:"parent,omitempty"`
	Nodes      map[string]Node `json:"nodes"`
	Extensions []string        `json:"extensions,omitempty"`
	Tuya       *TuyaExtension  `json:"extensions.tuya,omitempty"`
}

// Node is one Homie node: a functional grouping of properties, such as
// "switch" or "light".
type Node struct {
	Name       string              `json:"name"`
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// Property is one Homie property: a single controllable or observable
// value within a node.
type Property struct {
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
	Settable bool   `json:"settable"`
	Retained bool   `json:"retained"`
	Unit     string `json:"unit,omitempty"`
	Format   string `json:"format,omitempty"`
}

// TuyaExtension is the filtered subset of a device record published
// under extensions.tuya on its Homie description: identity, category,
// product info and network, nothing that would leak the local key.
type TuyaExtension struct {
	DevID     string `json:"dev_id"`
	Category  string `json:"category"`
	ProductID string `json:"product_id"`
	IP        string `json:"ip"`
	Version   string `json:"version"`
}

// Binding connects one Homie node/property pair back to the Tuya DP
// code it reads from and writes to.
type Binding struct {
	Node     string
	Property string
	DPCode   string
	DPType   string
	Scale    *int
	Values   []string
}

package homie

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apapsch/go-jsonmerge/v2"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

// Template is a hand-authored device override: a match clause selecting
// which devices it applies to, a partial Homie document merged on top of
// the generic converter's output, and the dp: overrides that bind its
// properties to DP codes.
type Template struct {
	Match   TemplateMatch              `json:"match"`
	Homie   json.RawMessage            `json:"homie"`
	DPs     map[string]TemplateDPEntry `json:"dp"`
}

// TemplateMatch selects devices a template applies to by exact string
// equality; a zero-value field is not compared.
type TemplateMatch struct {
	ProductID string `json:"product_id,omitempty"`
	Category  string `json:"category,omitempty"`
}

// TemplateDPEntry is one dp: override, naming the node/property a DP
// code is bound to when a template customizes the generic mapping.
type TemplateDPEntry struct {
	Node     string `json:"node"`
	Property string `json:"property"`
}

// Matches reports whether t applies to d: every non-empty field in
// t.Match must equal the corresponding field on d. A template with no
// match fields set matches no device.
func (t Template) Matches(d *device.Device) bool {
	if t.Match.ProductID != "" && t.Match.ProductID != d.ProductID {
		return false
	}
	if t.Match.Category != "" && t.Match.Category != string(d.Category) {
		return false
	}
	return t.Match.ProductID != "" || t.Match.Category != ""
}

// LoadTemplates reads every *.json file in dir as a Template. A missing
// directory is not an error: it simply yields no templates, since
// per-device overrides are optional.
func LoadTemplates(dir string) ([]Template, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("globbing homie template dir %s: %w", dir, err)
	}

	templates := make([]Template, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading homie template %s: %w", path, err)
		}
		var tpl Template
		if err := json.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parsing homie template %s: %w", path, err)
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// FindTemplate returns the first template in templates matching d, or
// nil if none match; the generic converter applies on its own.
func FindTemplate(templates []Template, d *device.Device) *Template {
	for i := range templates {
		if templates[i].Matches(d) {
			return &templates[i]
		}
	}
	return nil
}

// ApplyTemplate merges a matched template's partial Homie document on
// top of the generic converter's output for d, overlaying only the
// nodes/properties the template customizes, and returns the additional
// DP bindings the template's dp: entries declare. The template's dp:
// annotations never appear in the returned Description: only its
// "homie" sub-document is merged.
func ApplyTemplate(generic *Description, genericBindings []Binding, tpl Template, d *device.Device) (*Description, []Binding, error) {
	baseJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal generic description: %w", err)
	}

	merger := jsonmerge.Merger{}
	mergedJSON, err := merger.MergeBytes(baseJSON, []byte(tpl.Homie))
	if err != nil {
		return nil, nil, fmt.Errorf("merge template: %w", err)
	}

	var merged Description
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, nil, fmt.Errorf("unmarshal merged description: %w", err)
	}

	bindings := append([]Binding(nil), genericBindings...)
	for code, entry := range tpl.DPs {
		var mapping device.DPMapping
		found := false
		for _, m := range d.Mapping {
			if m.Code == code {
				mapping, found = m, true
				break
			}
		}
		if !found {
			continue
		}
		bindings = overrideBinding(bindings, Binding{
			Node:     entry.Node,
			Property: entry.Property,
			DPCode:   code,
			DPType:   string(mapping.Type),
			Scale:    mapping.Scale,
			Values:   mapping.Values,
		})
	}

	return &merged, bindings, nil
}

// overrideBinding appends b, replacing any existing binding that
// targets the same (node, property) pair, so an explicit dp: override
// always wins over whatever the generic converter inferred for that
// slot.
func overrideBinding(bindings []Binding, b Binding) []Binding {
	for i, existing := range bindings {
		if existing.Node == b.Node && existing.Property == b.Property {
			bindings[i] = b
			return bindings
		}
	}
	return append(bindings, b)
}

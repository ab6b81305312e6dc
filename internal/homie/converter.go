package homie

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

var excludeDPCode = regexp.MustCompile(`^(flash_scene_\d+|scene_data(_v2)?|music_data|control_data|countdown)$`)

// nodeRules is evaluated in order; the first regex to match a DP code
// wins the node assignment. A code matching none of these is skipped by
// the generic converter entirely.
var nodeRules = []struct {
	node string
	re   *regexp.Regexp
}{
	{"relay", regexp.MustCompile(`^(on|switch)$`)},
	{"light", regexp.MustCompile(`switch_led|bright|color|colour|work_mode|scene|flash|temp`)},
	{"meter", regexp.MustCompile(`^(current|power|voltage|energy|cur_)`)},
	{"timer", regexp.MustCompile(`countdown|timer`)},
}

// aliasRules maps a DP code regex to its canonical Homie property id,
// checked in order; a code matching none keeps its own sanitized form.
var aliasRules = []struct {
	re    *regexp.Regexp
	alias string
}{
	{regexp.MustCompile(`^bright$`), "brightness"},
	{regexp.MustCompile(`^(colour|color)$`), "color"},
	{regexp.MustCompile(`^temp(_value)?$`), "temperature"},
	{regexp.MustCompile(`^work_mode$`), "mode"},
	{regexp.MustCompile(`^cur_current$`), "current"},
	{regexp.MustCompile(`^cur_power$`), "power"},
	{regexp.MustCompile(`^cur_voltage$`), "voltage"},
	{regexp.MustCompile(`^countdown$`), "timer"},
}

var colorCode = regexp.MustCompile(`colo[u]?r`)

// propertyAlias returns the canonical alias for a DP code, or its
// sanitized form if no alias rule matches.
func propertyAlias(code string) string {
	for _, rule := range aliasRules {
		if rule.re.MatchString(code) {
			return rule.alias
		}
	}
	return SanitizeID(code)
}

// assignNode returns the node a DP code belongs to under the generic
// converter, and false if the code matches no node rule.
func assignNode(code string) (string, bool) {
	for _, rule := range nodeRules {
		if rule.re.MatchString(code) {
			return rule.node, true
		}
	}
	return "", false
}

// datatypeFor maps a Tuya DP type and code to a Homie datatype and
// format string.
func datatypeFor(m device.DPMapping) (datatype, format string) {
	switch m.Type {
	case device.DPTypeBool:
		return "boolean", ""
	case device.DPTypeValue:
		min, max := 0, 0
		if m.Min != nil {
			min = *m.Min
		}
		if m.Max != nil {
			max = *m.Max
		}
		step := 0
		if m.Scale != nil {
			step = *m.Scale
		}
		if step != 0 {
			return "integer", fmt.Sprintf("%d:%d:%d", min, max, step)
		}
		if m.Min == nil && m.Max == nil {
			return "integer", ""
		}
		return "integer", fmt.Sprintf("%d:%d", min, max)
	case device.DPTypeEnum:
		return "enum", strings.Join(m.Values, ",")
	case device.DPTypeRaw, "json", "Json":
		if colorCode.MatchString(m.Code) {
			return "color", "hsv"
		}
		return "json", ""
	default:
		return "string", ""
	}
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Convert runs the generic DP-to-Homie converter against d, producing a
// Description and the node/property bindings DeviceBridge needs to
// translate DPs at runtime. Codes matching no node rule are skipped;
// excluded codes never reach the description at all.
func Convert(d *device.Device) (*Description, []Binding, error) {
	nodes := map[string]Node{}
	var bindings []Binding
	usedIDs := map[string]map[string]bool{}

	byCode := make(map[string]device.DPMapping, len(d.Mapping))
	for _, m := range d.Mapping {
		byCode[m.Code] = m
	}
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sortStrings(codes)

	for _, code := range codes {
		if excludeDPCode.MatchString(code) {
			continue
		}
		mapping := byCode[code]
		nodeName, ok := assignNode(code)
		if !ok {
			continue
		}
		propID := propertyAlias(code)
		if usedIDs[nodeName] == nil {
			usedIDs[nodeName] = map[string]bool{}
		}
		propID = dedupeID(usedIDs[nodeName], propID)

		datatype, format := datatypeFor(mapping)
		prop := Property{
			Name:     titleCase(propID),
			Datatype: datatype,
			Settable: !strings.HasPrefix(code, "cur_"),
			Retained: true,
			Unit:     mapping.Unit,
			Format:   format,
		}

		node, exists := nodes[nodeName]
		if !exists {
			node = Node{Name: titleCase(nodeName), Properties: map[string]Property{}}
		}
		node.Properties[propID] = prop
		nodes[nodeName] = node

		bindings = append(bindings, Binding{
			Node:     nodeName,
			Property: propID,
			DPCode:   code,
			DPType:   string(mapping.Type),
			Scale:    mapping.Scale,
			Values:   mapping.Values,
		})
	}

	desc := &Description{
		Homie:   "5.0",
		Version: int(time.Now().Unix()),
		Name:    d.FriendlyName,
		Nodes:   nodes,
		Tuya: &TuyaExtension{
			DevID:     d.DevID,
			Category:  string(d.Category),
			ProductID: d.ProductID,
			IP:        d.IP,
			Version:   d.Version,
		},
	}
	return desc, bindings, nil
}

func dedupeID(used map[string]bool, id string) string {
	if !used[id] {
		used[id] = true
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

package scanner

// Mode selects what a scan publishes and how.
type Mode string

const (
	// ModeScan collects for the full scan duration, then publishes one
	// merged object containing every discovered device.
	ModeScan Mode = "scan"

	// ModeScanGen streams: each discovered+merged device is published on
	// its own, as soon as it is resolved.
	ModeScanGen Mode = "scan_gen"

	// ModeScanGenAll streams the cumulative snapshot (a map keyed by IP)
	// every time a new device is discovered. The snapshot does not keep
	// discovery order.
	ModeScanGenAll Mode = "scan_gen_all"
)

// Record is one entry of a scan result, keyed by IP in the published
// object and in local_scan.json.
type Record struct {
	ID             string `json:"id,omitempty"`
	IP             string `json:"ip,omitempty"`
	Version        string `json:"version,omitempty"`
	ProductKey     string `json:"productKey,omitempty"`
	MAC            string `json:"mac,omitempty"`
	Name           string `json:"name,omitempty"`
	ProductName    string `json:"product_name,omitempty"`
	Icon           string `json:"icon,omitempty"`
	MergeWithCloud bool   `json:"merge_with_cloud,omitempty"`
	Err            string `json:"Err,omitempty"`
	Error          string `json:"Error,omitempty"`
}

// rawPacket is the decrypted JSON shape a Tuya UDP broadcast carries.
type rawPacket struct {
	GwID       string `json:"gwId"`
	IP         string `json:"ip"`
	Version    string `json:"version"`
	ProductKey string `json:"productKey"`
	Active     int    `json:"active"`
}

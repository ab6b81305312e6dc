package bridgecore

// command names the bridge recognises on its control topics, used as the
// key into the admission policy table.
type command string

const (
	cmdDeviceSet    command = "device_set"
	cmdScan         command = "scan"
	cmdScanGen      command = "scan_gen"
	cmdScanGenAll   command = "scan_gen_all"
	cmdAdd          command = "add"
	cmdUpdateKey    command = "update_key"
	cmdRemove       command = "remove"
	cmdFriendlyName command = "friendly_name"
	cmdStopScan     command = "stop_scan"
	cmdSetScanTime  command = "scan_time"
)

// allowedStates is the admission policy matrix: which connectivity states
// permit each command to run. A command absent from this map is denied in
// every state.
var allowedStates = map[command]map[State]bool{
	cmdDeviceSet:    {StateLANOnly: true, StateOnline: true},
	cmdScan:         {StateLANOnly: true, StateOnline: true},
	cmdScanGen:      {StateLANOnly: true, StateOnline: true},
	cmdScanGenAll:   {StateLANOnly: true, StateOnline: true},
	cmdAdd:          {StateOnline: true},
	cmdUpdateKey:    {StateOnline: true},
	cmdRemove:       {StateOffline: true, StateLANOnly: true, StateOnline: true},
	cmdFriendlyName: {StateOffline: true, StateLANOnly: true, StateOnline: true},
	cmdStopScan:     {StateOffline: true, StateLANOnly: true, StateOnline: true},
	cmdSetScanTime:  {StateOffline: true, StateLANOnly: true, StateOnline: true},
}

// admitted reports whether cmd may run while the bridge is in state s.
func admitted(cmd command, s State) bool {
	return allowedStates[cmd][s]
}

// withAdmission wraps a command handler with the admission gate: if the
// bridge's current state does not permit cmd, the attempt is logged as
// skipped and the bridge's status is republished instead of running the
// handler.
func (c *Core) withAdmission(cmd command, handler func(topic string, payload []byte) error) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		state := c.state.get()
		if !admitted(cmd, state) {
			c.logger.Warn("command rejected by admission gate", "command", cmd, "state", state)
			return c.publishBridgeStatus()
		}
		return handler(topic, payload)
	}
}

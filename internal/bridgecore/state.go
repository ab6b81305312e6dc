// Package bridgecore wires every other subsystem together into the
// bridge's main orchestrator: the OFFLINE/LAN_ONLY/ONLINE state machine,
// the admission gate that decides which commands may run in each state,
// the bounded worker pool that executes long-running bridge commands, and
// the poll-loop callback that fans a device's status out to both its
// native and Homie topics.
package bridgecore

import (
	"net"
	"sync"
	"time"
)

// State is one of the bridge's three connectivity states.
type State string

const (
	// StateOffline means the LAN itself is unreachable.
	StateOffline State = "OFFLINE"

	// StateLANOnly means the LAN works but the Tuya cloud does not.
	StateLANOnly State = "LAN_ONLY"

	// StateOnline means both the LAN and the cloud are reachable.
	StateOnline State = "ONLINE"
)

const (
	lanProbeAddr      = "192.0.2.1:9"
	internetProbeAddr = "1.1.1.1:53"
	internetProbeTimeout = 1 * time.Second
)

// probeLAN reports whether the local network is usable, by attempting a
// UDP "connect" (which never sends a packet but does force a route
// lookup) to an address from the documentation-only TEST-NET-1 block.
// Any error, including "no route to host", means the LAN is down.
func probeLAN() bool {
	conn, err := net.Dial("udp", lanProbeAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// probeInternet reports whether the Tuya cloud is likely reachable, by
// TCP-dialing a well-known public resolver with a short timeout. Any
// error is treated as "no internet" rather than classified further.
func probeInternet() bool {
	conn, err := net.DialTimeout("tcp", internetProbeAddr, internetProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// determineState derives a State from the two probes.
func determineState(lanUp, internetUp bool) State {
	switch {
	case !lanUp:
		return StateOffline
	case internetUp:
		return StateOnline
	default:
		return StateLANOnly
	}
}

// stateTracker holds the bridge's current connectivity state behind a
// lock and republishes it on every actual change, never on a no-op
// re-assertion of the same state.
type stateTracker struct {
	mu      sync.Mutex
	current State
	onChange func(State)
}

func newStateTracker(onChange func(State)) *stateTracker {
	return &stateTracker{current: StateOffline, onChange: onChange}
}

// set updates the tracked state. It returns true if the state actually
// changed, and invokes onChange exactly when it does.
func (t *stateTracker) set(s State) bool {
	t.mu.Lock()
	changed := t.current != s
	if changed {
		t.current = s
	}
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(s)
	}
	return changed
}

func (t *stateTracker) get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

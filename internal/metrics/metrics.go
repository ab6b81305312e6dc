// Package metrics tracks the bridge's operational counters: commands
// executed, poll outcomes, device errors bucketed by code, and scanner
// runs. Counters are mirrored into Prometheus and additionally published
// as a JSON snapshot on the bridge's own MQTT namespace.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuya2mqtt_commands_executed_total",
		Help: "Total commands executed by device worker queues, by outcome.",
	}, []string{"outcome"})

	pollsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuya2mqtt_polls_completed_total",
		Help: "Total device status polls completed.",
	})

	pollsSlow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuya2mqtt_polls_slow_total",
		Help: "Total device status polls whose round trip exceeded the slow threshold.",
	})

	deviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuya2mqtt_device_errors_total",
		Help: "Total device errors observed, bucketed by error code.",
	}, []string{"code"})

	scansRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuya2mqtt_scans_run_total",
		Help: "Total scanner runs, by mode.",
	}, []string{"mode"})

	devicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuya2mqtt_devices_online",
		Help: "Number of devices currently considered online.",
	})

	bridgeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tuya2mqtt_bridge_state",
		Help: "Current bridge state machine value (1 for the active state, 0 otherwise).",
	}, []string{"state"})
)

// Snapshot is the JSON-serializable shape published periodically to the
// bridge's metrics topic.
type Snapshot struct {
	CommandsOK     uint64            `json:"commands_ok"`
	CommandsFailed uint64            `json:"commands_failed"`
	PollsCompleted uint64            `json:"polls_completed"`
	PollsSlow      uint64            `json:"polls_slow"`
	DeviceErrors   map[string]uint64 `json:"device_errors"`
	ScansRun       map[string]uint64 `json:"scans_run"`
	DevicesOnline  int               `json:"devices_online"`
	BridgeState    string            `json:"bridge_state"`
}

// Registry accumulates the bridge's own copy of its counters so Snapshot
// can report exact values without scraping Prometheus, while every
// increment is also mirrored to the promauto collectors above for the
// ambient /metrics endpoint.
type Registry struct {
	mu sync.Mutex

	commandsOK     uint64
	commandsFailed uint64
	pollsCompleted uint64
	pollsSlow      uint64
	deviceErrors   map[string]uint64
	scansRun       map[string]uint64
	devicesOnline  int
	bridgeState    string
}

// NewRegistry builds an empty metrics Registry.
func NewRegistry() *Registry {
	return &Registry{
		deviceErrors: map[string]uint64{},
		scansRun:     map[string]uint64{},
	}
}

// RecordCommand increments the command-outcome counters.
func (r *Registry) RecordCommand(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.commandsOK++
		commandsExecuted.WithLabelValues("ok").Inc()
	} else {
		r.commandsFailed++
		commandsExecuted.WithLabelValues("failed").Inc()
	}
}

// RecordPoll increments the poll counters, flagging slow round trips.
func (r *Registry) RecordPoll(slow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollsCompleted++
	pollsCompleted.Inc()
	if slow {
		r.pollsSlow++
		pollsSlow.Inc()
	}
}

// RecordDeviceError increments the ERR_<code> bucket for a device error.
func (r *Registry) RecordDeviceError(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceErrors[code]++
	deviceErrors.WithLabelValues(code).Inc()
}

// RecordScan increments the scan-run counter for a given mode.
func (r *Registry) RecordScan(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scansRun[mode]++
	scansRun.WithLabelValues(mode).Inc()
}

// SetDevicesOnline updates the online-device gauge.
func (r *Registry) SetDevicesOnline(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devicesOnline = n
	devicesOnline.Set(float64(n))
}

// SetBridgeState records the bridge's current state-machine value.
func (r *Registry) SetBridgeState(state string) {
	r.mu.Lock()
	prev := r.bridgeState
	r.bridgeState = state
	r.mu.Unlock()

	if prev != "" && prev != state {
		bridgeState.WithLabelValues(prev).Set(0)
	}
	bridgeState.WithLabelValues(state).Set(1)
}

// Snapshot returns a point-in-time copy of every counter, suitable for
// JSON marshaling and publication.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make(map[string]uint64, len(r.deviceErrors))
	for k, v := range r.deviceErrors {
		errs[k] = v
	}
	scans := make(map[string]uint64, len(r.scansRun))
	for k, v := range r.scansRun {
		scans[k] = v
	}

	return Snapshot{
		CommandsOK:     r.commandsOK,
		CommandsFailed: r.commandsFailed,
		PollsCompleted: r.pollsCompleted,
		PollsSlow:      r.pollsSlow,
		DeviceErrors:   errs,
		ScansRun:       scans,
		DevicesOnline:  r.devicesOnline,
		BridgeState:    r.bridgeState,
	}
}

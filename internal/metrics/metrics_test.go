package metrics

import "testing"

func TestRegistryRecordCommandTracksOutcomes(t *testing.T) {
	r := NewRegistry()
	r.RecordCommand(true)
	r.RecordCommand(true)
	r.RecordCommand(false)

	snap := r.Snapshot()
	if snap.CommandsOK != 2 || snap.CommandsFailed != 1 {
		t.Errorf("snapshot = %+v, want 2 ok / 1 failed", snap)
	}
}

func TestRegistryRecordPollFlagsSlow(t *testing.T) {
	r := NewRegistry()
	r.RecordPoll(false)
	r.RecordPoll(true)

	snap := r.Snapshot()
	if snap.PollsCompleted != 2 || snap.PollsSlow != 1 {
		t.Errorf("snapshot = %+v, want 2 completed / 1 slow", snap)
	}
}

func TestRegistryRecordDeviceErrorBucketsByCode(t *testing.T) {
	r := NewRegistry()
	r.RecordDeviceError("ERR_914")
	r.RecordDeviceError("ERR_914")
	r.RecordDeviceError("ERR_KEY_OR_VER")

	snap := r.Snapshot()
	if snap.DeviceErrors["ERR_914"] != 2 || snap.DeviceErrors["ERR_KEY_OR_VER"] != 1 {
		t.Errorf("device errors = %+v, unexpected", snap.DeviceErrors)
	}
}

func TestRegistryRecordScanByMode(t *testing.T) {
	r := NewRegistry()
	r.RecordScan("scan_gen_all")
	r.RecordScan("scan_gen_all")

	snap := r.Snapshot()
	if snap.ScansRun["scan_gen_all"] != 2 {
		t.Errorf("scans = %+v, want 2 scan_gen_all", snap.ScansRun)
	}
}

func TestRegistrySnapshotIsolatesFromFutureWrites(t *testing.T) {
	r := NewRegistry()
	r.RecordDeviceError("ERR_914")

	snap := r.Snapshot()
	r.RecordDeviceError("ERR_914")

	if snap.DeviceErrors["ERR_914"] != 1 {
		t.Errorf("snapshot was mutated by a later write: %+v", snap.DeviceErrors)
	}
}

func TestRegistrySetDevicesOnlineAndBridgeState(t *testing.T) {
	r := NewRegistry()
	r.SetDevicesOnline(3)
	r.SetBridgeState("ONLINE")

	snap := r.Snapshot()
	if snap.DevicesOnline != 3 || snap.BridgeState != "ONLINE" {
		t.Errorf("snapshot = %+v, want 3 online / ONLINE", snap)
	}
}

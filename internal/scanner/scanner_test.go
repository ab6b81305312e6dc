package scanner

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/cloud"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

type fakeCloud struct {
	devices map[string]cloud.DeviceInfo
}

func (f *fakeCloud) GetDevice(ctx context.Context, devID string) (*cloud.DeviceInfo, error) {
	if info, ok := f.devices[devID]; ok {
		return &info, nil
	}
	return nil, cloud.ErrDeviceNotFound
}
func (f *fakeCloud) GetDatapoints(ctx context.Context, devID string) ([]cloud.Datapoint, error) {
	return nil, nil
}
func (f *fakeCloud) SendCommands(ctx context.Context, devID string, commands []cloud.Command) error {
	return nil
}
func (f *fakeCloud) ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error) { return nil, nil }

type fakeRegistry struct {
	known map[string]bool
}

func (f *fakeRegistry) Get(ctx context.Context, devID string) (*device.Device, error) {
	if f.known[devID] {
		return &device.Device{DevID: devID}, nil
	}
	return nil, device.ErrDeviceNotFound
}

func sendBroadcastPacket(t *testing.T, port int, raw rawPacket) {
	t.Helper()
	plaintext, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal raw packet: %v", err)
	}
	ciphertext := encryptForTest(t, plaintext)

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(ciphertext); err != nil {
		t.Fatalf("write udp: %v", err)
	}
}

func TestScannerDiscoversAndMergesWithCloud(t *testing.T) {
	ports := []int{16666, 16667, 16669}

	fc := &fakeCloud{devices: map[string]cloud.DeviceInfo{
		"aaaaaaaaaaaaaaaaaaaa": {DevID: "aaaaaaaaaaaaaaaaaaaa", Name: "Device A", ProductID: "prodA"},
		"bbbbbbbbbbbbbbbbbbbb": {DevID: "bbbbbbbbbbbbbbbbbbbb", Name: "Device B", ProductID: "prodB"},
	}}
	fr := &fakeRegistry{known: map[string]bool{}}
	sf := NewScanFile(t.TempDir() + "/local_scan.json")

	s := New(Config{Ports: ports, ScanTime: 2 * time.Second}, fc, fr, sf, nil)

	var emitted []map[string]Record
	emit := func(mode Mode, batch map[string]Record) {
		snapshot := make(map[string]Record, len(batch))
		for k, v := range batch {
			snapshot[k] = v
		}
		emitted = append(emitted, snapshot)
	}

	done := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		done <- s.Run(context.Background(), ModeScanGenAll, stop, emit)
	}()

	time.Sleep(200 * time.Millisecond)
	sendBroadcastPacket(t, ports[0], rawPacket{GwID: "aaaaaaaaaaaaaaaaaaaa", IP: "10.0.0.1", Version: "3.3"})
	time.Sleep(200 * time.Millisecond)
	sendBroadcastPacket(t, ports[1], rawPacket{GwID: "bbbbbbbbbbbbbbbbbbbb", IP: "10.0.0.2", Version: "3.3"})
	time.Sleep(200 * time.Millisecond)

	close(stop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not stop in time")
	}

	if len(emitted) < 2 {
		t.Fatalf("emitted %d snapshots, want at least 2", len(emitted))
	}
	last := emitted[len(emitted)-1]
	if len(last) != 2 {
		t.Fatalf("final snapshot = %+v, want 2 devices", last)
	}
	for ip, rec := range last {
		if !rec.MergeWithCloud {
			t.Errorf("record for %s not merged with cloud: %+v", ip, rec)
		}
	}

	persisted, err := sf.All()
	if err != nil {
		t.Fatalf("ScanFile.All: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("persisted = %+v, want 2 entries", persisted)
	}
}

func TestScannerSkipsDevicesAlreadyKnownToRegistry(t *testing.T) {
	ports := []int{17666, 17667, 17669}

	fc := &fakeCloud{devices: map[string]cloud.DeviceInfo{}}
	fr := &fakeRegistry{known: map[string]bool{"cccccccccccccccccccc": true}}
	sf := NewScanFile(t.TempDir() + "/local_scan.json")

	s := New(Config{Ports: ports, ScanTime: time.Second}, fc, fr, sf, nil)

	var emitted []map[string]Record
	emit := func(mode Mode, batch map[string]Record) {
		emitted = append(emitted, batch)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), ModeScan, nil, emit)
	}()

	time.Sleep(200 * time.Millisecond)
	sendBroadcastPacket(t, ports[0], rawPacket{GwID: "cccccccccccccccccccc", IP: "10.0.0.3", Version: "3.3"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not finish in time")
	}

	if len(emitted) != 1 {
		t.Fatalf("emitted %d batches, want 1 (ModeScan emits once)", len(emitted))
	}
	if len(emitted[0]) != 0 {
		t.Errorf("batch = %+v, want empty (device already known)", emitted[0])
	}
}

func TestSetScanTimeUpdatesFutureRunDuration(t *testing.T) {
	s := New(Config{Ports: []int{0}, ScanTime: 50 * time.Millisecond}, nil, nil, nil, nil)

	s.SetScanTime(2 * time.Second)
	if got := s.getScanTime(); got != 2*time.Second {
		t.Errorf("getScanTime() = %v, want 2s", got)
	}

	s.SetScanTime(0)
	if got := s.getScanTime(); got != 2*time.Second {
		t.Errorf("SetScanTime(0) should be a no-op, got %v", got)
	}
}

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []map[string]any
	delay time.Duration
}

func (s *recordingSender) SendDPs(ctx context.Context, devID string, dps map[string]any) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.sent = append(s.sent, dps)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) RequestStatus(ctx context.Context, devID string) (map[string]any, error) {
	return map[string]any{}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDeviceEntitySendsHigherPriorityFirst(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{delay: 20 * time.Millisecond}
	entity := NewDeviceEntity(ctx, "dev-1", sender, nil)
	defer entity.Stop()

	// First command occupies the worker so the next two queue up.
	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"0": "warmup"}, Priority: 5})
	time.Sleep(5 * time.Millisecond)

	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"1": "low"}, Priority: 10})
	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"2": "high"}, Priority: 1})

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 3
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent[1]["2"] != "high" {
		t.Errorf("second sent command = %+v, want the priority-1 command first", sender.sent[1])
	}
	if sender.sent[2]["1"] != "low" {
		t.Errorf("third sent command = %+v, want the priority-10 command last", sender.sent[2])
	}
}

func TestDeviceEntityServicesStatusRequest(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	entity := NewDeviceEntity(ctx, "dev-1", sender, nil)
	defer entity.Stop()

	statusCh := make(chan StatusResult, 1)
	entity.Enqueue(&Command{DevID: "dev-1", Status: true, Priority: 1, StatusCh: statusCh})

	select {
	case res := <-statusCh:
		if res.Err != nil {
			t.Fatalf("unexpected status error: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status result")
	}
}

func TestDeviceEntityQueuedWriteServicedBeforeLowerPriorityStatusRequest(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{delay: 20 * time.Millisecond}
	entity := NewDeviceEntity(ctx, "dev-1", sender, nil)
	defer entity.Stop()

	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"0": "warmup"}, Priority: 0})
	time.Sleep(5 * time.Millisecond)

	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"1": "control"}, Priority: 0})
	statusCh := make(chan StatusResult, 1)
	entity.Enqueue(&Command{DevID: "dev-1", Status: true, Priority: 1, StatusCh: statusCh})

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 2
	})

	select {
	case <-statusCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status result")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent[1]["1"] != "control" {
		t.Errorf("second send = %+v, want the priority-0 control write before the status request", sender.sent[1])
	}
}

func TestDeviceEntityDropsStaleCommand(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{delay: 30 * time.Millisecond}
	entity := NewDeviceEntity(ctx, "dev-1", sender, nil)
	defer entity.Stop()

	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"0": "warmup"}, Priority: 5})
	time.Sleep(5 * time.Millisecond)

	resultCh := make(chan error, 1)
	entity.Enqueue(&Command{
		DevID:    "dev-1",
		DPs:      map[string]any{"1": "stale"},
		Priority: 5,
		TTL:      1 * time.Millisecond,
		ResultCh: resultCh,
	})

	select {
	case err := <-resultCh:
		if err == nil {
			t.Error("expected an error for a stale command")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stale command result")
	}

	if entity.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", entity.Stats().Dropped)
	}
}

func TestDeviceEntityStopDrainsPendingCommands(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{delay: 100 * time.Millisecond}
	entity := NewDeviceEntity(ctx, "dev-1", sender, nil)

	resultCh := make(chan error, 1)
	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"0": "busy"}, Priority: 5})
	time.Sleep(5 * time.Millisecond)
	entity.Enqueue(&Command{DevID: "dev-1", DPs: map[string]any{"1": "queued"}, Priority: 5, ResultCh: resultCh})

	entity.Stop()

	select {
	case err := <-resultCh:
		if err == nil {
			t.Error("expected queued command to fail when entity stops before servicing it")
		}
	default:
		t.Error("expected queued command's result channel to be signalled on stop")
	}
}

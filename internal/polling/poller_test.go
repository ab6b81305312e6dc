package polling

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRequester struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	err   error
}

func (f *fakeRequester) RequestStatus(ctx context.Context, devID string) (map[string]any, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[devID]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"1": true}, nil
}

func (f *fakeRequester) callCount(devID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[devID]
}

type fakeLister struct {
	ids []string
}

func (f *fakeLister) DeviceIDs(ctx context.Context) []string { return f.ids }

func TestLoopPublishesAtLeastTwiceWithinSixIntervals(t *testing.T) {
	req := &fakeRequester{}
	lister := &fakeLister{ids: []string{"dev-1"}}

	var mu sync.Mutex
	var results []Result

	loop := New(Config{
		Interval:  50 * time.Millisecond,
		Requester: req,
		Lister:    lister,
		OnResult: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)
	defer loop.Stop()

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	count := len(results)
	mu.Unlock()

	if count < 2 {
		t.Fatalf("got %d poll results in 300ms at 50ms interval, want >= 2", count)
	}
}

func TestLoopFlagsSlowResults(t *testing.T) {
	req := &fakeRequester{}
	lister := &fakeLister{ids: []string{"dev-1"}}

	loop := &Loop{
		interval:  time.Hour,
		requester: req,
		lister:    lister,
		logger:    noopLogger{},
		onResult:  func(Result) {},
		done:      make(chan struct{}),
	}

	resultCh := make(chan Result, 1)
	loop.onResult = func(r Result) { resultCh <- r }

	// Directly exercise sweep rather than waiting an hour for the ticker.
	loop.sweep(context.Background())

	select {
	case r := <-resultCh:
		if r.Slow {
			t.Error("expected a fast fake request to not be flagged slow")
		}
	default:
		t.Fatal("sweep did not produce a result")
	}
}

func TestLoopStopWaitsForGoroutineExit(t *testing.T) {
	req := &fakeRequester{}
	lister := &fakeLister{ids: []string{"dev-1"}}

	loop := New(Config{
		Interval:  10 * time.Millisecond,
		Requester: req,
		Lister:    lister,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	loop.Stop()

	if req.callCount("dev-1") == 0 {
		t.Error("expected at least one poll before Stop")
	}
}

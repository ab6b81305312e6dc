// Package polling runs the periodic background sweep that requests a
// fresh status from every registered device, the way the teacher's health
// reporter runs its own ticker loop.
package polling

import (
	"context"
	"sync"
	"time"
)

// Logger is the minimal logging interface the poll loop uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusRequester issues one status request for a device and reports the
// result (and latency) through onResult. Implemented by BridgeCore.
type StatusRequester interface {
	RequestStatus(ctx context.Context, devID string) (dps map[string]any, err error)
}

// DeviceLister enumerates the device IDs the poll loop should sweep each
// tick.
type DeviceLister interface {
	DeviceIDs(ctx context.Context) []string
}

// slowThreshold is the round-trip latency above which a poll result
// increments the "slow" metric.
const slowThreshold = 5 * time.Second

// Result carries one device's poll outcome to the caller's callback.
type Result struct {
	DevID             string
	DPs               map[string]any
	Err               error
	RequestStatusTime time.Duration
	Slow              bool
}

// OnResult is invoked once per swept device, every tick.
type OnResult func(Result)

// Loop runs the periodic sweep described above on its own goroutine.
type Loop struct {
	interval   time.Duration
	requester  StatusRequester
	lister     DeviceLister
	onResult   OnResult
	logger     Logger

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Config configures a poll Loop.
type Config struct {
	Interval  time.Duration
	Requester StatusRequester
	Lister    DeviceLister
	OnResult  OnResult
	Logger    Logger
}

// New builds a poll Loop. Start must be called to begin ticking.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.OnResult == nil {
		cfg.OnResult = func(Result) {}
	}
	return &Loop{
		interval:  cfg.Interval,
		requester: cfg.Requester,
		lister:    cfg.Lister,
		onResult:  cfg.OnResult,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic sweep on its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop ends the sweep and waits for the worker goroutine to exit.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *Loop) sweep(ctx context.Context) {
	ids := l.lister.DeviceIDs(ctx)
	for _, devID := range ids {
		start := time.Now()
		dps, err := l.requester.RequestStatus(ctx, devID)
		elapsed := time.Since(start)

		if err != nil {
			l.logger.Warn("poll request failed", "dev_id", devID, "error", err)
		}

		l.onResult(Result{
			DevID:             devID,
			DPs:               dps,
			Err:               err,
			RequestStatusTime: elapsed,
			Slow:              elapsed > slowThreshold,
		})
	}
}

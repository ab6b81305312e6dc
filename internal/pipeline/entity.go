package pipeline

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Sender delivers commands to a device over its local transport: a batch of
// raw datapoint writes, or a request for its current datapoint values.
// Implemented by internal/transport.LocalTransport.
type Sender interface {
	SendDPs(ctx context.Context, devID string, dps map[string]any) error
	RequestStatus(ctx context.Context, devID string) (map[string]any, error)
}

// Logger is the minimal logging interface the pipeline needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceEntity owns one device's command pipeline: a priority queue of
// pending writes drained by a single dedicated worker goroutine, so
// commands for the same device are never sent concurrently and a
// higher-priority command (e.g. an interactive switch toggle) can jump
// ahead of a queued routine poll.
type DeviceEntity struct {
	devID   string
	sender  Sender
	logger  Logger

	mu     sync.Mutex
	queue  commandHeap
	notify chan struct{}

	seq int64

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewDeviceEntity creates an entity for devID and starts its worker
// goroutine. Call Stop to drain and shut it down.
func NewDeviceEntity(ctx context.Context, devID string, sender Sender, logger Logger) *DeviceEntity {
	if logger == nil {
		logger = noopLogger{}
	}
	e := &DeviceEntity{
		devID:  devID,
		sender: sender,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	heap.Init(&e.queue)

	e.wg.Add(1)
	go e.run(ctx)

	return e
}

// Enqueue submits a command for this device. It returns immediately; the
// command is serviced asynchronously by the worker goroutine in priority
// order.
func (e *DeviceEntity) Enqueue(cmd *Command) {
	e.mu.Lock()
	e.seq++
	cmd.seq = e.seq
	cmd.enqueued = time.Now()
	heap.Push(&e.queue, cmd)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Stop signals the worker to drain remaining commands and exit, then
// blocks until it has done so.
func (e *DeviceEntity) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

// Stats reports how many commands this entity has sent and dropped for
// staleness, for MetricsExt to aggregate.
type Stats struct {
	Sent    int64
	Dropped int64
	Pending int
}

func (e *DeviceEntity) Stats() Stats {
	e.mu.Lock()
	pending := e.queue.Len()
	e.mu.Unlock()
	return Stats{Sent: e.sent.Load(), Dropped: e.dropped.Load(), Pending: pending}
}

func (e *DeviceEntity) run(ctx context.Context) {
	defer e.wg.Done()
	defer e.logger.Debug("device entity worker stopped", "dev_id", e.devID)

	for {
		cmd := e.pop()
		if cmd == nil {
			select {
			case <-ctx.Done():
				e.drainOnShutdown()
				return
			case <-e.done:
				e.drainOnShutdown()
				return
			case <-e.notify:
				continue
			}
		}

		if cmd.Stale(time.Now()) {
			e.dropped.Add(1)
			e.logger.Warn("dropping stale command", "dev_id", e.devID, "priority", cmd.Priority)
			e.fail(cmd, fmt.Errorf("command TTL expired before it was serviced"))
			continue
		}

		if cmd.Status {
			dps, err := e.sender.RequestStatus(ctx, e.devID)
			if err != nil {
				e.logger.Error("status request failed", "dev_id", e.devID, "error", err)
			} else {
				e.sent.Add(1)
			}
			e.respondStatus(cmd, dps, err)
		} else {
			err := e.sender.SendDPs(ctx, e.devID, cmd.DPs)
			if err != nil {
				e.logger.Error("command send failed", "dev_id", e.devID, "error", err)
			} else {
				e.sent.Add(1)
			}
			e.respond(cmd, err)
		}

		select {
		case <-ctx.Done():
			e.drainOnShutdown()
			return
		case <-e.done:
			e.drainOnShutdown()
			return
		default:
		}
	}
}

// drainOnShutdown fails every still-queued command so callers waiting on a
// ResultCh are not left hanging when the entity is torn down.
func (e *DeviceEntity) drainOnShutdown() {
	for {
		cmd := e.pop()
		if cmd == nil {
			return
		}
		e.dropped.Add(1)
		e.fail(cmd, fmt.Errorf("device entity shut down before command was serviced"))
	}
}

// fail delivers err on whichever result channel cmd expects a response on.
func (e *DeviceEntity) fail(cmd *Command, err error) {
	if cmd.Status {
		e.respondStatus(cmd, nil, err)
		return
	}
	e.respond(cmd, err)
}

func (e *DeviceEntity) pop() *Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&e.queue).(*Command)
}

func (e *DeviceEntity) respond(cmd *Command, err error) {
	if cmd.ResultCh == nil {
		return
	}
	select {
	case cmd.ResultCh <- err:
	default:
	}
}

func (e *DeviceEntity) respondStatus(cmd *Command, dps map[string]any, err error) {
	if cmd.StatusCh == nil {
		return
	}
	select {
	case cmd.StatusCh <- StatusResult{DPs: dps, Err: err}:
	default:
	}
}

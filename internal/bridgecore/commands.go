package bridgecore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/scanner"
)

const cloudCallTimeout = 10 * time.Second

// runScan submits one scan of the given mode to the worker pool. The scan
// runs until its configured scan_time elapses or a stop_scan command
// cancels the scan's context.
func (c *Core) runScan(mode scanner.Mode) error {
	if c.scan == nil {
		return errors.New("bridgecore: no scanner configured")
	}

	c.scanMu.Lock()
	if c.scanCancel != nil {
		c.scanMu.Unlock()
		return errors.New("bridgecore: a scan is already in progress")
	}
	stop := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	c.scanCancel = cancel
	c.scanMu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordScan(string(mode))
	}

	c.pool.submit(func() {
		defer func() {
			c.scanMu.Lock()
			c.scanCancel = nil
			c.scanMu.Unlock()
			cancel()
		}()

		emit := func(m scanner.Mode, batch map[string]scanner.Record) {
			payload, err := json.Marshal(batch)
			if err != nil {
				c.logger.Warn("failed to marshal scan batch", "mode", m, "error", err)
				return
			}
			if err := c.broker.Publish(topics.BridgeResponse(string(m)), payload, 1, false); err != nil {
				c.logger.Warn("failed to publish scan result", "mode", m, "error", err)
			}
		}

		if err := c.scan.Run(ctx, mode, stop, emit); err != nil {
			c.logger.Warn("scan run failed", "mode", mode, "error", err)
		}
	})

	return nil
}

func (c *Core) handleScan(_ string, _ []byte) error       { return c.runScan(scanner.ModeScan) }
func (c *Core) handleScanGen(_ string, _ []byte) error    { return c.runScan(scanner.ModeScanGen) }
func (c *Core) handleScanGenAll(_ string, _ []byte) error { return c.runScan(scanner.ModeScanGenAll) }

// handleStopScan ends an in-progress scan early, if one is running.
func (c *Core) handleStopScan(_ string, _ []byte) error {
	c.scanMu.Lock()
	cancel := c.scanCancel
	c.scanMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

type scanTimePayload struct {
	Seconds float64 `json:"seconds"`
}

// handleSetScanTime updates the scanner's collection window for future
// scans. It is applied immediately, not through the worker pool.
func (c *Core) handleSetScanTime(_ string, payload []byte) error {
	var p scanTimePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bridgecore: decoding scan_time payload: %w", err)
	}
	if p.Seconds <= 0 {
		return fmt.Errorf("bridgecore: scan_time seconds must be positive, got %v", p.Seconds)
	}
	if c.scan != nil {
		c.scan.SetScanTime(time.Duration(p.Seconds * float64(time.Second)))
	}
	return nil
}

type devIDsPayload struct {
	DevIDs []string `json:"dev_ids"`
}

// handleAdd services the add command: for each requested dev_id it fetches
// the current cloud record, merges it with anything already known (local
// scan results, an existing registry entry), persists the merged device,
// and notifies the Homie lifecycle. Devices that fail any step are skipped
// rather than aborting the whole batch. Submitted to the worker pool since
// it makes one cloud call per device.
func (c *Core) handleAdd(_ string, payload []byte) error {
	var p devIDsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bridgecore: decoding add payload: %w", err)
	}

	c.pool.submit(func() {
		briefs := make([]device.Brief, 0, len(p.DevIDs))
		for _, devID := range p.DevIDs {
			brief, err := c.addOneDevice(devID)
			if err != nil {
				c.logger.Warn("add device failed", "dev_id", devID, "error", err)
				continue
			}
			briefs = append(briefs, brief)
		}
		c.publishBriefs(topics.BridgeResponse("add"), briefs)
	})
	return nil
}

func (c *Core) addOneDevice(devID string) (device.Brief, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cloudCallTimeout)
	defer cancel()

	info, err := c.cloudClient.GetDevice(ctx, devID)
	if err != nil {
		return device.Brief{}, fmt.Errorf("cloud lookup: %w", err)
	}

	incoming := &device.Device{
		DevID:     devID,
		IP:        info.IP,
		LocalKey:  info.LocalKey,
		ProductID: info.ProductID,
		Version:   info.Version,
		Category:  device.Category(info.Category),
	}
	if incoming.Category == "" {
		incoming.Category = device.CategoryUnknown
	}
	incoming.FriendlyName = info.Name

	if c.scanFile != nil {
		if records, err := c.scanFile.All(); err == nil {
			if rec, ok := records[info.IP]; ok && rec.ID == devID {
				incoming.Version = rec.Version
			}
		}
	}

	d, err := c.registry.AddOrMerge(ctx, incoming)
	if err != nil {
		return device.Brief{}, fmt.Errorf("registry merge: %w", err)
	}

	if c.lifecycle != nil {
		if err := c.lifecycle.OnDeviceAdded(d); err != nil {
			c.logger.Warn("homie lifecycle: on device added failed", "dev_id", devID, "error", err)
		}
	}

	return d.Brief(true), nil
}

type briefsEnvelope struct {
	Devices []device.Brief `json:"devices"`
}

func (c *Core) publishBriefs(topic string, briefs []device.Brief) {
	payload, err := json.Marshal(briefsEnvelope{Devices: briefs})
	if err != nil {
		c.logger.Warn("failed to marshal device briefs", "error", err)
		return
	}
	if err := c.broker.Publish(topic, payload, 1, false); err != nil {
		c.logger.Warn("failed to publish device briefs", "error", err)
	}
}

// handleRemove stops every requested device's connection, removes it from
// the registry and its persisted file, notifies the Homie lifecycle, and
// publishes back the set of ids actually removed.
func (c *Core) handleRemove(_ string, payload []byte) error {
	var p devIDsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bridgecore: decoding remove payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cloudCallTimeout)
	defer cancel()

	removed := make([]string, 0, len(p.DevIDs))
	for _, devID := range p.DevIDs {
		c.conns.remove(devID)
		if err := c.registry.Remove(ctx, devID); err != nil {
			c.logger.Warn("remove device failed", "dev_id", devID, "error", err)
			continue
		}
		if c.lifecycle != nil {
			if err := c.lifecycle.OnDeviceRemoved(devID); err != nil {
				c.logger.Warn("homie lifecycle: on device removed failed", "dev_id", devID, "error", err)
			}
		}
		removed = append(removed, devID)
	}

	payloadOut, err := json.Marshal(struct {
		DevIDs []string `json:"dev_ids"`
	}{DevIDs: removed})
	if err != nil {
		return err
	}
	return c.broker.Publish(topics.BridgeResponse("remove"), payloadOut, 1, false)
}

type updateKeyPayload struct {
	DevID string `json:"device_id"`
}

// handleUpdateKey re-fetches a device's cloud record and copies its
// current local_key into the registry (the stored protocol version is
// left unchanged), dropping any
// open connection so the next command or poll reconnects with the fresh
// credentials. Submitted to the worker pool since it makes a cloud call.
func (c *Core) handleUpdateKey(_ string, payload []byte) error {
	var p updateKeyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bridgecore: decoding update_key payload: %w", err)
	}
	if p.DevID == "" {
		return errors.New("bridgecore: update_key payload missing device_id")
	}

	c.pool.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cloudCallTimeout)
		defer cancel()

		info, err := c.cloudClient.GetDevice(ctx, p.DevID)
		if err != nil {
			c.logger.Warn("update_key cloud lookup failed", "dev_id", p.DevID, "error", err)
			return
		}

		d, err := c.registry.SetLocalKey(ctx, p.DevID, info.LocalKey)
		if err != nil {
			c.logger.Warn("update_key registry update failed", "dev_id", p.DevID, "error", err)
			return
		}

		c.conns.remove(p.DevID)

		if c.lifecycle != nil {
			if err := c.lifecycle.OnDeviceKeyChanged(d); err != nil {
				c.logger.Warn("homie lifecycle: on device key changed failed", "dev_id", p.DevID, "error", err)
			}
		}

		payloadOut, err := json.Marshal(struct {
			DevID   string `json:"dev_id"`
			Updated bool   `json:"updated"`
		}{DevID: p.DevID, Updated: true})
		if err != nil {
			return
		}
		if err := c.broker.Publish(topics.BridgeResponse("update_key"), payloadOut, 1, false); err != nil {
			c.logger.Warn("failed to publish update_key response", "error", err)
		}
	})

	return nil
}

type friendlyNamePayload struct {
	DevID        string `json:"dev_id"`
	FriendlyName string `json:"friendly_name"`
}

// handleFriendlyName renames a device in the registry and its persisted
// file, then recreates its Homie twin under the new id (friendly_name
// drives the Homie device id).
func (c *Core) handleFriendlyName(_ string, payload []byte) error {
	var p friendlyNamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bridgecore: decoding friendly_name payload: %w", err)
	}
	if p.DevID == "" {
		return errors.New("bridgecore: friendly_name payload missing dev_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cloudCallTimeout)
	defer cancel()

	d, err := c.registry.SetFriendlyName(ctx, p.DevID, p.FriendlyName)
	if err != nil {
		return fmt.Errorf("bridgecore: setting friendly name: %w", err)
	}

	if c.lifecycle != nil {
		if err := c.lifecycle.OnFriendlyNameChanged(d); err != nil {
			c.logger.Warn("homie lifecycle: on friendly name changed failed", "dev_id", p.DevID, "error", err)
		}
	}

	payloadOut, err := json.Marshal(friendlyNamePayload{DevID: p.DevID, FriendlyName: p.FriendlyName})
	if err != nil {
		return err
	}
	return c.broker.Publish(topics.BridgeResponse("friendly_name"), payloadOut, 1, false)
}

// lastStatuses accumulates the most recent status of every device, for
// the cumulative debug topic.
type lastStatuses struct {
	mu   sync.Mutex
	data map[string]any
}

func newLastStatuses() *lastStatuses { return &lastStatuses{data: map[string]any{}} }

func (s *lastStatuses) get(devID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[devID]
	return v, ok
}

func (s *lastStatuses) set(devID string, status any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[devID] = status
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	return snapshot
}

package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/cloud"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
)

const (
	maxPacketSize    = 4048
	listenTimeout    = 1 * time.Second
	defaultScanTime  = 15 * time.Second
	fanInBufferSize  = 32
)

// Logger is the minimal logging interface the scanner uses.
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

// DeviceLookup is the subset of the registry the scanner consults to
// decide whether a discovered device is already known.
type DeviceLookup interface {
	Get(ctx context.Context, devID string) (*device.Device, error)
}

// Emit is called once per record a scan produces, in the order the scan
// mode's publish semantics require (one call for ModeScan with the whole
// batch; one call per device for ModeScanGen/ModeScanGenAll).
type Emit func(mode Mode, batch map[string]Record)

// Scanner runs on-demand UDP discovery across Tuya's three broadcast
// ports, merges results against the cloud, and persists what it finds.
type Scanner struct {
	ports      []int
	scanTimeMu sync.RWMutex
	scanTime   time.Duration
	readBuf    int

	cloudClient cloud.Client
	registry    DeviceLookup
	scanFile    *ScanFile
	logger      Logger
}

// Config configures a Scanner instance.
type Config struct {
	Ports    []int
	ScanTime time.Duration
	ReadBuf  int
}

// New builds a Scanner. cloudClient and registry may be nil only in tests
// that do not exercise the cloud-merge path.
func New(cfg Config, cloudClient cloud.Client, registry DeviceLookup, scanFile *ScanFile, logger Logger) *Scanner {
	if len(cfg.Ports) == 0 {
		cfg.Ports = []int{6666, 6667, 6669}
	}
	if cfg.ScanTime <= 0 {
		cfg.ScanTime = defaultScanTime
	}
	if cfg.ReadBuf <= 0 {
		cfg.ReadBuf = maxPacketSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scanner{
		ports:       cfg.Ports,
		scanTime:    cfg.ScanTime,
		readBuf:     cfg.ReadBuf,
		cloudClient: cloudClient,
		registry:    registry,
		scanFile:    scanFile,
		logger:      logger,
	}
}

// SetScanTime changes the duration a future ModeScan/ModeScanGen/
// ModeScanGenAll run collects for. It has no effect on a scan already in
// progress.
func (s *Scanner) SetScanTime(d time.Duration) {
	if d <= 0 {
		return
	}
	s.scanTimeMu.Lock()
	s.scanTime = d
	s.scanTimeMu.Unlock()
}

func (s *Scanner) getScanTime() time.Duration {
	s.scanTimeMu.RLock()
	defer s.scanTimeMu.RUnlock()
	return s.scanTime
}

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// Run executes one scan in the given mode, calling emit as records become
// available per the mode's publish semantics, and persists everything it
// discovers to the scan file before returning. stop, if closed, ends the
// scan early; so does cancelling ctx, which is how bridgecore's stop_scan
// command ends a scan.
func (s *Scanner) Run(ctx context.Context, mode Mode, stop <-chan struct{}, emit Emit) error {
	deadline := time.Now().Add(s.getScanTime())
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	packets := make(chan packet, fanInBufferSize)

	group, gctx := errgroup.WithContext(ctx)
	for _, port := range s.ports {
		port := port
		group.Go(func() error {
			return s.listen(gctx, port, packets)
		})
	}

	go func() {
		group.Wait()
		close(packets)
	}()

	seenIPs := make(map[string]bool)
	batch := make(map[string]Record)
	order := make([]string, 0)

	for {
		select {
		case <-stop:
			return s.finish(mode, batch, order, emit)
		case <-ctx.Done():
			return s.finish(mode, batch, order, emit)
		case pkt, ok := <-packets:
			if !ok {
				return s.finish(mode, batch, order, emit)
			}
			rec, ip, err := s.processPacket(ctx, pkt, seenIPs)
			if err != nil {
				s.logger.Debug("scanner dropped packet", "error", err)
				continue
			}
			if rec == nil {
				continue
			}

			batch[ip] = *rec
			order = append(order, ip)

			switch mode {
			case ModeScanGen:
				emit(mode, map[string]Record{ip: *rec})
			case ModeScanGenAll:
				snapshot := make(map[string]Record, len(order))
				for _, o := range order {
					snapshot[o] = batch[o]
				}
				emit(mode, snapshot)
			}
		}
	}
}

func (s *Scanner) finish(mode Mode, batch map[string]Record, order []string, emit Emit) error {
	if mode == ModeScan {
		emit(mode, batch)
	}
	if s.scanFile != nil && len(batch) > 0 {
		if err := s.scanFile.Merge(batch); err != nil {
			s.logger.Warn("scanner persistence failed", "error", err)
		}
	}
	return nil
}

// listen runs one UDP listener's read loop, pushing decrypted-ready raw
// packets onto the fan-in channel. It never returns a fatal error for an
// individual bad packet; only socket-level failures propagate.
func (s *Scanner) listen(ctx context.Context, port int, out chan<- packet) error {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		if errors.Is(err, syscall.ENETUNREACH) {
			return fmt.Errorf("%w: port %d: %w", ErrNetworkDown, port, err)
		}
		return fmt.Errorf("scanner: binding port %d: %w", port, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, s.readBuf)
	for {
		conn.SetReadDeadline(time.Now().Add(listenTimeout))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, syscall.ENETUNREACH) {
				return fmt.Errorf("%w: port %d: %w", ErrNetworkDown, port, err)
			}
			return nil
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case out <- packet{data: data, addr: raddr}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Scanner) processPacket(ctx context.Context, pkt packet, seenIPs map[string]bool) (*Record, string, error) {
	plaintext, err := decryptBroadcast(pkt.data)
	if err != nil {
		// Some broadcast frames are sent unencrypted JSON; fall back.
		plaintext = pkt.data
	}

	var raw rawPacket
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, "", fmt.Errorf("scanner: parsing packet json: %w", err)
	}
	if raw.GwID == "" {
		return nil, "", ErrMissingGwID
	}

	ip := raw.IP
	if ip == "" {
		ip = pkt.addr.IP.String()
	}

	if seenIPs[ip] {
		return nil, "", nil
	}
	seenIPs[ip] = true

	rec := Record{
		ID:         raw.GwID,
		IP:         ip,
		Version:    raw.Version,
		ProductKey: raw.ProductKey,
	}
	if len(raw.GwID) == 20 {
		rec.MAC = macFromHexID(raw.GwID)
	}

	if s.registry != nil {
		if _, err := s.registry.Get(ctx, raw.GwID); err == nil {
			// Already known; per policy, emit nothing for it.
			return nil, "", nil
		}
	}

	if s.cloudClient != nil {
		info, err := s.cloudClient.GetDevice(ctx, raw.GwID)
		if err != nil {
			// Per the cloud-merge error policy, an unresolved lookup keeps
			// only the id and error, discarding whatever was locally
			// observed (IP, version, MAC).
			rec = Record{ID: raw.GwID, Err: classifyCloudError(err)}
		} else {
			rec.Name = info.Name
			rec.ProductName = info.ProductID
			rec.MergeWithCloud = true
		}
	}

	return &rec, ip, nil
}

func classifyCloudError(err error) string {
	switch {
	case errors.Is(err, cloud.ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, cloud.ErrUnauthorized):
		return "unauthorized"
	default:
		return "cloud_error"
	}
}

// macFromHexID derives a colon-separated MAC from the last 12 hex
// characters of a 20-character gateway ID, per the discovery-packet
// convention devices with no mac field in their broadcast use.
func macFromHexID(id string) string {
	if len(id) != 20 {
		return ""
	}
	tail := id[len(id)-12:]
	var b strings.Builder
	for i := 0; i < len(tail); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(tail[i : i+2])
	}
	return b.String()
}

// Package networkmonitor snapshots the OS TCP table on a polling interval
// and diffs it into closed-connection NetworkEvents with cumulative byte
// counters.
package networkmonitor

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/internal/model"
)

// ConnSample is one connection's state as observed at a single poll.
// BytesSent/BytesReceived are cumulative counters for the connection's
// lifetime as of this sample.
type ConnSample struct {
	PID           int32
	Process       string
	LocalAddr     string
	LocalPort     uint32
	RemoteAddr    string
	RemotePort    uint32
	BytesSent     int64
	BytesReceived int64
}

type connKey struct {
	pid        int32
	local      string
	localPort  uint32
	remote     string
	remotePort uint32
}

func keyOf(s ConnSample) connKey {
	return connKey{pid: s.PID, local: s.LocalAddr, localPort: s.LocalPort, remote: s.RemoteAddr, remotePort: s.RemotePort}
}

type trackedConn struct {
	firstSeen     time.Time
	lastSeen      time.Time
	bytesSent     int64
	bytesReceived int64
	process       string
	destAddr      string
}

// Differ keys connections by (pid, local address and port, remote address
// and port) and emits a NetworkEvent
// when a previously-seen connection is absent from a poll.
type Differ struct {
	cfg Config

	mu     sync.Mutex
	active map[connKey]*trackedConn
}

// NewDiffer creates a Differ using cfg's filters.
func NewDiffer(cfg Config) *Differ {
	return &Differ{cfg: cfg, active: make(map[connKey]*trackedConn)}
}

// Poll ingests one snapshot of currently-open connections and returns a
// NetworkEvent for every connection present in the previous poll but
// absent from this one.
func (d *Differ) Poll(deviceID string, now time.Time, samples []ConnSample) []model.NetworkEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[connKey]struct{}, len(samples))

	for _, s := range samples {
		if d.isFiltered(s) {
			continue
		}
		k := keyOf(s)
		seen[k] = struct{}{}

		tc, ok := d.active[k]
		if !ok {
			tc = &trackedConn{
				firstSeen: now,
				process:   s.Process,
				destAddr:  destAddr(s),
			}
			d.active[k] = tc
		}
		tc.lastSeen = now
		tc.bytesSent = s.BytesSent
		tc.bytesReceived = s.BytesReceived
	}

	var closed []model.NetworkEvent
	for k, tc := range d.active {
		if _, stillOpen := seen[k]; stillOpen {
			continue
		}
		closed = append(closed, model.NetworkEvent{
			ID:            uuid.NewString(),
			DeviceID:      deviceID,
			ProcessName:   tc.process,
			PID:           k.pid,
			BytesSent:     tc.bytesSent,
			BytesReceived: tc.bytesReceived,
			DestAddr:      tc.destAddr,
			DurationSec:   tc.lastSeen.Sub(tc.firstSeen).Seconds(),
			Timestamp:     now,
		})
		delete(d.active, k)
	}

	return closed
}

func (d *Differ) isFiltered(s ConnSample) bool {
	for _, excluded := range d.cfg.ExcludedProcesses {
		if strings.EqualFold(excluded, s.Process) {
			return true
		}
	}
	for _, prefix := range d.cfg.PrivateSubnets {
		if strings.HasPrefix(s.RemoteAddr, prefix) {
			return true
		}
	}
	return false
}

func destAddr(s ConnSample) string {
	if s.RemotePort == 0 {
		return s.RemoteAddr
	}
	return s.RemoteAddr + ":" + strconv.FormatUint(uint64(s.RemotePort), 10)
}

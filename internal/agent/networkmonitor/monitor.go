package networkmonitor

import (
	"context"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// EventSink receives emitted NetworkEvents.
type EventSink interface {
	AddNetworkEvent(model.NetworkEvent)
	OnNetworkEvent(deviceID string, ne model.NetworkEvent)
}

// Monitor polls the OS TCP table on a ticker and feeds samples to a Differ.
type Monitor struct {
	cfg      Config
	differ   *Differ
	sink     EventSink
	deviceID string
	log      *logger.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, sink EventSink, deviceID string, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		differ:   NewDiffer(cfg),
		sink:     sink,
		deviceID: deviceID,
		log:      log,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	interval := time.Duration(m.cfg.PollingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	samples, err := collectSamples()
	if err != nil {
		m.log.WithField("error", err).Warn("TCP table snapshot failed")
		return
	}

	now := time.Now().UTC()
	for _, ne := range m.differ.Poll(m.deviceID, now, samples) {
		m.sink.AddNetworkEvent(ne)
		m.sink.OnNetworkEvent(m.deviceID, ne)
	}
}

// collectSamples reads the current TCP connection table and attributes
// cumulative IO counters to each connection's owning process, a best-effort
// approximation since the OS exposes per-process, not per-connection,
// byte counters.
func collectSamples() ([]ConnSample, error) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return nil, err
	}

	ioCache := make(map[int32]*process.IOCountersStat)
	nameCache := make(map[int32]string)

	samples := make([]ConnSample, 0, len(conns))
	for _, c := range conns {
		if c.Pid == 0 || c.Raddr.IP == "" {
			continue
		}

		io, ok := ioCache[c.Pid]
		if !ok {
			if proc, perr := process.NewProcess(c.Pid); perr == nil {
				if counters, cerr := proc.IOCounters(); cerr == nil {
					io = counters
				}
				if name, nerr := proc.Name(); nerr == nil {
					nameCache[c.Pid] = name
				}
			}
			ioCache[c.Pid] = io
		}

		var sent, recv int64
		if io != nil {
			sent = int64(io.WriteBytes)
			recv = int64(io.ReadBytes)
		}

		samples = append(samples, ConnSample{
			PID:           c.Pid,
			Process:       nameCache[c.Pid],
			LocalAddr:     c.Laddr.IP,
			LocalPort:     c.Laddr.Port,
			RemoteAddr:    c.Raddr.IP,
			RemotePort:    c.Raddr.Port,
			BytesSent:     sent,
			BytesReceived: recv,
		})
	}

	return samples, nil
}

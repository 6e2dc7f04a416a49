// Package appmonitor samples the foreground application on a polling
// interval and emits an AppUsageEvent whenever the focused application or
// window title changes.
package appmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Config controls the App Monitor.
type Config struct {
	Enabled           bool
	PollingIntervalMs int
	ExcludedProcesses []string
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, PollingIntervalMs: 3000}
}

// Sample is one observation of the current foreground application.
type Sample struct {
	AppName     string
	WindowTitle string
	PID         int32
}

// ForegroundProbe supplies the current foreground application. Platforms
// implement this over their own window/process APIs; it is the single
// injection point the monitor depends on.
type ForegroundProbe interface {
	Sample() (Sample, error)
}

// EventSink receives emitted AppUsageEvents.
type EventSink interface {
	AddAppUsageEvent(model.AppUsageEvent)
}

type session struct {
	sample Sample
	start  time.Time
}

// Monitor tracks the current foreground session and closes it out whenever
// the probe reports a different process or window title.
type Monitor struct {
	cfg      Config
	probe    ForegroundProbe
	sink     EventSink
	deviceID string
	log      *logger.Logger

	mu      sync.Mutex
	current *session
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, probe ForegroundProbe, sink EventSink, deviceID string, log *logger.Logger) *Monitor {
	return &Monitor{cfg: cfg, probe: probe, sink: sink, deviceID: deviceID, log: log}
}

// Run polls until ctx is cancelled, closing out the in-flight session on
// return.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	interval := time.Duration(m.cfg.PollingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeCurrent(time.Now().UTC())
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	s, err := m.probe.Sample()
	if err != nil {
		m.log.WithField("error", err).Warn("foreground probe failed")
		return
	}
	if m.isExcluded(s.AppName) {
		return
	}
	m.Observe(s, time.Now().UTC())
}

// Observe feeds one foreground sample into the session state machine. It is
// exported so tests (and alternative probes) can drive the monitor without
// a real ticker.
func (m *Monitor) Observe(s Sample, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		m.current = &session{sample: s, start: at}
		return
	}

	if m.current.sample.AppName == s.AppName && m.current.sample.WindowTitle == s.WindowTitle {
		return
	}

	m.emitLocked(at)
	m.current = &session{sample: s, start: at}
}

func (m *Monitor) closeCurrent(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(at)
	m.current = nil
}

// emitLocked emits the in-flight session if any. Caller must hold m.mu.
func (m *Monitor) emitLocked(at time.Time) {
	if m.current == nil {
		return
	}
	m.sink.AddAppUsageEvent(model.AppUsageEvent{
		ID:          uuid.NewString(),
		DeviceID:    m.deviceID,
		AppName:     m.current.sample.AppName,
		WindowTitle: m.current.sample.WindowTitle,
		StartTime:   m.current.start,
		Duration:    at.Sub(m.current.start),
		PID:         m.current.sample.PID,
	})
}

// CurrentForegroundProcess implements filemonitor.ForegroundProcessSource,
// giving the classifier a best-effort process-attribution source.
func (m *Monitor) CurrentForegroundProcess() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.sample.AppName
}

func (m *Monitor) isExcluded(name string) bool {
	for _, ex := range m.cfg.ExcludedProcesses {
		if ex == name {
			return true
		}
	}
	return false
}

package appmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

type fakeSink struct {
	events []model.AppUsageEvent
}

func (f *fakeSink) AddAppUsageEvent(e model.AppUsageEvent) { f.events = append(f.events, e) }

func TestMonitor_EmitsOnAppChange(t *testing.T) {
	sink := &fakeSink{}
	m := NewMonitor(DefaultConfig(), nil, sink, "dev1", logger.NewDefault("test"))

	t0 := time.Now().UTC()
	m.Observe(Sample{AppName: "chrome", WindowTitle: "tab1"}, t0)
	assert.Empty(t, sink.events, "first sample only opens a session")

	m.Observe(Sample{AppName: "chrome", WindowTitle: "tab1"}, t0.Add(time.Second))
	assert.Empty(t, sink.events, "unchanged process+title should not close the session")

	m.Observe(Sample{AppName: "slack", WindowTitle: "#general"}, t0.Add(3*time.Second))
	require.Len(t, sink.events, 1)
	assert.Equal(t, "chrome", sink.events[0].AppName)
	assert.Equal(t, 3*time.Second, sink.events[0].Duration)
}

func TestMonitor_WindowTitleChangeClosesSession(t *testing.T) {
	sink := &fakeSink{}
	m := NewMonitor(DefaultConfig(), nil, sink, "dev1", logger.NewDefault("test"))

	t0 := time.Now().UTC()
	m.Observe(Sample{AppName: "chrome", WindowTitle: "tab1"}, t0)
	m.Observe(Sample{AppName: "chrome", WindowTitle: "tab2"}, t0.Add(2*time.Second))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "tab1", sink.events[0].WindowTitle)
}

func TestMonitor_CurrentForegroundProcess(t *testing.T) {
	sink := &fakeSink{}
	m := NewMonitor(DefaultConfig(), nil, sink, "dev1", logger.NewDefault("test"))

	assert.Equal(t, "", m.CurrentForegroundProcess())

	m.Observe(Sample{AppName: "vscode"}, time.Now().UTC())
	assert.Equal(t, "vscode", m.CurrentForegroundProcess())
}

func TestMonitor_ExcludedProcessNotObserved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludedProcesses = []string{"explorer"}
	sink := &fakeSink{}
	m := NewMonitor(cfg, nil, sink, "dev1", logger.NewDefault("test"))

	assert.True(t, m.isExcluded("explorer"))
	assert.False(t, m.isExcluded("chrome"))
}

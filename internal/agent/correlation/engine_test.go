package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/model"
)

type fakeSink struct {
	alerts []model.AlertEvent
}

func (f *fakeSink) AddAlert(a model.AlertEvent) { f.alerts = append(f.alerts, a) }

type fakeMutator struct {
	mutated map[string]string
}

func newFakeMutator() *fakeMutator { return &fakeMutator{mutated: map[string]string{}} }

func (f *fakeMutator) MutateFileEventFlag(id, flag string) bool {
	f.mutated[id] = flag
	return true
}

func TestR1_ExactlyAtThresholdFires(t *testing.T) {
	sink := &fakeSink{}
	e := New(DefaultConfig(), sink, nil)

	now := time.Now().UTC()
	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID:          "n1",
		ProcessName: "curl",
		DestAddr:    "203.0.113.5:443",
		BytesSent:   25 * 1024 * 1024,
		Timestamp:   now,
	})

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, model.AlertLargeTransfer, sink.alerts[0].AlertType)
	assert.Equal(t, model.SeverityCritical, sink.alerts[0].Severity)
}

func TestR1_BelowThresholdDoesNotFire(t *testing.T) {
	sink := &fakeSink{}
	e := New(DefaultConfig(), sink, nil)

	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID:          "n1",
		ProcessName: "curl",
		DestAddr:    "203.0.113.5:443",
		BytesSent:   25*1024*1024 - 1,
		Timestamp:   time.Now().UTC(),
	})

	assert.Empty(t, sink.alerts)
}

func TestR1_DedupeWithin60Seconds(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultConfig()
	// Raise the R2 threshold so only R1 can fire on these repeated events.
	cfg.ContinuousTransferThresholdBytes = 1 << 40
	e := New(cfg, sink, nil)

	now := time.Now().UTC()
	ne := model.NetworkEvent{ID: "n1", ProcessName: "curl", DestAddr: "203.0.113.5:443", BytesSent: 30 * 1024 * 1024, Timestamp: now}
	e.OnNetworkEvent("dev1", ne)

	ne2 := ne
	ne2.ID = "n2"
	ne2.Timestamp = now.Add(30 * time.Second)
	e.OnNetworkEvent("dev1", ne2)

	require.Len(t, sink.alerts, 1, "second alert within dedupe window should be suppressed")

	ne3 := ne
	ne3.ID = "n3"
	ne3.Timestamp = now.Add(61 * time.Second)
	e.OnNetworkEvent("dev1", ne3)

	assert.Len(t, sink.alerts, 2, "alert after dedupe window should fire again")
}

func TestR2_RequiresTwoDistinctConnectionsAndStrictlyGreater(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultConfig()
	// Raise the R1 threshold so the large first event does not trigger R1.
	cfg.LargeTransferThresholdBytes = cfg.ContinuousTransferThresholdBytes * 2
	e := New(cfg, sink, nil)

	now := time.Now().UTC()

	// Single connection exceeding the threshold: should NOT fire (needs >=2 distinct conns).
	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID: "n1", ProcessName: "backup-tool", BytesSent: cfg.ContinuousTransferThresholdBytes + 1, Timestamp: now,
	})
	assert.Empty(t, sink.alerts)

	// Second distinct connection pushes sum over threshold → should fire.
	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID: "n2", ProcessName: "backup-tool", BytesSent: 10, Timestamp: now.Add(time.Minute),
	})
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, model.AlertContinuousTransfer, sink.alerts[0].AlertType)
	assert.Equal(t, model.SeverityHigh, sink.alerts[0].Severity)
}

func TestR2_SuppressedAfterFiringUntilWindowDrops(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultConfig()
	cfg.ContinuousTransferThresholdBytes = 100
	cfg.ContinuousTransferWindowMinutes = 10
	e := New(cfg, sink, nil)

	now := time.Now().UTC()
	e.OnNetworkEvent("dev1", model.NetworkEvent{ID: "n1", ProcessName: "p", BytesSent: 60, Timestamp: now})
	e.OnNetworkEvent("dev1", model.NetworkEvent{ID: "n2", ProcessName: "p", BytesSent: 60, Timestamp: now.Add(time.Second)})
	require.Len(t, sink.alerts, 1, "should fire once sum exceeds threshold with 2 distinct conns")

	// Another sample while still over threshold should not fire again.
	e.OnNetworkEvent("dev1", model.NetworkEvent{ID: "n3", ProcessName: "p", BytesSent: 5, Timestamp: now.Add(2 * time.Second)})
	assert.Len(t, sink.alerts, 1, "should stay suppressed while window sum remains above threshold")
}

func TestR3_CorrelatesFileReadWithSubsequentUpload(t *testing.T) {
	sink := &fakeSink{}
	mutator := newFakeMutator()
	cfg := DefaultConfig()
	e := New(cfg, sink, mutator)

	t0 := time.Now().UTC()
	e.OnFileEvent("dev1", model.FileEvent{
		ID: "f1", Filename: "Report.xlsx", ProcessName: "chrome", Action: model.ActionRead, Timestamp: t0,
	})

	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID: "n1", ProcessName: "chrome", BytesSent: 6_500_000, Timestamp: t0.Add(10 * time.Second),
	})

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, model.AlertProbableUpload, sink.alerts[0].AlertType)
	assert.Equal(t, "Report.xlsx", sink.alerts[0].RelatedFilename)
	assert.Equal(t, model.FlagProbableUpload, mutator.mutated["f1"])
}

func TestR3_OutsideWindowDoesNotCorrelate(t *testing.T) {
	sink := &fakeSink{}
	mutator := newFakeMutator()
	cfg := DefaultConfig()
	e := New(cfg, sink, mutator)

	t0 := time.Now().UTC()
	e.OnFileEvent("dev1", model.FileEvent{
		ID: "f1", Filename: "Report.xlsx", ProcessName: "chrome", Action: model.ActionRead, Timestamp: t0,
	})

	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID: "n1", ProcessName: "chrome", BytesSent: 6_500_000, Timestamp: t0.Add(16 * time.Second),
	})

	assert.Empty(t, sink.alerts)
	assert.Empty(t, mutator.mutated)
}

func TestR3_EachFileEventConsumedAtMostOnce(t *testing.T) {
	sink := &fakeSink{}
	mutator := newFakeMutator()
	e := New(DefaultConfig(), sink, mutator)

	t0 := time.Now().UTC()
	e.OnFileEvent("dev1", model.FileEvent{ID: "f1", Filename: "Report.xlsx", ProcessName: "chrome", Action: model.ActionRead, Timestamp: t0})

	e.OnNetworkEvent("dev1", model.NetworkEvent{ID: "n1", ProcessName: "chrome", BytesSent: 6_000_000, Timestamp: t0.Add(1 * time.Second)})
	e.OnNetworkEvent("dev1", model.NetworkEvent{ID: "n2", ProcessName: "chrome", BytesSent: 6_000_000, Timestamp: t0.Add(2 * time.Second)})

	require.Len(t, sink.alerts, 1, "the same file read should not correlate with a second upload")
}

func TestR1FiresBeforeR2R3ForSameEvent(t *testing.T) {
	sink := &fakeSink{}
	mutator := newFakeMutator()
	cfg := DefaultConfig()
	cfg.ContinuousTransferThresholdBytes = 1
	cfg.ProbableUploadThresholdBytes = 1
	e := New(cfg, sink, mutator)

	t0 := time.Now().UTC()
	e.OnFileEvent("dev1", model.FileEvent{ID: "f1", Filename: "x", ProcessName: "curl", Action: model.ActionRead, Timestamp: t0})
	e.OnNetworkEvent("dev1", model.NetworkEvent{
		ID: "n1", ProcessName: "curl", DestAddr: "203.0.113.5:443", BytesSent: 26_214_400, Timestamp: t0.Add(time.Second),
	})

	require.NotEmpty(t, sink.alerts)
	assert.Equal(t, model.AlertLargeTransfer, sink.alerts[0].AlertType, "R1 must be evaluated and ordered before R2/R3")
}

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/agent/appmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/correlation"
	"github.com/R3E-Network/service_layer/internal/agent/filemonitor"
	"github.com/R3E-Network/service_layer/internal/agent/networkmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/spool"
	"github.com/R3E-Network/service_layer/internal/agent/uploader"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

func disabledConfig(t *testing.T, endpoint string) Config {
	t.Helper()
	fm := filemonitor.DefaultConfig()
	fm.Enabled = false
	am := appmonitor.DefaultConfig()
	am.Enabled = false
	nm := networkmonitor.DefaultConfig()
	nm.Enabled = false

	up := uploader.DefaultConfig()
	up.DeviceID = "dev1"
	up.ApiEndpoint = endpoint
	up.ApiKey = "key1"
	up.UploadIntervalSeconds = 3600

	return Config{
		Device:         model.DeviceInfo{DeviceID: "dev1", Hostname: "host1"},
		User:           "tester",
		FileMonitor:    fm,
		AppMonitor:     am,
		NetworkMonitor: nm,
		Correlation:    correlation.DefaultConfig(),
		Queue: spool.Config{
			Path:          t.TempDir(),
			Secret:        "test-secret",
			FlushInterval: time.Hour,
			RetentionDays: 90,
		},
		Uploader: up,
	}
}

func TestOrchestrator_New(t *testing.T) {
	o, err := New(disabledConfig(t, "http://localhost"), logger.NewDefault("test"))
	require.NoError(t, err)
	assert.NotNil(t, o.queue)
	assert.NotNil(t, o.engine)
	assert.NotNil(t, o.fileMon)
	assert.NotNil(t, o.appMon)
	assert.NotNil(t, o.netMon)
	assert.NotNil(t, o.uploader)
}

func TestOrchestrator_RunStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"received":0}`))
	}))
	defer server.Close()

	o, err := New(disabledConfig(t, server.URL), logger.NewDefault("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("orchestrator did not shut down in time")
	}
}

func TestOrchestrator_EventSinkForwardsEventsToQueue(t *testing.T) {
	cfg := disabledConfig(t, "http://localhost")
	o, err := New(cfg, logger.NewDefault("test"))
	require.NoError(t, err)

	sink := &eventSink{queue: o.queue, engine: o.engine, deviceID: "dev1"}
	sink.AddFileEvent(model.FileEvent{ID: "f1", DeviceID: "dev1"})
	sink.AddNetworkEvent(model.NetworkEvent{ID: "n1", DeviceID: "dev1"})
	sink.AddAppUsageEvent(model.AppUsageEvent{ID: "a1", DeviceID: "dev1"})

	require.NoError(t, o.queue.Flush())
	batch, err := decryptFirstSegment(t, o.queue)
	require.NoError(t, err)
	assert.Len(t, batch.FileEvents, 1)
	assert.Len(t, batch.NetworkEvents, 1)
	assert.Len(t, batch.AppUsageEvents, 1)
}

func decryptFirstSegment(t *testing.T, q *spool.Queue) (model.LogBatch, error) {
	t.Helper()
	segs, err := q.ListSealed()
	require.NoError(t, err)
	require.Len(t, segs, 1)
	return q.Decrypt(segs[0].Path)
}

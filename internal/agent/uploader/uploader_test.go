package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/agent/spool"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

func testUploader(t *testing.T, endpoint string) (*Uploader, *spool.Queue) {
	t.Helper()
	q, err := spool.New(spool.Config{
		Path:          t.TempDir(),
		Secret:        "test-secret",
		FlushInterval: time.Hour,
		RetentionDays: 90,
	}, logger.NewDefault("test"))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.DeviceID = "dev1"
	cfg.ApiEndpoint = endpoint
	cfg.ApiKey = "key1"

	u, err := New(cfg, q, model.DeviceInfo{DeviceID: "dev1", Hostname: "host1"}, logger.NewDefault("test"))
	require.NoError(t, err)
	return u, q
}

func TestUploader_SuccessfulCycleRemovesSegment(t *testing.T) {
	var received int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch model.LogBatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		atomic.AddInt64(&received, int64(batch.Len()))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"received": int64(batch.Len())})
	}))
	defer server.Close()

	u, q := testUploader(t, server.URL)

	q.AddFileEvent(model.FileEvent{ID: "f1", DeviceID: "dev1", FullPath: "/tmp/a"})
	q.AddFileEvent(model.FileEvent{ID: "f2", DeviceID: "dev1", FullPath: "/tmp/b"})
	require.NoError(t, q.Flush())

	segs, err := q.ListSealed()
	require.NoError(t, err)
	require.Len(t, segs, 1)

	failed := u.cycle(context.Background())
	assert.False(t, failed)
	assert.EqualValues(t, 2, atomic.LoadInt64(&received))

	segs, err = q.ListSealed()
	require.NoError(t, err)
	assert.Empty(t, segs, "segment should be removed once acknowledged")
}

func TestUploader_FailedDeliveryPreservesSegment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	u, q := testUploader(t, server.URL)
	q.AddFileEvent(model.FileEvent{ID: "f1", DeviceID: "dev1", FullPath: "/tmp/a"})
	require.NoError(t, q.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	failed := u.cycle(ctx)
	assert.True(t, failed)

	segs, err := q.ListSealed()
	require.NoError(t, err)
	assert.Len(t, segs, 1, "segment must survive a failed delivery")
}

func TestUploader_EmptyQueueIsNoopSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no segments should trigger a request")
	}))
	defer server.Close()

	u, _ := testUploader(t, server.URL)
	failed := u.cycle(context.Background())
	assert.False(t, failed)
}

func TestUploader_BackoffDuration(t *testing.T) {
	u := &Uploader{}

	u.consecutiveFailures = 1
	assert.Equal(t, backoffInitial, u.backoffDuration())

	u.consecutiveFailures = 2
	assert.Equal(t, 10*time.Second, u.backoffDuration())

	u.consecutiveFailures = 3
	assert.Equal(t, backoffCap, u.backoffDuration())

	u.consecutiveFailures = 10
	assert.Equal(t, backoffCap, u.backoffDuration())
}

func TestUploader_CorruptSegmentIsQuarantinedNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("corrupt segment should never reach the network")
	}))
	defer server.Close()

	u, q := testUploader(t, server.URL)
	q.AddFileEvent(model.FileEvent{ID: "f1", DeviceID: "dev1", FullPath: "/tmp/a"})
	require.NoError(t, q.Flush())

	segs, err := q.ListSealed()
	require.NoError(t, err)
	require.Len(t, segs, 1)

	require.NoError(t, corruptFile(segs[0].Path))

	failed := u.cycle(context.Background())
	assert.False(t, failed, "quarantining a corrupt segment is not a delivery failure")

	segs, err = q.ListSealed()
	require.NoError(t, err)
	assert.Empty(t, segs)
}

// corruptFile flips the last byte of a sealed segment so its GCM tag no
// longer authenticates, simulating on-disk corruption.
func corruptFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data[len(data)-1] ^= 0xFF
	return os.WriteFile(path, data, 0o600)
}

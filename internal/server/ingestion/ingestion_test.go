package ingestion

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/internal/server/store"
)

func testLogger() *logging.Logger {
	return logging.New("ingestion-test", "error", "text")
}

func doIngest(t *testing.T, handler http.HandlerFunc, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/logs/ingest", bytes.NewReader(raw))
	req.Header.Set(httputil.APIKeyHeader, apiKey)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandler_RejectsMissingAPIKey(t *testing.T) {
	svc := NewService(Config{SharedSecret: "shh"}, store.New(), nil, testLogger())
	rec := doIngest(t, svc.Handler(), "", ingestRequest{DeviceID: "dev1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_RejectsWrongAPIKey(t *testing.T) {
	svc := NewService(Config{SharedSecret: "shh"}, store.New(), nil, testLogger())
	rec := doIngest(t, svc.Handler(), "nope", ingestRequest{DeviceID: "dev1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_CommitsBatchAndReturnsReceivedCount(t *testing.T) {
	st := store.New()
	svc := NewService(Config{SharedSecret: "shh"}, st, nil, testLogger())

	rec := doIngest(t, svc.Handler(), "shh", ingestRequest{
		DeviceID:   "dev1",
		DeviceInfo: model.DeviceInfo{DeviceID: "dev1", Hostname: "h1"},
		FileEvents: []model.FileEvent{{ID: "f1", DeviceID: "dev1"}},
		Alerts:     []model.AlertEvent{{ID: "a1", DeviceID: "dev1"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Received)

	devices := st.GetDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "dev1", devices[0].DeviceID)
}

type fakeBackup struct {
	batches []model.LogBatch
}

func (f *fakeBackup) Enqueue(batch model.LogBatch) {
	f.batches = append(f.batches, batch)
}

func TestHandler_DispatchesToBackupWhenConfigured(t *testing.T) {
	backup := &fakeBackup{}
	svc := NewService(Config{SharedSecret: "shh"}, store.New(), backup, testLogger())

	rec := doIngest(t, svc.Handler(), "shh", ingestRequest{
		DeviceID:   "dev1",
		FileEvents: []model.FileEvent{{ID: "f1", DeviceID: "dev1"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, backup.batches, 1)
	assert.Equal(t, "dev1", backup.batches[0].DeviceID)
}

func TestHandler_RateLimitsPerDevice(t *testing.T) {
	svc := NewService(Config{SharedSecret: "shh", IngestRateLimitPerMin: 60, IngestBurstSize: 1}, store.New(), nil, testLogger())

	first := doIngest(t, svc.Handler(), "shh", ingestRequest{DeviceID: "busy"})
	second := doIngest(t, svc.Handler(), "shh", ingestRequest{DeviceID: "busy"})

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
}

func TestHandler_RateLimitIsIndependentPerDevice(t *testing.T) {
	svc := NewService(Config{SharedSecret: "shh", IngestRateLimitPerMin: 60, IngestBurstSize: 1}, store.New(), nil, testLogger())

	doIngest(t, svc.Handler(), "shh", ingestRequest{DeviceID: "dev1"})
	other := doIngest(t, svc.Handler(), "shh", ingestRequest{DeviceID: "dev2"})

	assert.Equal(t, http.StatusOK, other.Code)
}

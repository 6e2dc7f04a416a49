// Package ingestion implements the server's event ingestion endpoint:
// shared-secret authentication, synchronous commit to the in-memory
// primary store, and best-effort asynchronous replication to backup.
package ingestion

import (
	"context"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/internal/server/store"
)

// Config controls authentication and per-device rate limiting for the
// ingestion endpoint.
type Config struct {
	SharedSecret          string
	IngestRateLimitPerMin int
	IngestBurstSize       int
}

// BackupDispatcher hands a just-ingested batch off for best-effort,
// asynchronous replication. Enqueue must not block the caller on network
// I/O; a full queue should drop and log rather than stall ingestion.
type BackupDispatcher interface {
	Enqueue(batch model.LogBatch)
}

// Store is the subset of store.Store the ingestion endpoint needs.
type Store interface {
	Ingest(batch model.LogBatch) int
}

var _ Store = (*store.Store)(nil)

// Service handles POST /api/logs/ingest.
type Service struct {
	cfg     Config
	store   Store
	backup  BackupDispatcher
	log     *logging.Logger
	limiter perDeviceLimiter
}

// NewService builds a Service. backup may be nil to disable replication.
func NewService(cfg Config, st Store, backup BackupDispatcher, log *logging.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		backup:  backup,
		log:     log,
		limiter: newPerDeviceLimiter(cfg.IngestRateLimitPerMin, cfg.IngestBurstSize),
	}
}

// ingestRequest is the wire shape of a POST /api/logs/ingest body.
type ingestRequest struct {
	DeviceID       string               `json:"deviceId"`
	DeviceInfo     model.DeviceInfo     `json:"deviceInfo"`
	FileEvents     []model.FileEvent    `json:"fileEvents"`
	NetworkEvents  []model.NetworkEvent `json:"networkEvents"`
	AppUsageEvents []model.AppUsageEvent `json:"appUsageEvents"`
	Alerts         []model.AlertEvent   `json:"alerts"`
}

type ingestResponse struct {
	Received int64 `json:"received"`
}

// Handler returns the http.HandlerFunc for POST /api/logs/ingest. Auth and
// decoding happen via httputil.HandleJSONWithAPIKey; everything this
// closure does beyond that runs without touching the network, so response
// latency never includes backup-store I/O.
func (s *Service) Handler() http.HandlerFunc {
	return httputil.HandleJSONWithAPIKey(s.log, s.cfg.SharedSecret, func(ctx context.Context, req *ingestRequest) (ingestResponse, error) {
		if req.DeviceID != "" && !s.limiter.allow(req.DeviceID) {
			return ingestResponse{}, &httputil.ServiceUnavailableError{Message: "rate limit exceeded"}
		}

		batch := model.LogBatch{
			DeviceID:       req.DeviceID,
			DeviceInfo:     req.DeviceInfo,
			FileEvents:     req.FileEvents,
			NetworkEvents:  req.NetworkEvents,
			AppUsageEvents: req.AppUsageEvents,
			Alerts:         req.Alerts,
		}
		if batch.DeviceInfo.DeviceID == "" {
			batch.DeviceInfo.DeviceID = batch.DeviceID
		}
		batch.DeviceInfo.LastSeen = time.Now().UTC()

		n := s.store.Ingest(batch)

		if s.backup != nil {
			s.backup.Enqueue(batch)
		}

		return ingestResponse{Received: int64(n)}, nil
	})
}

// perDeviceLimiter lazily creates one RateLimiter per device id so a noisy
// device cannot starve others' ingestion budget.
type perDeviceLimiter struct {
	cfg ratelimit.RateLimitConfig
	reg *limiterRegistry
}

func newPerDeviceLimiter(perMinute, burst int) perDeviceLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	if burst <= 0 {
		burst = 20
	}
	return perDeviceLimiter{
		cfg: ratelimit.RateLimitConfig{
			RequestsPerSecond: float64(perMinute) / 60.0,
			Burst:             burst,
		},
		reg: newLimiterRegistry(),
	}
}

func (p perDeviceLimiter) allow(deviceID string) bool {
	return p.reg.get(deviceID, p.cfg).Allow()
}

// Package query implements the read-side dashboard endpoints: device list,
// alerts, classified events, and cross-device aggregates, all served from
// the in-memory store.
package query

import (
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/cache"
	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/internal/server/store"
)

const (
	defaultWindowHours = 24
	defaultLimit       = 100
	maxLimit           = 1000

	// aggregateCacheTTL bounds how stale a top-N aggregate can be. These
	// queries rescan every event in the window on each call, so a short
	// cache absorbs dashboard auto-refresh polling without hiding new
	// alerts for long.
	aggregateCacheTTL = 5 * time.Second
)

// Store is the subset of store.Store the dashboard endpoints read from.
type Store interface {
	GetDevices() []model.DeviceInfo
	GetFileEvents(f store.EventFilter) []model.FileEvent
	GetTransferEvents(f store.EventFilter) []model.FileEvent
	GetNetworkEvents(f store.EventFilter) []model.NetworkEvent
	GetAppUsageEvents(f store.EventFilter) []model.AppUsageEvent
	GetAlerts(f store.EventFilter) []model.AlertEvent
	CountFileEvents(f store.EventFilter) int
	CountAlerts(f store.EventFilter) int
	TopProcessesByBytes(cutoff time.Time, limit int) []store.ProcessBytes
	TopAppsByDuration(cutoff time.Time, limit int) []store.AppDuration
	TopTalkers(cutoff time.Time, limit int) []store.TalkerStats
}

var _ Store = (*store.Store)(nil)

// Service serves the dashboard query endpoints.
type Service struct {
	store      Store
	log        *logging.Logger
	aggregates *cache.TTLCache
}

func NewService(st Store, log *logging.Logger) *Service {
	return &Service{store: st, log: log, aggregates: cache.NewTTLCache(aggregateCacheTTL)}
}

type summaryResponse struct {
	WindowHours      int `json:"windowHours"`
	DeviceCount      int `json:"deviceCount"`
	FileEventCount   int `json:"fileEventCount"`
	AlertCount       int `json:"alertCount"`
	CriticalAlertCount int `json:"criticalAlertCount"`
}

// Summary handles GET /api/dashboard/summary.
func (s *Service) Summary(w http.ResponseWriter, r *http.Request) {
	cutoff := s.cutoff(r)
	httputil.WriteJSON(w, http.StatusOK, summaryResponse{
		WindowHours:        s.windowHours(r),
		DeviceCount:        len(s.store.GetDevices()),
		FileEventCount:     s.store.CountFileEvents(store.EventFilter{Cutoff: cutoff}),
		AlertCount:         s.store.CountAlerts(store.EventFilter{Cutoff: cutoff}),
		CriticalAlertCount: s.store.CountAlerts(store.EventFilter{Cutoff: cutoff, Severity: model.SeverityCritical}),
	})
}

// Devices handles GET /api/dashboard/devices.
func (s *Service) Devices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.store.GetDevices())
}

// Alerts handles GET /api/dashboard/alerts.
func (s *Service) Alerts(w http.ResponseWriter, r *http.Request) {
	f := s.baseFilter(r)
	f.Severity = model.Severity(httputil.QueryString(r, "severity", ""))
	httputil.WriteJSON(w, http.StatusOK, s.store.GetAlerts(f))
}

// FileEvents handles GET /api/dashboard/file-events.
func (s *Service) FileEvents(w http.ResponseWriter, r *http.Request) {
	f := s.baseFilter(r)
	f.Flag = httputil.QueryString(r, "flag", "")
	httputil.WriteJSON(w, http.StatusOK, s.store.GetFileEvents(f))
}

// Transfers handles GET /api/dashboard/transfers.
func (s *Service) Transfers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.store.GetTransferEvents(s.baseFilter(r)))
}

// NetworkEvents handles GET /api/dashboard/network-events.
func (s *Service) NetworkEvents(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.store.GetNetworkEvents(s.baseFilter(r)))
}

// AppUsage handles GET /api/dashboard/app-usage.
func (s *Service) AppUsage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.store.GetAppUsageEvents(s.baseFilter(r)))
}

// TopTalkers handles GET /api/dashboard/top-talkers.
func (s *Service) TopTalkers(w http.ResponseWriter, r *http.Request) {
	cutoff, limit := s.cutoff(r), s.limit(r)
	key := fmt.Sprintf("top-talkers:%d:%d", s.windowHours(r), limit)
	if v, ok := s.aggregates.Get(r.Context(), key); ok {
		httputil.WriteJSON(w, http.StatusOK, v)
		return
	}
	result := s.store.TopTalkers(cutoff, limit)
	s.aggregates.Set(r.Context(), key, result)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// TopProcesses handles GET /api/dashboard/top-processes.
func (s *Service) TopProcesses(w http.ResponseWriter, r *http.Request) {
	cutoff, limit := s.cutoff(r), s.limit(r)
	key := fmt.Sprintf("top-processes:%d:%d", s.windowHours(r), limit)
	if v, ok := s.aggregates.Get(r.Context(), key); ok {
		httputil.WriteJSON(w, http.StatusOK, v)
		return
	}
	result := s.store.TopProcessesByBytes(cutoff, limit)
	s.aggregates.Set(r.Context(), key, result)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// TopApps handles GET /api/dashboard/top-apps.
func (s *Service) TopApps(w http.ResponseWriter, r *http.Request) {
	cutoff, limit := s.cutoff(r), s.limit(r)
	key := fmt.Sprintf("top-apps:%d:%d", s.windowHours(r), limit)
	if v, ok := s.aggregates.Get(r.Context(), key); ok {
		httputil.WriteJSON(w, http.StatusOK, v)
		return
	}
	result := s.store.TopAppsByDuration(cutoff, limit)
	s.aggregates.Set(r.Context(), key, result)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Service) baseFilter(r *http.Request) store.EventFilter {
	return store.EventFilter{
		Cutoff:   s.cutoff(r),
		DeviceID: httputil.QueryString(r, "deviceId", ""),
		Limit:    s.limit(r),
	}
}

func (s *Service) windowHours(r *http.Request) int {
	h := httputil.QueryInt(r, "hours", defaultWindowHours)
	if h <= 0 {
		h = defaultWindowHours
	}
	return h
}

func (s *Service) cutoff(r *http.Request) time.Time {
	return time.Now().Add(-time.Duration(s.windowHours(r)) * time.Hour)
}

func (s *Service) limit(r *http.Request) int {
	l := httputil.QueryInt(r, "limit", defaultLimit)
	if l <= 0 || l > maxLimit {
		return defaultLimit
	}
	return l
}

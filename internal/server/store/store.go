// Package store is the server's in-memory primary store: concurrent,
// id-keyed tables for every event kind plus device records, supporting
// idempotent upsert and timestamp-ordered queries for the dashboard.
package store

import (
	"sort"
	"sync"

	"github.com/R3E-Network/service_layer/internal/model"
)

// Store holds every device and event record the server has ingested.
// All mutation goes through Ingest; reads take a read lock and copy out
// the slices they return so callers never observe a map being mutated.
type Store struct {
	mu sync.RWMutex

	devices        map[string]model.DeviceInfo
	fileEvents     map[string]model.FileEvent
	networkEvents  map[string]model.NetworkEvent
	appUsageEvents map[string]model.AppUsageEvent
	alerts         map[string]model.AlertEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		devices:        make(map[string]model.DeviceInfo),
		fileEvents:     make(map[string]model.FileEvent),
		networkEvents:  make(map[string]model.NetworkEvent),
		appUsageEvents: make(map[string]model.AppUsageEvent),
		alerts:         make(map[string]model.AlertEvent),
	}
}

// Ingest upserts a device record and every event in batch, keyed by event
// id. Re-ingesting an id overwrites the prior record with the new one —
// this is what makes repeated uploads of the same segment idempotent. It
// returns the number of events stored (devices are not counted).
func (s *Store) Ingest(batch model.LogBatch) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.DeviceInfo.DeviceID != "" {
		s.devices[batch.DeviceInfo.DeviceID] = batch.DeviceInfo
	}

	for _, e := range batch.FileEvents {
		s.fileEvents[e.ID] = e
	}
	for _, e := range batch.NetworkEvents {
		s.networkEvents[e.ID] = e
	}
	for _, e := range batch.AppUsageEvents {
		s.appUsageEvents[e.ID] = e
	}
	for _, e := range batch.Alerts {
		s.alerts[e.ID] = e
	}

	return len(batch.FileEvents) + len(batch.NetworkEvents) + len(batch.AppUsageEvents) + len(batch.Alerts)
}

// GetDevices returns every known device ordered by LastSeen descending.
func (s *Store) GetDevices() []model.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

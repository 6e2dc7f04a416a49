package spool

import (
	"encoding/json"
	"sync"

	"github.com/R3E-Network/service_layer/internal/model"
)

// payload is the JSON shape sealed into a segment.
type payload struct {
	FileEvents     []model.FileEvent     `json:"file_events"`
	NetworkEvents  []model.NetworkEvent  `json:"network_events"`
	AppUsageEvents []model.AppUsageEvent `json:"app_usage_events"`
	Alerts         []model.AlertEvent    `json:"alerts"`
}

// buffer is the in-memory ingress buffer: one slice per event kind, in
// insertion order. A single mutex protects it, held only for enqueue/drain.
type buffer struct {
	mu sync.Mutex
	p  payload
}

func newBuffer() *buffer {
	return &buffer{}
}

func (b *buffer) AddFileEvent(e model.FileEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p.FileEvents = append(b.p.FileEvents, e)
}

func (b *buffer) AddNetworkEvent(e model.NetworkEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p.NetworkEvents = append(b.p.NetworkEvents, e)
}

func (b *buffer) AddAppUsageEvent(e model.AppUsageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p.AppUsageEvents = append(b.p.AppUsageEvents, e)
}

func (b *buffer) AddAlert(e model.AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p.Alerts = append(b.p.Alerts, e)
}

// MutateFileEventFlag finds the first (oldest) FileEvent with the given
// id still sitting in the buffer and sets its flag, returning true if found.
// This is how the correlation engine's R3 rule back-annotates a file event
// that has not yet been flushed to a sealed segment.
func (b *buffer) MutateFileEventFlag(id, flag string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.p.FileEvents {
		if b.p.FileEvents[i].ID == id {
			b.p.FileEvents[i].Flag = flag
			return true
		}
	}
	return false
}

// drain returns the current payload and resets the buffer to empty. Used by
// Flush; the boolean result reports whether there was anything to seal.
func (b *buffer) drain() (payload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.p
	empty := len(p.FileEvents) == 0 && len(p.NetworkEvents) == 0 &&
		len(p.AppUsageEvents) == 0 && len(p.Alerts) == 0
	b.p = payload{}
	return p, !empty
}

func marshalPayload(p payload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(data []byte) (payload, error) {
	var p payload
	err := json.Unmarshal(data, &p)
	return p, err
}

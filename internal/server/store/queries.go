package store

import (
	"sort"
	"time"

	"github.com/R3E-Network/service_layer/internal/agent/filemonitor"
	"github.com/R3E-Network/service_layer/internal/model"
)

// defaultExcludedExtensions mirrors the agent's built-in noisy-extension
// list so query-time suppression matches local suppression even if the
// uploading agent's own config omitted it.
var defaultExcludedExtensions = filemonitor.DefaultConfig().ExcludedExtensions

// EventFilter narrows a timestamp-ordered query. Zero values mean
// "unfiltered" for that dimension. Source is carried but no query applies
// it; results are never narrowed by source.
type EventFilter struct {
	Cutoff   time.Time
	DeviceID string
	Flag     string
	Severity model.Severity
	Source   string
	Limit    int
}

func matchesDevice(deviceID, filter string) bool {
	return filter == "" || deviceID == filter
}

// GetFileEvents returns file events newer than the cutoff, optionally
// filtered by device and flag, newest first, truncated to Limit.
func (s *Store) GetFileEvents(f EventFilter) []model.FileEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FileEvent
	for _, e := range s.fileEvents {
		if e.Timestamp.Before(f.Cutoff) {
			continue
		}
		if !matchesDevice(e.DeviceID, f.DeviceID) {
			continue
		}
		if f.Flag != "" && e.Flag != f.Flag {
			continue
		}
		if !isTransferFileEvent(e) && !e.IsTransfer && filemonitor.IsNoisePath(e.FullPath, defaultExcludedExtensions, nil) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateFileEvents(out, f.Limit)
}

// CountFileEvents counts file events matching f without truncation.
func (s *Store) CountFileEvents(f EventFilter) int {
	return len(s.GetFileEvents(EventFilter{Cutoff: f.Cutoff, DeviceID: f.DeviceID, Flag: f.Flag}))
}

// isTransferFileEvent reports a transfer by a USB, network-share or
// cloud-sync source, or by the USB, network, cloud-sync or probable-upload
// flag. It is narrower than the agent's IsTransfer marking, which also
// covers other flags such as internet downloads. Queried here
// so legacy agents that upload unfiltered events don't pollute results.
func isTransferFileEvent(e model.FileEvent) bool {
	switch e.Source {
	case model.SourceUSB, model.SourceNetworkShare, model.SourceCloudSync:
		return true
	}
	switch e.Flag {
	case model.FlagUsbTransfer, model.FlagNetworkTransfer, model.FlagCloudSyncTransfer, model.FlagProbableUpload:
		return true
	}
	return false
}

// GetTransferEvents returns file events that look like a cross-boundary
// transfer by source or flag, newest first, truncated to Limit.
func (s *Store) GetTransferEvents(f EventFilter) []model.FileEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FileEvent
	for _, e := range s.fileEvents {
		if e.Timestamp.Before(f.Cutoff) {
			continue
		}
		if !matchesDevice(e.DeviceID, f.DeviceID) {
			continue
		}
		if !isTransferFileEvent(e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateFileEvents(out, f.Limit)
}

// GetNetworkEvents returns network events newer than the cutoff, optionally
// filtered by device, newest first, truncated to Limit.
func (s *Store) GetNetworkEvents(f EventFilter) []model.NetworkEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.NetworkEvent
	for _, e := range s.networkEvents {
		if e.Timestamp.Before(f.Cutoff) {
			continue
		}
		if !matchesDevice(e.DeviceID, f.DeviceID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateNetworkEvents(out, f.Limit)
}

// GetAppUsageEvents returns app usage sessions newer than the cutoff,
// optionally filtered by device, newest first, truncated to Limit.
func (s *Store) GetAppUsageEvents(f EventFilter) []model.AppUsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AppUsageEvent
	for _, e := range s.appUsageEvents {
		if e.StartTime.Before(f.Cutoff) {
			continue
		}
		if !matchesDevice(e.DeviceID, f.DeviceID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return truncateAppUsageEvents(out, f.Limit)
}

// GetAlerts returns alerts newer than the cutoff, optionally filtered by
// device and severity, newest first, truncated to Limit.
func (s *Store) GetAlerts(f EventFilter) []model.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AlertEvent
	for _, e := range s.alerts {
		if e.Timestamp.Before(f.Cutoff) {
			continue
		}
		if !matchesDevice(e.DeviceID, f.DeviceID) {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncateAlerts(out, f.Limit)
}

// CountAlerts counts alerts matching f without truncation.
func (s *Store) CountAlerts(f EventFilter) int {
	return len(s.GetAlerts(EventFilter{Cutoff: f.Cutoff, DeviceID: f.DeviceID, Severity: f.Severity}))
}

func truncateFileEvents(events []model.FileEvent, limit int) []model.FileEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func truncateNetworkEvents(events []model.NetworkEvent, limit int) []model.NetworkEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func truncateAppUsageEvents(events []model.AppUsageEvent, limit int) []model.AppUsageEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func truncateAlerts(alerts []model.AlertEvent, limit int) []model.AlertEvent {
	if limit > 0 && len(alerts) > limit {
		return alerts[:limit]
	}
	return alerts
}

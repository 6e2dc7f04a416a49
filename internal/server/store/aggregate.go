package store

import (
	"sort"
	"time"
)

// ProcessBytes ranks a process by total outbound bytes within a window.
type ProcessBytes struct {
	ProcessName string `json:"processName"`
	BytesSent   int64  `json:"bytesSent"`
}

// AppDuration ranks an application by total foreground duration within a
// window.
type AppDuration struct {
	AppName  string        `json:"appName"`
	Duration time.Duration `json:"duration"`
}

// TalkerStats ranks a device by outbound bytes within a window, alongside
// how many distinct destinations it contacted.
type TalkerStats struct {
	DeviceID          string `json:"deviceId"`
	BytesSent         int64  `json:"bytesSent"`
	DistinctDestCount int    `json:"distinctDestCount"`
}

// TopProcessesByBytes ranks processes by total NetworkEvent.BytesSent since
// cutoff, descending, truncated to limit.
func (s *Store) TopProcessesByBytes(cutoff time.Time, limit int) []ProcessBytes {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, e := range s.networkEvents {
		if e.Timestamp.Before(cutoff) || e.ProcessName == "" {
			continue
		}
		totals[e.ProcessName] += e.BytesSent
	}

	out := make([]ProcessBytes, 0, len(totals))
	for name, bytes := range totals {
		out = append(out, ProcessBytes{ProcessName: name, BytesSent: bytes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BytesSent == out[j].BytesSent {
			return out[i].ProcessName < out[j].ProcessName
		}
		return out[i].BytesSent > out[j].BytesSent
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopAppsByDuration ranks applications by total AppUsageEvent.Duration
// since cutoff, descending, truncated to limit.
func (s *Store) TopAppsByDuration(cutoff time.Time, limit int) []AppDuration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]time.Duration)
	for _, e := range s.appUsageEvents {
		if e.StartTime.Before(cutoff) || e.AppName == "" {
			continue
		}
		totals[e.AppName] += e.Duration
	}

	out := make([]AppDuration, 0, len(totals))
	for name, dur := range totals {
		out = append(out, AppDuration{AppName: name, Duration: dur})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration == out[j].Duration {
			return out[i].AppName < out[j].AppName
		}
		return out[i].Duration > out[j].Duration
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopTalkers ranks devices ("top talkers") by total outbound NetworkEvent
// bytes since cutoff, descending, truncated to limit.
func (s *Store) TopTalkers(cutoff time.Time, limit int) []TalkerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bytesByDevice := make(map[string]int64)
	destsByDevice := make(map[string]map[string]struct{})

	for _, e := range s.networkEvents {
		if e.Timestamp.Before(cutoff) || e.DeviceID == "" {
			continue
		}
		bytesByDevice[e.DeviceID] += e.BytesSent
		dests, ok := destsByDevice[e.DeviceID]
		if !ok {
			dests = make(map[string]struct{})
			destsByDevice[e.DeviceID] = dests
		}
		if e.DestAddr != "" {
			dests[e.DestAddr] = struct{}{}
		}
	}

	out := make([]TalkerStats, 0, len(bytesByDevice))
	for deviceID, bytes := range bytesByDevice {
		out = append(out, TalkerStats{
			DeviceID:          deviceID,
			BytesSent:         bytes,
			DistinctDestCount: len(destsByDevice[deviceID]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BytesSent == out[j].BytesSent {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].BytesSent > out[j].BytesSent
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

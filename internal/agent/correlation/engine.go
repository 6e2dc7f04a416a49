// Package correlation evaluates cross-modality rules over the live file
// and network event streams, emitting alerts and back-annotating the file
// events that triggered them.
package correlation

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/internal/model"
)

// AlertSink receives alerts emitted by the engine.
type AlertSink interface {
	AddAlert(model.AlertEvent)
}

// FlagMutator back-annotates a still-buffered FileEvent's flag. It returns
// false if the event has already left the mutable window (already flushed).
type FlagMutator interface {
	MutateFileEventFlag(id, flag string) bool
}

type byteSample struct {
	at    time.Time
	bytes int64
	connID string
}

type processWindow struct {
	samples []byteSample
	r2Fired bool
}

type fileCandidate struct {
	id       string
	filename string
	process  string
	at       time.Time
	consumed bool
}

// Engine evaluates R1 (Large Transfer), R2 (Continuous Transfer), and R3
// (Probable Upload) in that order for every NetworkEvent, and maintains the
// file-read/copy ring R3 correlates against.
type Engine struct {
	cfg     Config
	sink    AlertSink
	mutator FlagMutator

	mu sync.Mutex

	r1Last map[string]time.Time // key: device|process|destIP
	procWin map[string]*processWindow // key: device|process
	fileRing map[string][]fileCandidate // key: device|process
}

// New creates a correlation Engine. sink receives emitted alerts; mutator
// is used by R3 to annotate the originating file event's flag.
func New(cfg Config, sink AlertSink, mutator FlagMutator) *Engine {
	return &Engine{
		cfg:      cfg,
		sink:     sink,
		mutator:  mutator,
		r1Last:   make(map[string]time.Time),
		procWin:  make(map[string]*processWindow),
		fileRing: make(map[string][]fileCandidate),
	}
}

// OnFileEvent records Read/Copy events for R3 correlation. Other actions
// are ignored; this is advisory state, not the canonical event record.
func (e *Engine) OnFileEvent(deviceID string, fe model.FileEvent) {
	if !e.cfg.Enabled {
		return
	}
	if fe.Action != model.ActionRead && fe.Action != model.ActionCopy {
		return
	}

	key := ringKey(deviceID, fe.ProcessName)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fileRing[key] = append(e.fileRing[key], fileCandidate{
		id:       fe.ID,
		filename: fe.Filename,
		process:  fe.ProcessName,
		at:       fe.Timestamp,
	})
	e.pruneFileRingLocked(key, fe.Timestamp)
}

// OnNetworkEvent evaluates R1, then R2, then R3 against ne, in that order,
// emitting alerts through the configured sink.
func (e *Engine) OnNetworkEvent(deviceID string, ne model.NetworkEvent) {
	if !e.cfg.Enabled {
		return
	}

	e.evalR1(deviceID, ne)
	e.evalR2(deviceID, ne)
	e.evalR3(deviceID, ne)
}

func (e *Engine) evalR1(deviceID string, ne model.NetworkEvent) {
	if ne.BytesSent < e.cfg.LargeTransferThresholdBytes {
		return
	}

	destIP := ne.DestAddr
	if host, _, err := net.SplitHostPort(ne.DestAddr); err == nil {
		destIP = host
	}
	key := fmt.Sprintf("%s|%s|%s", deviceID, ne.ProcessName, destIP)

	e.mu.Lock()
	last, fired := e.r1Last[key]
	if fired && ne.Timestamp.Sub(last) < r1DedupeWindow {
		e.mu.Unlock()
		return
	}
	e.r1Last[key] = ne.Timestamp
	e.mu.Unlock()

	e.emit(model.AlertEvent{
		ID:                 uuid.NewString(),
		DeviceID:           deviceID,
		Severity:           model.SeverityCritical,
		AlertType:          model.AlertLargeTransfer,
		Description:        fmt.Sprintf("large outbound transfer by %s to %s", ne.ProcessName, ne.DestAddr),
		RelatedProcessName: ne.ProcessName,
		BytesInvolved:      ne.BytesSent,
		Timestamp:          ne.Timestamp,
	})
}

func (e *Engine) evalR2(deviceID string, ne model.NetworkEvent) {
	key := ringKey(deviceID, ne.ProcessName)
	window := e.cfg.continuousWindow()

	e.mu.Lock()
	pw, ok := e.procWin[key]
	if !ok {
		pw = &processWindow{}
		e.procWin[key] = pw
	}

	pw.samples = append(pw.samples, byteSample{at: ne.Timestamp, bytes: ne.BytesSent, connID: ne.ID})

	cutoff := ne.Timestamp.Add(-window)
	kept := pw.samples[:0]
	for _, s := range pw.samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	pw.samples = kept

	var sum int64
	distinct := make(map[string]struct{})
	for _, s := range pw.samples {
		sum += s.bytes
		distinct[s.connID] = struct{}{}
	}

	shouldFire := sum > e.cfg.ContinuousTransferThresholdBytes && len(distinct) >= 2 && !pw.r2Fired
	if sum <= e.cfg.ContinuousTransferThresholdBytes {
		pw.r2Fired = false
	}
	if shouldFire {
		pw.r2Fired = true
	}
	e.mu.Unlock()

	if !shouldFire {
		return
	}

	e.emit(model.AlertEvent{
		ID:                 uuid.NewString(),
		DeviceID:           deviceID,
		Severity:           model.SeverityHigh,
		AlertType:          model.AlertContinuousTransfer,
		Description:        fmt.Sprintf("sustained outbound transfer by %s", ne.ProcessName),
		RelatedProcessName: ne.ProcessName,
		BytesInvolved:      sum,
		Timestamp:          ne.Timestamp,
	})
}

func (e *Engine) evalR3(deviceID string, ne model.NetworkEvent) {
	if ne.BytesSent <= e.cfg.ProbableUploadThresholdBytes {
		return
	}

	key := ringKey(deviceID, ne.ProcessName)
	window := e.cfg.probableUploadWindow()

	e.mu.Lock()
	e.pruneFileRingLocked(key, ne.Timestamp)
	ring := e.fileRing[key]

	var match *fileCandidate
	for i := len(ring) - 1; i >= 0; i-- {
		c := &ring[i]
		if c.consumed {
			continue
		}
		if ne.Timestamp.Sub(c.at) <= window {
			match = c
			break
		}
	}
	if match != nil {
		match.consumed = true
	}
	e.mu.Unlock()

	if match == nil {
		return
	}

	if e.mutator != nil {
		e.mutator.MutateFileEventFlag(match.id, model.FlagProbableUpload)
	}

	e.emit(model.AlertEvent{
		ID:                 uuid.NewString(),
		DeviceID:           deviceID,
		Severity:           model.SeverityHigh,
		AlertType:          model.AlertProbableUpload,
		Description:        fmt.Sprintf("probable upload of %s by %s", match.filename, ne.ProcessName),
		RelatedFilename:    match.filename,
		RelatedProcessName: ne.ProcessName,
		BytesInvolved:      ne.BytesSent,
		Timestamp:          ne.Timestamp,
	})
}

// pruneFileRingLocked drops ring entries older than the probable-upload
// window relative to now. Caller must hold e.mu.
func (e *Engine) pruneFileRingLocked(key string, now time.Time) {
	window := e.cfg.probableUploadWindow()
	ring := e.fileRing[key]
	cutoff := now.Add(-window)
	kept := ring[:0]
	for _, c := range ring {
		if c.consumed {
			continue
		}
		if !c.at.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(e.fileRing, key)
		return
	}
	e.fileRing[key] = kept
}

func (e *Engine) emit(alert model.AlertEvent) {
	if e.sink != nil {
		e.sink.AddAlert(alert)
	}
}

func ringKey(deviceID, process string) string {
	return deviceID + "|" + process
}

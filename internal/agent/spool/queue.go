package spool

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

const (
	segmentExt     = ".lgq"
	partExt        = ".part"
	quarantineDir  = "quarantine"
	defaultFlushEvery = 30 * time.Second
)

// Config configures a Queue.
type Config struct {
	// Path is the directory segments and the quarantine subdirectory live in.
	Path string
	// Secret is the deployment-wide spool encryption secret (not a raw AES
	// key — a per-segment key is derived from it via PBKDF2).
	Secret string
	// FlushInterval is how often the in-memory buffer is sealed to disk.
	// Defaults to 30s.
	FlushInterval time.Duration
	// RetentionDays is the age past which Sweep deletes a sealed segment,
	// uploaded or not. Acknowledged segments are removed right away by
	// Remove. Defaults to 90.
	RetentionDays int
}

// Queue is the agent's Local Event Queue: an in-memory ingress buffer with
// a background flush loop that seals segments to the configured path.
type Queue struct {
	cfg    Config
	buf    *buffer
	log    *logger.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Queue rooted at cfg.Path, creating the directory and its
// quarantine subdirectory if they do not exist.
func New(cfg Config, log *logger.Logger) (*Queue, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushEvery
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cfg.Path, quarantineDir), 0o700); err != nil {
		return nil, err
	}
	return &Queue{
		cfg:    cfg,
		buf:    newBuffer(),
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// AddFileEvent enqueues a classified file event.
func (q *Queue) AddFileEvent(e model.FileEvent) { q.buf.AddFileEvent(e) }

// AddNetworkEvent enqueues a network event.
func (q *Queue) AddNetworkEvent(e model.NetworkEvent) { q.buf.AddNetworkEvent(e) }

// AddAppUsageEvent enqueues an app usage event.
func (q *Queue) AddAppUsageEvent(e model.AppUsageEvent) { q.buf.AddAppUsageEvent(e) }

// AddAlert enqueues an alert event.
func (q *Queue) AddAlert(e model.AlertEvent) { q.buf.AddAlert(e) }

// MutateFileEventFlag back-annotates a still-buffered file event's flag.
// Returns false if the event has already been flushed to a sealed segment.
func (q *Queue) MutateFileEventFlag(id, flag string) bool {
	return q.buf.MutateFileEventFlag(id, flag)
}

// Run starts the periodic flush loop; it returns when ctx is cancelled,
// performing one final flush before returning.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.Flush(); err != nil {
				q.log.WithField("error", err).Warn("spool flush failed")
			}
		case <-ctx.Done():
			if err := q.Flush(); err != nil {
				q.log.WithField("error", err).Warn("final spool flush failed")
			}
			return
		case <-q.stopCh:
			if err := q.Flush(); err != nil {
				q.log.WithField("error", err).Warn("final spool flush failed")
			}
			return
		}
	}
}

// Stop requests the flush loop to perform a final flush and exit. Callers
// that manage their own context should prefer cancelling it instead.
func (q *Queue) Stop() {
	close(q.stopCh)
	<-q.doneCh
}

// Flush seals the current in-memory buffer into a new segment file, if
// non-empty. The segment is written to a *.part temp file and renamed to
// *.lgq, guaranteeing the uploader never observes a half-written segment.
func (q *Queue) Flush() error {
	p, ok := q.buf.drain()
	if !ok {
		return nil
	}

	raw, err := marshalPayload(p)
	if err != nil {
		return err
	}

	sealed, err := EncryptSegment([]byte(q.cfg.Secret), raw)
	if err != nil {
		return err
	}

	name := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	final := filepath.Join(q.cfg.Path, name+segmentExt)
	tmp := filepath.Join(q.cfg.Path, name+partExt)

	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return err
	}

	q.log.WithField("segment", final).Debug("sealed spool segment")
	return nil
}

// Segment describes a sealed segment file on disk.
type Segment struct {
	Path    string
	ModTime time.Time
}

// ListSealed returns sealed segments oldest-first by creation order.
func (q *Queue) ListSealed() ([]Segment, error) {
	entries, err := os.ReadDir(q.cfg.Path)
	if err != nil {
		return nil, err
	}

	var segs []Segment
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != segmentExt {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		segs = append(segs, Segment{
			Path:    filepath.Join(q.cfg.Path, ent.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].ModTime.Before(segs[j].ModTime) })
	return segs, nil
}

// Decrypt reads and decrypts a sealed segment, returning the batch contents.
func (q *Queue) Decrypt(segPath string) (model.LogBatch, error) {
	raw, err := os.ReadFile(segPath)
	if err != nil {
		return model.LogBatch{}, err
	}

	plaintext, err := DecryptSegment([]byte(q.cfg.Secret), raw)
	if err != nil {
		return model.LogBatch{}, err
	}

	p, err := unmarshalPayload(plaintext)
	if err != nil {
		return model.LogBatch{}, err
	}

	return model.LogBatch{
		FileEvents:     p.FileEvents,
		NetworkEvents:  p.NetworkEvents,
		AppUsageEvents: p.AppUsageEvents,
		Alerts:         p.Alerts,
	}, nil
}

// Quarantine moves a segment that failed decryption aside for later
// inspection, never retrying with the same bytes in-band.
func (q *Queue) Quarantine(segPath string) error {
	dest := filepath.Join(q.cfg.Path, quarantineDir, filepath.Base(segPath))
	return os.Rename(segPath, dest)
}

// Remove deletes a segment once its contents have been acknowledged.
func (q *Queue) Remove(segPath string) error {
	return os.Remove(segPath)
}

// Sweep deletes sealed segments older than RetentionDays. It is run
// independently of the upload cycle (see internal/agent/uploader, which
// schedules it via robfig/cron).
func (q *Queue) Sweep() error {
	segs, err := q.ListSealed()
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -q.cfg.RetentionDays)
	for _, s := range segs {
		if s.ModTime.Before(cutoff) {
			if err := q.Remove(s.Path); err != nil && !os.IsNotExist(err) {
				q.log.WithField("segment", s.Path).WithField("error", err).Warn("retention sweep: failed to remove segment")
			}
		}
	}
	return nil
}

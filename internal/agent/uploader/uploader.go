// Package uploader delivers sealed spool segments to the aggregation
// server with exponential backoff and local-preserve-on-failure semantics.
package uploader

import (
	"context"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	domainerrors "github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/resilience"
	"github.com/R3E-Network/service_layer/internal/agent/spool"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Uploader reads sealed segments from the Local Event Queue oldest-first
// and delivers them to the server, preserving a segment on any failure.
type Uploader struct {
	cfg    Config
	queue  *spool.Queue
	client *ingestClient
	cb     *resilience.CircuitBreaker
	info   model.DeviceInfo
	log    *logger.Logger

	consecutiveFailures int
}

// New creates an Uploader. info is the DeviceInfo attached to every batch.
func New(cfg Config, queue *spool.Queue, info model.DeviceInfo, log *logger.Logger) (*Uploader, error) {
	client, err := newIngestClient(cfg)
	if err != nil {
		return nil, err
	}

	cbCfg := resilience.DefaultConfig()
	cbCfg.MaxFailures = 3
	cbCfg.Timeout = backoffCap
	cbCfg.OnStateChange = func(from, to resilience.State) {
		log.WithFields(map[string]interface{}{
			"from_state": from.String(),
			"to_state":   to.String(),
		}).Warn("uploader circuit breaker state changed")
	}

	return &Uploader{
		cfg:    cfg,
		queue:  queue,
		client: client,
		cb:     resilience.New(cbCfg),
		info:   info,
		log:    log,
	}, nil
}

// Run drives the upload cycle until ctx is cancelled. It also schedules
// the independent daily retention sweep via robfig/cron.
func (u *Uploader) Run(ctx context.Context) {
	c := cron.New()
	if _, err := c.AddFunc("@daily", func() {
		if err := u.queue.Sweep(); err != nil {
			u.log.WithField("error", err).Warn("retention sweep failed")
		}
	}); err != nil {
		u.log.WithField("error", err).Warn("failed to schedule retention sweep")
	}
	c.Start()
	defer c.Stop()

	for {
		failed := u.cycle(ctx)

		var wait time.Duration
		if failed {
			u.consecutiveFailures++
			wait = u.backoffDuration()
		} else {
			u.consecutiveFailures = 0
			wait = u.cfg.interval()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoffDuration computes the exponential backoff delay: base 2, starting
// at 5s, capped at 5 minutes. After three consecutive failures the uploader
// simply sleeps the cap and retries indefinitely.
func (u *Uploader) backoffDuration() time.Duration {
	if u.consecutiveFailures >= 3 {
		return backoffCap
	}
	d := time.Duration(float64(backoffInitial) * math.Pow(backoffBase, float64(u.consecutiveFailures-1)))
	if d > backoffCap {
		return backoffCap
	}
	if d < backoffInitial {
		return backoffInitial
	}
	return d
}

// cycle processes every sealed segment oldest-first, stopping at the first
// delivery failure so the failing segment and anything after it remain on
// disk for the next cycle. It returns true if any segment failed.
func (u *Uploader) cycle(ctx context.Context) bool {
	segs, err := u.queue.ListSealed()
	if err != nil {
		u.log.WithField("error", err).Warn("failed to list sealed segments")
		return true
	}

	for _, seg := range segs {
		if err := u.processSegment(ctx, seg); err != nil {
			u.log.WithField("segment", seg.Path).WithField("error", err).Warn("segment delivery failed")
			return true
		}
	}
	return false
}

func (u *Uploader) processSegment(ctx context.Context, seg spool.Segment) error {
	batch, err := u.queue.Decrypt(seg.Path)
	if err != nil {
		if domainerrors.IsServiceError(err) && domainerrors.GetServiceError(err).Code == domainerrors.ErrCodeSegmentCorrupt {
			u.log.WithField("segment", seg.Path).Warn("segment failed integrity check, quarantining")
			return u.queue.Quarantine(seg.Path)
		}
		return err
	}

	for _, sub := range splitBatch(u.cfg.DeviceID, u.info, batch, u.cfg.MaxBatchSize) {
		if err := u.deliver(ctx, sub); err != nil {
			return err
		}
	}

	return u.queue.Remove(seg.Path)
}

func (u *Uploader) deliver(ctx context.Context, batch model.LogBatch) error {
	return u.cb.Execute(ctx, func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: backoffInitial,
			MaxDelay:     backoffCap,
			Multiplier:   backoffBase,
			Jitter:       0.1,
		}, func() error {
			_, err := u.client.post(ctx, batch)
			return err
		})
	})
}

// Package backup replicates ingested batches to a secondary backup store.
// Replication is best-effort and asynchronous: a full queue drops the
// batch and logs it, and a failed POST is logged and dropped rather than
// retried, so a struggling backup store never slows down ingestion.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/version"
)

// Config controls the backup replication worker.
type Config struct {
	Enabled       bool
	Endpoint      string
	ApiKey        string
	ChunkSize     int
	QueueCapacity int
}

const (
	defaultChunkSize     = 450
	defaultQueueCapacity = 1000
)

// Dispatcher queues ingested batches for asynchronous replication to the
// backup store. It implements the ingestion package's BackupDispatcher
// interface structurally.
type Dispatcher struct {
	cfg    Config
	client *replicaClient
	queue  chan model.LogBatch
	log    *logging.Logger
}

// NewDispatcher builds a Dispatcher. When cfg.Enabled is false, Enqueue is
// a no-op and Run only waits for ctx to be cancelled; callers can wire it
// unconditionally.
func NewDispatcher(cfg Config, log *logging.Logger) (*Dispatcher, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}

	d := &Dispatcher{
		cfg:   cfg,
		queue: make(chan model.LogBatch, cfg.QueueCapacity),
		log:   log,
	}

	if !cfg.Enabled {
		return d, nil
	}

	client, err := newReplicaClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure backup client: %w", err)
	}
	d.client = client
	return d, nil
}

// Enqueue hands a batch off for replication without blocking on network
// I/O. A full queue drops the batch and logs the loss rather than stalling
// the ingestion request that called it.
func (d *Dispatcher) Enqueue(batch model.LogBatch) {
	if !d.cfg.Enabled {
		return
	}
	select {
	case d.queue <- batch:
	default:
		d.log.Warn(context.Background(), "backup queue full, dropping batch", map[string]interface{}{
			"deviceId": batch.DeviceID,
			"events":   batch.Len(),
		})
	}
}

// Run drains the queue until ctx is cancelled, replicating each batch in
// chunks of at most cfg.ChunkSize events.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.cfg.Enabled {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-d.queue:
			d.replicate(ctx, batch)
		}
	}
}

func (d *Dispatcher) replicate(ctx context.Context, batch model.LogBatch) {
	for _, chunk := range splitChunks(batch, d.cfg.ChunkSize) {
		if err := d.client.post(ctx, chunk); err != nil {
			d.log.Error(ctx, "backup replication failed", err, map[string]interface{}{
				"deviceId": batch.DeviceID,
			})
		}
	}
}

// splitChunks divides a batch into sub-batches of at most maxSize total
// events each, preserving within-kind order and the original device
// identity on every chunk.
func splitChunks(full model.LogBatch, maxSize int) []model.LogBatch {
	if maxSize <= 0 || full.Len() <= maxSize {
		return []model.LogBatch{full}
	}

	var chunks []model.LogBatch
	cur := model.LogBatch{DeviceID: full.DeviceID, DeviceInfo: full.DeviceInfo}
	count := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur)
			cur = model.LogBatch{DeviceID: full.DeviceID, DeviceInfo: full.DeviceInfo}
			count = 0
		}
	}

	for _, e := range full.FileEvents {
		if count >= maxSize {
			flush()
		}
		cur.FileEvents = append(cur.FileEvents, e)
		count++
	}
	for _, e := range full.NetworkEvents {
		if count >= maxSize {
			flush()
		}
		cur.NetworkEvents = append(cur.NetworkEvents, e)
		count++
	}
	for _, e := range full.AppUsageEvents {
		if count >= maxSize {
			flush()
		}
		cur.AppUsageEvents = append(cur.AppUsageEvents, e)
		count++
	}
	for _, e := range full.Alerts {
		if count >= maxSize {
			flush()
		}
		cur.Alerts = append(cur.Alerts, e)
		count++
	}
	flush()

	if len(chunks) == 0 {
		chunks = append(chunks, model.LogBatch{DeviceID: full.DeviceID, DeviceInfo: full.DeviceInfo})
	}
	return chunks
}

// replicaClient posts LogBatch chunks to the backup store's ingest endpoint.
type replicaClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func newReplicaClient(cfg Config) (*replicaClient, error) {
	client, normalized, err := httputil.NewClientWithBaseURL(
		httputil.ClientConfig{BaseURL: cfg.Endpoint, Timeout: 30 * time.Second},
		httputil.ClientDefaults{Timeout: 30 * time.Second, MaxBodyBytes: 1 << 20},
	)
	if err != nil {
		return nil, err
	}
	return &replicaClient{
		httpClient: client,
		endpoint:   normalized + "/api/logs/ingest",
		apiKey:     cfg.ApiKey,
	}, nil
}

func (c *replicaClient) post(ctx context.Context, batch model.LogBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(httputil.APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post chunk: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backup store returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

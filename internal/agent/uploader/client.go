package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/version"
)

// ingestClient posts LogBatches to the configured ingestion endpoint.
type ingestClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	deviceID   string
}

func newIngestClient(cfg Config) (*ingestClient, error) {
	client, normalized, err := httputil.NewClientWithBaseURL(
		httputil.ClientConfig{BaseURL: cfg.ApiEndpoint, Timeout: 30 * time.Second},
		httputil.ClientDefaults{Timeout: 30 * time.Second, MaxBodyBytes: 1 << 20},
	)
	if err != nil {
		return nil, fmt.Errorf("configure ingest client: %w", err)
	}

	return &ingestClient{
		httpClient: client,
		endpoint:   normalized + "/api/logs/ingest",
		apiKey:     cfg.ApiKey,
		deviceID:   cfg.DeviceID,
	}, nil
}

// post sends one batch and returns the server-reported received count.
// A non-2xx response or an unparseable body is returned as an error so the
// caller retains the segment and backs off.
func (c *ingestClient) post(ctx context.Context, batch model.LogBatch) (int64, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(httputil.APIKeyHeader, c.apiKey)
	req.Header.Set("X-Device-Id", c.deviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("ingest returned status %d: %s", resp.StatusCode, string(respBody))
	}

	result := gjson.GetBytes(respBody, "received")
	if !result.Exists() {
		return 0, fmt.Errorf("ingest response missing received field: %s", string(respBody))
	}

	return result.Int(), nil
}

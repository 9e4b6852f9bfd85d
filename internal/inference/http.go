package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxResponseBytes caps how much of an inference response is read. A score
// list is tiny; anything near this limit is already malformed.
const maxResponseBytes = 1 << 20

// HTTPClient invokes a classification model over HTTP: it POSTs the raw image
// bytes with the declared content type and expects a JSON array of numbers.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client for the given endpoint URL. A zero timeout
// leaves cancellation entirely to the caller's context.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("inference"),
	}
}

// Classify implements Client.
func (c *HTTPClient) Classify(ctx context.Context, contentType string, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("invoke endpoint: %w", err)
		}
		c.logger.Error("endpoint unreachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, payload)
	}

	scores, err := decodeScores(payload)
	if err != nil {
		c.logger.Error("undecodable inference response",
			zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, err
	}
	return scores, nil
}

// statusError classifies a non-200 answer: server-side failures and
// throttling are transient, everything else is a contract mismatch.
func (c *HTTPClient) statusError(status int, payload []byte) error {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		c.logger.Warn("endpoint returned transient failure", zap.Int("status", status))
		return fmt.Errorf("%w: endpoint returned %d", ErrUnavailable, status)
	}
	c.logger.Error("endpoint rejected invocation",
		zap.Int("status", status), zap.ByteString("body", payload))
	return fmt.Errorf("%w: endpoint returned %d", ErrMalformedResponse, status)
}

func decodeScores(payload []byte) ([]float64, error) {
	var scores []float64
	if err := json.Unmarshal(payload, &scores); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: empty score list", ErrMalformedResponse)
	}
	for i, score := range scores {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("%w: score %d out of range: %f", ErrMalformedResponse, i, score)
		}
	}
	return scores, nil
}

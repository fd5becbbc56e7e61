// Package forecast provides the client for the external prediction service.
//
// The service is treated as an opaque model server: it receives an ordered
// numeric feature vector and returns a predicted near-future demand value.
// Any forecasting logic (training, model selection, artifact swaps) lives
// behind that HTTP contract, not here.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/HatiCode/scalecast/pkg/features"
)

// Provenance classifies where a forecast value came from.
type Provenance string

const (
	// SourceFresh marks a forecast produced this cycle, or a cached one
	// still within the staleness window.
	SourceFresh Provenance = "fresh"
	// SourceCached marks a stale-but-retained forecast.
	SourceCached Provenance = "cached"
	// SourceFallback marks a synthesized forecast (no usable cache entry).
	SourceFallback Provenance = "fallback"
)

// Forecast is the predicted near-future demand for one instance.
type Forecast struct {
	Instance       string     `json:"instance"`
	PredictedValue float64    `json:"predictedValue"`
	AsOf           time.Time  `json:"asOf"`
	Source         Provenance `json:"source"`
	// Degraded propagates the feature vector's partial-data flag.
	Degraded bool `json:"degraded,omitempty"`
}

// FailureKind classifies why a prediction attempt failed.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureUnreachable     FailureKind = "unreachable"
	FailureInvalidResponse FailureKind = "invalid_response"
)

// UnavailableError is returned after the retry budget for one cycle is
// exhausted. The loop treats it as per-instance and non-fatal: the cache's
// previous entry stays in place.
type UnavailableError struct {
	Kind FailureKind
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("forecast unavailable (%s): %v", e.Kind, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client calls the external prediction service over HTTP.
type Client struct {
	endpoint string
	timeout  time.Duration
	backoff  time.Duration
	client   *http.Client
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction []float64 `json:"prediction"`
}

// NewClient creates a prediction client. timeout bounds each attempt
// (default 5s); backoff is the fixed pause before the single retry
// (default 500ms). If httpClient is nil a default transport is used.
func NewClient(endpoint string, timeout, backoff time.Duration, httpClient *http.Client) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("forecast: endpoint is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}

	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		backoff:  backoff,
		client:   httpClient,
	}, nil
}

// Predict sends the feature vector to the prediction service and returns a
// fresh forecast. Each failure kind (timeout, unreachable, invalid
// response) is retried at most once after a fixed backoff; a second
// failure surfaces as a single *UnavailableError. Predict never blocks
// longer than one timeout-and-retry window.
func (c *Client) Predict(ctx context.Context, vec features.Vector) (Forecast, error) {
	if len(vec.Values) == 0 {
		return Forecast{}, &UnavailableError{
			Kind: FailureInvalidResponse,
			Err:  errors.New("empty feature vector"),
		}
	}

	value, kind, err := c.attempt(ctx, vec.Values)
	if err != nil {
		select {
		case <-ctx.Done():
			return Forecast{}, &UnavailableError{Kind: kind, Err: err}
		case <-time.After(c.backoff):
		}

		var kind2 FailureKind
		value, kind2, err = c.attempt(ctx, vec.Values)
		if err != nil {
			return Forecast{}, &UnavailableError{Kind: kind2, Err: err}
		}
	}

	return Forecast{
		Instance:       vec.Instance,
		PredictedValue: value,
		AsOf:           time.Now().UTC(),
		Source:         SourceFresh,
		Degraded:       vec.Degraded,
	}, nil
}

// attempt performs one bounded call against the prediction service.
func (c *Client) attempt(ctx context.Context, values []float64) (float64, FailureKind, error) {
	body, err := json.Marshal(predictRequest{Features: values})
	if err != nil {
		return 0, FailureInvalidResponse, fmt.Errorf("marshal request: %w", err)
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, FailureUnreachable, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || actx.Err() == context.DeadlineExceeded {
			return 0, FailureTimeout, fmt.Errorf("prediction request timed out after %s: %w", c.timeout, err)
		}
		return 0, FailureUnreachable, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, FailureInvalidResponse, fmt.Errorf("prediction service status %d: %s", resp.StatusCode, string(errBody))
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, FailureInvalidResponse, fmt.Errorf("decode prediction response: %w", err)
	}

	if len(pr.Prediction) == 0 {
		return 0, FailureInvalidResponse, errors.New("prediction response is empty")
	}

	value := pr.Prediction[0]
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, FailureInvalidResponse, fmt.Errorf("prediction out of range: %v", value)
	}

	return value, "", nil
}

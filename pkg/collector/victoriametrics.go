package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// VictoriaMetricsSource evaluates instant queries against VictoriaMetrics
// via its Prometheus-compatible HTTP API. It issues a /api/v1/query call
// and returns one InstantSample per result series.
type VictoriaMetricsSource struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// InstanceLabel is the label holding the instance identity (defaults to "instance").
	InstanceLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsSource) Name() string { return "victoria-metrics" }

// Query implements Source. It evaluates the MetricsQL/PromQL expression at
// the current time and returns (instance, value) pairs. It respects the
// provided context for cancellation and deadlines.
func (v *VictoriaMetricsSource) Query(ctx context.Context, expr string) ([]InstantSample, error) {
	if v.ServerURL == "" {
		return nil, errors.New("victoria metrics source: ServerURL is required")
	}
	if expr == "" {
		return nil, errors.New("victoria metrics source: expression is required")
	}

	u, err := url.Parse(v.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", expr)
	q.Set("time", fmt.Sprintf("%d", time.Now().Unix()))
	u.RawQuery = q.Encode()

	cli := v.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("victoria-metrics: status %d", resp.StatusCode)
	}

	// VictoriaMetrics returns Prometheus-compatible responses
	var pr PrometheusInstantResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode victoria-metrics response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("victoria-metrics status: %s", pr.Status)
	}

	label := v.InstanceLabel
	if label == "" {
		label = "instance"
	}

	return SamplesFromVector(pr.Data.Result, label)
}

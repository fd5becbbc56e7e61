package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusSource evaluates instant queries against the Prometheus HTTP API.
// It issues a /api/v1/query call and returns one InstantSample per result
// series, using the "instance" label as the instance key.
type PrometheusSource struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// InstanceLabel is the label holding the instance identity (defaults to "instance").
	InstanceLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusSource) Name() string { return "prometheus" }

// Query implements Source. It evaluates expr at the current time and returns
// the resulting vector as (instance, value) pairs. It respects the provided
// context for cancellation and deadlines.
func (p *PrometheusSource) Query(ctx context.Context, expr string) ([]InstantSample, error) {
	if p.ServerURL == "" {
		return nil, errors.New("prometheus source: ServerURL is required")
	}
	if expr == "" {
		return nil, errors.New("prometheus source: expression is required")
	}

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", expr)
	q.Set("time", fmt.Sprintf("%d", time.Now().Unix()))
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
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
		return nil, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr PrometheusInstantResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("prometheus status: %s", pr.Status)
	}

	label := p.InstanceLabel
	if label == "" {
		label = "instance"
	}

	return SamplesFromVector(pr.Data.Result, label)
}

// PrometheusInstantResponse represents an instant query response from
// Prometheus (and compatible systems).
type PrometheusInstantResponse struct {
	Status string                `json:"status"`
	Data   PrometheusInstantData `json:"data"`
}

// PrometheusInstantData contains the result data from an instant query.
type PrometheusInstantData struct {
	ResultType string                  `json:"resultType"`
	Result     []PrometheusVectorEntry `json:"result"`
}

// PrometheusVectorEntry is a single series in an instant vector result.
type PrometheusVectorEntry struct {
	Metric map[string]string `json:"metric"`
	// Value is [ <unix_time_float>, "<value_string>" ]
	Value []any `json:"value"`
}

// SamplesFromVector converts an instant vector result into samples, taking
// the instance identity from the given label. Series missing the label are
// rejected rather than silently merged.
func SamplesFromVector(entries []PrometheusVectorEntry, instanceLabel string) ([]InstantSample, error) {
	samples := make([]InstantSample, 0, len(entries))
	for _, e := range entries {
		instance, ok := e.Metric[instanceLabel]
		if !ok || instance == "" {
			return nil, fmt.Errorf("series missing %q label", instanceLabel)
		}

		if len(e.Value) != 2 {
			return nil, fmt.Errorf("invalid value pair length: %d", len(e.Value))
		}

		var val float64
		switch vv := e.Value[1].(type) {
		case string:
			f, err := strconv.ParseFloat(vv, 64)
			if err != nil {
				return nil, fmt.Errorf("parse value: %w", err)
			}
			val = f
		case float64:
			val = vv
		case json.Number:
			f, _ := vv.Float64()
			val = f
		default:
			return nil, fmt.Errorf("unexpected value type %T", vv)
		}

		samples = append(samples, InstantSample{Instance: instance, Value: val})
	}
	return samples, nil
}

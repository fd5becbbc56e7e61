package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrometheusSource_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "sum(rate(http_requests_total[1m])) by (instance)" {
			t.Errorf("unexpected query: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"instance": "node-1:9100"}, "value": [1700000000, "12.5"]},
					{"metric": {"instance": "node-2:9100"}, "value": [1700000000, "7.25"]}
				]
			}
		}`))
	}))
	defer server.Close()

	src := &PrometheusSource{ServerURL: server.URL}

	samples, err := src.Query(context.Background(), "sum(rate(http_requests_total[1m])) by (instance)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0].Instance != "node-1:9100" || samples[0].Value != 12.5 {
		t.Errorf("samples[0] = %+v", samples[0])
	}
	if samples[1].Instance != "node-2:9100" || samples[1].Value != 7.25 {
		t.Errorf("samples[1] = %+v", samples[1])
	}
}

func TestPrometheusSource_Query_CustomInstanceLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"pod": "web-abc123"}, "value": [1700000000, "3"]}
				]
			}
		}`))
	}))
	defer server.Close()

	src := &PrometheusSource{ServerURL: server.URL, InstanceLabel: "pod"}

	samples, err := src.Query(context.Background(), "up")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(samples) != 1 || samples[0].Instance != "web-abc123" || samples[0].Value != 3 {
		t.Errorf("samples = %+v", samples)
	}
}

func TestPrometheusSource_Query_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "prometheus error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status": "error", "data": {}}`))
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{not json`))
			},
		},
		{
			name: "series missing instance label",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{
					"status": "success",
					"data": {"resultType": "vector", "result": [
						{"metric": {"job": "node"}, "value": [1700000000, "1"]}
					]}
				}`))
			},
		},
		{
			name: "unparsable value",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{
					"status": "success",
					"data": {"resultType": "vector", "result": [
						{"metric": {"instance": "node-1"}, "value": [1700000000, "not-a-number"]}
					]}
				}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			src := &PrometheusSource{ServerURL: server.URL}
			if _, err := src.Query(context.Background(), "up"); err == nil {
				t.Error("Query() expected error, got nil")
			}
		})
	}
}

func TestPrometheusSource_Query_RequiresConfig(t *testing.T) {
	src := &PrometheusSource{}
	if _, err := src.Query(context.Background(), "up"); err == nil {
		t.Error("expected error for missing ServerURL")
	}

	src = &PrometheusSource{ServerURL: "http://localhost:9090"}
	if _, err := src.Query(context.Background(), ""); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestSamplesFromVector_EmptyResult(t *testing.T) {
	samples, err := SamplesFromVector(nil, "instance")
	if err != nil {
		t.Fatalf("SamplesFromVector() error = %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("len(samples) = %d, want 0", len(samples))
	}
}

package collector

import (
	"fmt"
)

// New creates a source based on kind and generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "prometheus": Prometheus instant-query source
//   - "victoriametrics": VictoriaMetrics instant-query source
//   - "http": Generic HTTP source
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string) (Source, error) {
	switch kind {
	case "prometheus":
		return newPrometheus(config)
	case "victoriametrics":
		return newVictoriaMetrics(config)
	case "http":
		return newHTTP(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be prometheus, victoriametrics, or http)", kind)
	}
}

// newPrometheus creates a Prometheus source from generic config.
func newPrometheus(config map[string]string) (Source, error) {
	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}

	return &PrometheusSource{
		ServerURL:     url,
		InstanceLabel: config["instanceLabel"],
	}, nil
}

// newVictoriaMetrics creates a VictoriaMetrics source from generic config.
func newVictoriaMetrics(config map[string]string) (Source, error) {
	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}

	return &VictoriaMetricsSource{
		ServerURL:     url,
		InstanceLabel: config["instanceLabel"],
	}, nil
}

// newHTTP creates a generic HTTP source from generic config.
func newHTTP(config map[string]string) (Source, error) {
	source := &HTTPSource{
		URL:          config["url"],
		Method:       config["method"],
		Body:         config["body"],
		InstancePath: config["instancePath"],
		ValuePath:    config["valuePath"],
	}

	if err := source.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source config: %w", err)
	}

	return source, nil
}

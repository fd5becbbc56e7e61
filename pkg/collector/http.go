package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSource is a generic source that can call any REST API endpoint and
// extract (instance, value) pairs using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body with variables: {{.Expr}}, {{.Now}}, {{.NowRFC3339}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - JSON path extraction for instances and values using gjson syntax
//
// Example configuration for a custom metrics API:
//
//	source := &HTTPSource{
//	    URL: "https://api.example.com/metrics",
//	    Method: "POST",
//	    Headers: map[string]string{
//	        "Authorization": "Bearer {{.Token}}",
//	        "Content-Type": "application/json",
//	    },
//	    Body: `{"metric": "{{.Expr}}"}`,
//	    InstancePath: "data.#.node",
//	    ValuePath: "data.#.value",
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports variables:
	//   {{.Expr}}       - the query expression being evaluated
	//   {{.Now}}        - current time as Unix timestamp
	//   {{.NowRFC3339}} - current time as RFC3339 string
	Body string

	// InstancePath is the gjson path to extract instance labels from the
	// response. Use "#" for arrays, e.g. "data.#.node".
	InstancePath string

	// ValuePath is the gjson path to extract metric values from the response.
	// Must return the same number of elements as InstancePath.
	ValuePath string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	// Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Query implements Source. It calls the configured HTTP endpoint and
// extracts (instance, value) pairs using the configured JSON paths.
func (h *HTTPSource) Query(ctx context.Context, expr string) ([]InstantSample, error) {
	if h.URL == "" {
		return nil, errors.New("http source: URL is required")
	}
	if h.InstancePath == "" || h.ValuePath == "" {
		return nil, errors.New("http source: InstancePath and ValuePath are required")
	}

	now := time.Now().UTC().Truncate(time.Second)
	templateData := map[string]any{
		"Expr":       expr,
		"Now":        now.Unix(),
		"NowRFC3339": now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	instances := gjson.GetBytes(respBody, h.InstancePath)
	values := gjson.GetBytes(respBody, h.ValuePath)

	if !instances.Exists() {
		return nil, fmt.Errorf("instance path %q not found in response", h.InstancePath)
	}
	if !values.Exists() {
		return nil, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}

	instArray := instances.Array()
	valArray := values.Array()

	if len(instArray) != len(valArray) {
		return nil, fmt.Errorf("instance count (%d) != value count (%d)", len(instArray), len(valArray))
	}

	samples := make([]InstantSample, 0, len(valArray))
	for i := range valArray {
		instance := instArray[i].String()
		if instance == "" {
			return nil, fmt.Errorf("empty instance label at index %d", i)
		}
		samples = append(samples, InstantSample{
			Instance: instance,
			Value:    valArray[i].Float(),
		})
	}

	return samples, nil
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the source configuration is valid
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.InstancePath == "" {
		return errors.New("instancePath is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	return nil
}

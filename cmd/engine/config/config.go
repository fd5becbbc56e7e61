// Package config provides configuration parsing and management for the engine.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence over environment variables. The Config struct contains
// all runtime configuration for the engine including:
//   - Metrics source settings (kind, URL, per-metric query expressions)
//   - Feature settings (metric order, normalization parameters path)
//   - Prediction service settings (endpoint, timeout, retry backoff)
//   - Signal cache policy (staleness window, hard ceiling, fallback default)
//   - Store backend (memory or redis)
//   - Timing configuration (collection interval, query timeout)
//   - Logging configuration (level, format)
//   - TLS configuration (cert, key, CA files)
//
// Per-metric query expressions are provided via environment variables with
// the QUERY_ prefix; the suffix, lowercased, is the metric name:
//
//	QUERY_CPU_USAGE='sum(rate(container_cpu_usage_seconds_total[2m])) by (instance)'
//
// Source-specific configuration uses the SOURCE_ prefix with camelCase keys
// (SOURCE_URL -> url, SOURCE_INSTANCE_LABEL -> instanceLabel).
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/HatiCode/scalecast/pkg/tls"
)

// DefaultMetrics is the metric order used when -metrics is not given. It
// mirrors the telemetry set the prediction model was trained on.
var DefaultMetrics = []string{"cpu_usage", "memory_usage", "network_io", "request_count"}

// Config holds all engine configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TLS tls.Config

	SourceKind   string
	SourceConfig map[string]string

	Metrics      []string
	Queries      map[string]string
	TargetMetric string
	ParamsPath   string

	PredictURL     string
	PredictTimeout time.Duration
	PredictBackoff time.Duration

	Interval     time.Duration
	QueryTimeout time.Duration

	MaxStaleness     time.Duration
	StalenessCeiling time.Duration
	FallbackDefault  float64
	SignalName       string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Signal store backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server and prediction client")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for peer verification")

	flag.StringVar(&cfg.SourceKind, "source", getEnv("SOURCE", "prometheus"), "Metrics source kind: prometheus, victoriametrics, or http")

	var metricsList string
	flag.StringVar(&metricsList, "metrics", getEnv("METRICS", strings.Join(DefaultMetrics, ",")), "Comma-separated ordered metric names (feature order)")
	flag.StringVar(&cfg.TargetMetric, "target-metric", getEnv("TARGET_METRIC", "request_count"), "Metric treated as observed demand (fallback source)")
	flag.StringVar(&cfg.ParamsPath, "normalization-params", getEnv("NORMALIZATION_PARAMS", ""), "Path to JSON normalization parameters (required)")

	flag.StringVar(&cfg.PredictURL, "predict-url", getEnv("PREDICT_URL", ""), "Prediction service endpoint (required)")
	flag.DurationVar(&cfg.PredictTimeout, "predict-timeout", getEnvDuration("PREDICT_TIMEOUT", 5*time.Second), "Per-attempt prediction timeout")
	flag.DurationVar(&cfg.PredictBackoff, "predict-backoff", getEnvDuration("PREDICT_BACKOFF", 500*time.Millisecond), "Fixed backoff before the single retry")

	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 60*time.Second), "Collection cycle interval")
	flag.DurationVar(&cfg.QueryTimeout, "query-timeout", getEnvDuration("QUERY_TIMEOUT", 10*time.Second), "Per-query metrics source timeout")

	flag.DurationVar(&cfg.MaxStaleness, "max-staleness", getEnvDuration("MAX_STALENESS", 0), "Age up to which a cached forecast reads as fresh (default 2x interval)")
	flag.DurationVar(&cfg.StalenessCeiling, "staleness-ceiling", getEnvDuration("STALENESS_CEILING", 0), "Age beyond which a cached forecast is abandoned (default 10x interval)")
	flag.Float64Var(&cfg.FallbackDefault, "fallback-default", getEnvFloat("FALLBACK_DEFAULT", 1.0), "Signal value when no demand was ever observed (must be > 0)")
	flag.StringVar(&cfg.SignalName, "signal-name", getEnv("SIGNAL_NAME", "scalecast_predicted_demand"), "Published signal metric name")

	flag.Parse()

	cfg.Metrics = splitList(metricsList)
	cfg.Queries = parsePrefixedEnv("QUERY_", strings.ToLower)
	cfg.SourceConfig = parsePrefixedEnv("SOURCE_", toLowerCamelCase)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	return cfg
}

var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate fills defaults derived from other fields and rejects invalid
// configuration. Configuration errors are fatal at startup, never recovered
// at runtime.
func (c *Config) Validate() error {
	if len(c.Metrics) == 0 {
		return fmt.Errorf("at least one metric is required")
	}

	for _, m := range c.Metrics {
		if !metricNameRegex.MatchString(m) {
			return fmt.Errorf("invalid metric name %q", m)
		}
		if c.Queries[m] == "" {
			return fmt.Errorf("no query configured for metric %q (set QUERY_%s)", m, strings.ToUpper(m))
		}
	}

	found := false
	for _, m := range c.Metrics {
		if m == c.TargetMetric {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("target metric %q is not in the metric set", c.TargetMetric)
	}

	if c.ParamsPath == "" {
		return fmt.Errorf("--normalization-params is required")
	}

	if c.PredictURL == "" {
		return fmt.Errorf("--predict-url is required")
	}

	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}

	if c.MaxStaleness <= 0 {
		c.MaxStaleness = 2 * c.Interval
	}
	if c.StalenessCeiling <= 0 {
		c.StalenessCeiling = 10 * c.Interval
	}
	if c.StalenessCeiling <= c.MaxStaleness {
		return fmt.Errorf("staleness ceiling (%v) must exceed max staleness (%v)", c.StalenessCeiling, c.MaxStaleness)
	}

	if c.FallbackDefault <= 0 {
		return fmt.Errorf("fallback default must be > 0 (a zero signal reads as no demand)")
	}

	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}

	if !metricNameRegex.MatchString(c.SignalName) {
		return fmt.Errorf("invalid signal name %q", c.SignalName)
	}

	return nil
}

// parsePrefixedEnv parses environment variables with the given prefix into
// a map, transforming the suffix with keyFn.
// For example: QUERY_CPU_USAGE -> cpu_usage, SOURCE_INSTANCE_LABEL -> instanceLabel.
func parsePrefixedEnv(prefix string, keyFn func(string) string) map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		if len(env) > len(prefix) && env[:len(prefix)] == prefix {
			parts := splitEnv(env)
			if len(parts) == 2 {
				key := keyFn(parts[0][len(prefix):])
				config[key] = parts[1]
			}
		}
	}

	return config
}

func splitEnv(env string) []string {
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			return []string{env[:i], env[i+1:]}
		}
	}
	return []string{env}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toLowerCamelCase(s string) string {
	if s == "" {
		return s
	}
	parts := []rune(s)
	result := make([]rune, 0, len(parts))
	nextUpper := false
	for i, r := range parts {
		if r == '_' {
			nextUpper = true
			continue
		}
		if i == 0 {
			result = append(result, toLower(r))
		} else if nextUpper {
			result = append(result, r)
			nextUpper = false
		} else {
			result = append(result, toLower(r))
		}
	}
	return string(result)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// Command engine implements the scalecast adaptive scaling decision engine.
//
// The engine runs a continuous control loop that:
//  1. Samples per-instance telemetry from a metrics source
//  2. Maintains per-instance feature windows with forward-fill and normalization
//  3. Obtains a demand forecast per instance from the prediction service
//  4. Caches the last-known-good forecast with a staleness policy
//  5. Publishes the cached signal for the external autoscaler to pull
//
// The engine serves an HTTP API on port 8081 (configurable) providing:
//   - GET /signal - Published scaling signal (Prometheus text format)
//   - GET /forecast/current?instance=<key> - Latest forecast as JSON
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Engine operational metrics
//
// Usage:
//
//	engine \
//	  -source=prometheus \
//	  -predict-url=http://predictor:8500/predict \
//	  -normalization-params=/etc/scalecast/params.json \
//	  -interval=60s
//
// Environment variables:
//
//	SOURCE               - Metrics source kind (prometheus, victoriametrics, http)
//	SOURCE_URL           - Metrics source base URL
//	QUERY_<METRIC>       - Query expression per metric, e.g. QUERY_CPU_USAGE
//	METRICS              - Ordered metric names (default: cpu_usage,memory_usage,network_io,request_count)
//	TARGET_METRIC        - Demand metric backing the fallback (default: request_count)
//	NORMALIZATION_PARAMS - Path to JSON normalization parameters (required)
//	PREDICT_URL          - Prediction service endpoint (required)
//	INTERVAL             - Collection cycle interval (default: 60s)
//	MAX_STALENESS        - Fresh window for cached forecasts (default: 2x interval)
//	STALENESS_CEILING    - Hard staleness ceiling (default: 10x interval)
//	FALLBACK_DEFAULT     - Signal value when no demand observed (default: 1.0)
//	STORAGE              - Signal store backend: memory or redis (default: memory)
//	LOG_LEVEL            - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT           - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/scalecast/cmd/engine/config"
	"github.com/HatiCode/scalecast/cmd/engine/logger"
	"github.com/HatiCode/scalecast/cmd/engine/metrics"
	"github.com/HatiCode/scalecast/cmd/engine/router"
	"github.com/HatiCode/scalecast/pkg/collector"
	"github.com/HatiCode/scalecast/pkg/features"
	"github.com/HatiCode/scalecast/pkg/forecast"
	"github.com/HatiCode/scalecast/pkg/httpx"
	signalpkg "github.com/HatiCode/scalecast/pkg/signal"
	scalecasttls "github.com/HatiCode/scalecast/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting scalecast engine",
		"version", version,
		"source", cfg.SourceKind,
		"metrics", cfg.Metrics,
		"interval", cfg.Interval,
	)

	if err := cfg.TLS.Validate(); err != nil {
		log.Error("invalid TLS configuration", "error", err)
		os.Exit(1)
	}

	params, err := features.LoadParams(cfg.ParamsPath, cfg.Metrics)
	if err != nil {
		log.Error("failed to load normalization parameters", "error", err)
		os.Exit(1)
	}

	source, err := collector.New(cfg.SourceKind, cfg.SourceConfig)
	if err != nil {
		log.Error("failed to create metrics source", "error", err)
		os.Exit(1)
	}

	coll, err := collector.NewCollector(source, cfg.Metrics, cfg.Queries, cfg.QueryTimeout, log)
	if err != nil {
		log.Error("failed to create collector", "error", err)
		os.Exit(1)
	}

	window := features.NewWindow(cfg.Metrics, params, log)

	predictHTTP, err := httpx.NewClient(cfg.TLS, 0)
	if err != nil {
		log.Error("failed to create prediction HTTP client", "error", err)
		os.Exit(1)
	}

	client, err := forecast.NewClient(cfg.PredictURL, cfg.PredictTimeout, cfg.PredictBackoff, predictHTTP)
	if err != nil {
		log.Error("failed to create forecast client", "error", err)
		os.Exit(1)
	}

	store := newStore(cfg, log)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	cache, err := signalpkg.NewCache(store, cfg.MaxStaleness, cfg.StalenessCeiling, cfg.FallbackDefault, log)
	if err != nil {
		log.Error("failed to create signal cache", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	signalRegistry := prometheus.NewRegistry()
	publisher := signalpkg.NewPublisher(cache, cfg.SignalName, log)
	signalRegistry.MustRegister(publisher)

	engine := NewEngine(coll, window, client, cache, cfg.TargetMetric, cfg.Interval, log, m)

	mux := router.SetupRoutes(cache, signalRegistry, m.Registry(), log)
	handler := httpx.RecoveryMiddleware(log)(httpx.LoggingMiddleware(log)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Error("control loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			tlsConfig, err := scalecasttls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
			if err != nil {
				serverErr <- err
				return
			}
			httpServer.SetTLSConfig(tlsConfig)
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// newStore creates the configured signal store backend.
func newStore(cfg *config.Config, log *slog.Logger) signalpkg.Store {
	switch cfg.Storage {
	case "redis":
		store, err := signalpkg.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StalenessCeiling)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		log.Info("using redis signal store", "addr", cfg.RedisAddr)
		return store
	default:
		return signalpkg.NewMemoryStore()
	}
}

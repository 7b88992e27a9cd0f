package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-level metrics exposed alongside the OpenTelemetry instruments.

var (
	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bsm",
			Name:      "build_info",
			Help:      "Build metadata, always 1",
		},
		[]string{"version", "environment"},
	)

	uptimeSeconds = promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "bsm",
			Name:      "uptime_seconds_total",
			Help:      "Seconds since process start",
		},
		func() float64 { return time.Since(processStart).Seconds() },
	)

	processStart = time.Now()
)

// SetBuildInfo records the running version labels.
func SetBuildInfo(version, environment string) {
	buildInfo.WithLabelValues(version, environment).Set(1)
}

// serveMetrics exposes the Prometheus scrape endpoint and a liveness probe.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Info("metrics listener started", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener failed", "error", err)
	}
}

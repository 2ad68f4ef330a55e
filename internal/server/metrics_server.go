package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/devrev/pairdb/transfer/internal/metrics"
	"github.com/devrev/pairdb/transfer/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ProgressFunc returns a JSON-encodable snapshot of transfer progress
type ProgressFunc func() interface{}

// MetricsServer serves Prometheus metrics and transfer progress via HTTP
type MetricsServer struct {
	httpServer *http.Server
	listener   net.Listener
	metrics    *metrics.Metrics
	progress   ProgressFunc
	logger     *zap.Logger
	dataDir    string
	interval   time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
	// DataDir is the directory whose filesystem is reported; empty disables disk stats
	DataDir string
	// StatsInterval is how often system stats are collected
	StatsInterval time.Duration
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, gatherer prometheus.Gatherer, progress ProgressFunc, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 15 * time.Second
	}

	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		progress: progress,
		logger:   logger,
		dataDir:  cfg.DataDir,
		interval: cfg.StatsInterval,
		stopChan: make(chan struct{}),
	}

	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)
	mux.HandleFunc("/progress", ms.progressHandler)

	return ms
}

// Handler returns the HTTP handler serving every endpoint
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the port and serves in the background
func (s *MetricsServer) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Starting metrics server", zap.String("addr", listener.Addr().String()))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *MetricsServer) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping metrics server")
		close(s.stopChan)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("metrics server shutdown failed: %w", shutdownErr)
		}
	})
	return err
}

// healthHandler handles health check requests
func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// readyHandler reports not ready when the output filesystem is nearly full
func (s *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.dataDir == "" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
		return
	}

	usage, err := diskmanager.Stat(s.dataDir)
	if err != nil {
		s.logger.Error("Failed to get disk stats", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","reason":"disk_stats_unavailable"}`)
		return
	}

	diskUsagePercent := usage.UsagePercent
	if diskUsagePercent > 90.0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","reason":"disk_full","disk_usage_percent":%.2f}`, diskUsagePercent)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","timestamp":"%s","disk_usage_percent":%.2f}`,
		time.Now().Format(time.RFC3339), diskUsagePercent)
}

// progressHandler returns the current progress snapshot as JSON
func (s *MetricsServer) progressHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.progress == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no transfer running"}`)
		return
	}

	if err := json.NewEncoder(w).Encode(s.progress()); err != nil {
		s.logger.Error("Failed to encode progress", zap.Error(err))
	}
}

// collectSystemMetrics periodically collects system-level metrics
func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

// updateSystemMetrics updates system-level metrics
func (s *MetricsServer) updateSystemMetrics() {
	if s.metrics == nil {
		return
	}

	var diskUsage, diskAvailable int64
	if s.dataDir != "" {
		usage, err := diskmanager.Stat(s.dataDir)
		if err != nil {
			s.logger.Warn("Failed to get disk stats", zap.Error(err))
		}
		diskUsage, diskAvailable = int64(usage.UsedBytes), int64(usage.AvailableBytes)
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(diskUsage, diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())
}

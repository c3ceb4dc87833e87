// Package daemon runs compliance scans on an interval and serves metrics and
// health endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/vigil/internal/emitter"
	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
)

// ScanFunc runs one scan. A report is expected whenever err is not a
// configuration error.
type ScanFunc func(ctx context.Context) (*compliance.ScanReport, error)

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string
}

// Daemon manages continuous compliance scanning
type Daemon struct {
	interval    time.Duration
	metricsAddr string
	scan        ScanFunc
	emit        emitter.Emitter
	metrics     *Metrics
	logger      *telemetry.Logger

	startTime time.Time
	scanCount atomic.Int64
	ready     atomic.Bool
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, scan ScanFunc, emit emitter.Emitter) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, &compliance.ConfigurationError{Reason: "daemon: interval must be positive"}
	}
	if scan == nil {
		return nil, &compliance.ConfigurationError{Reason: "daemon: no scan function"}
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}

	return &Daemon{
		interval:    config.Interval,
		metricsAddr: config.MetricsAddr,
		scan:        scan,
		emit:        emit,
		metrics:     metrics,
		logger:      telemetry.NewLogger("daemon"),
		startTime:   time.Now(),
	}, nil
}

// Run starts the scan loop, the HTTP server and a signal handler as one actor
// group. It returns when any of them stops.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.metricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.metricsAddr, err)
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		d.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start runs a scan immediately, then on every tick until ctx is done.
// Only configuration errors stop the loop.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.runScan(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.runScan(ctx); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) runScan(ctx context.Context) error {
	start := time.Now()
	report, err := d.scan(ctx)
	duration := time.Since(start)

	if compliance.IsConfiguration(err) {
		d.metrics.RecordScan(ctx, statusFailed, duration)
		return err
	}
	d.scanCount.Add(1)

	status := statusSuccess
	switch {
	case err != nil:
		status = statusFailed
		d.logger.Error().Err(err).Msg("scan failed")
	case report != nil && report.Cancelled:
		status = statusCancelled
	case report != nil && report.HasErrors():
		status = statusPartial
	}
	d.metrics.RecordScan(ctx, status, duration)

	if report == nil {
		return nil
	}
	d.metrics.RecordUnresolved(ctx, int64(report.Unresolved()))

	if d.emit != nil {
		if err := d.emit.Emit(ctx, report); err != nil {
			d.logger.Error().Err(err).Str("run_id", report.RunID).Msg("emit failed")
		}
	}

	if status != statusFailed {
		d.ready.Store(true)
	}
	return nil
}

// Handler serves /metrics, /healthz and /readyz.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	return mux
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(d.Health()); err != nil {
		d.logger.Warn().Err(err).Msg("write health response")
	}
}

func (d *Daemon) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no completed scan"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Scans:  d.scanCount.Load(),
		Ready:  d.ready.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
	Scans  int64  `json:"scans"`
	Ready  bool   `json:"ready"`
}

// ScanCount returns total scans run
func (d *Daemon) ScanCount() int64 {
	return d.scanCount.Load()
}

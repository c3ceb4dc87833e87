package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

type countingEmitter struct {
	emits atomic.Int32
}

func (c *countingEmitter) Emit(context.Context, *compliance.ScanReport) error {
	c.emits.Add(1)
	return nil
}

func (c *countingEmitter) Close() error { return nil }

func okScan(context.Context) (*compliance.ScanReport, error) {
	return &compliance.ScanReport{
		RunID: "run",
		Kinds: []resource.Kind{resource.KindBucket},
		Entries: []compliance.Verdict{
			compliance.Violation("public_exposure", resource.Resource{Kind: resource.KindBucket, ID: "b2"}, "public exposure", compliance.Action{}),
		},
	}, nil
}

func TestNewDaemon_Validation(t *testing.T) {
	_, err := NewDaemon(Config{Interval: 0}, okScan, nil)
	assert.True(t, compliance.IsConfiguration(err))

	_, err = NewDaemon(Config{Interval: time.Minute}, nil, nil)
	assert.True(t, compliance.IsConfiguration(err))

	d, err := NewDaemon(Config{Interval: time.Minute, MetricsAddr: ":0"}, okScan, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d.interval)
	assert.NotNil(t, d.metrics)
}

func TestDaemon_StartScansImmediatelyAndOnTick(t *testing.T) {
	emit := &countingEmitter{}
	d, err := NewDaemon(Config{Interval: 20 * time.Millisecond}, okScan, emit)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.ScanCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.GreaterOrEqual(t, emit.emits.Load(), int32(3))
	assert.True(t, d.Health().Ready)
}

func TestDaemon_ConfigurationErrorStopsLoop(t *testing.T) {
	scan := func(context.Context) (*compliance.ScanReport, error) {
		return nil, &compliance.ConfigurationError{Reason: "remediate mode requires a remediator"}
	}
	d, err := NewDaemon(Config{Interval: time.Hour}, scan, nil)
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.True(t, compliance.IsConfiguration(err))
	assert.Zero(t, d.ScanCount())
	assert.False(t, d.Health().Ready)
}

func TestDaemon_FailedScanKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	emit := &countingEmitter{}
	scan := func(context.Context) (*compliance.ScanReport, error) {
		calls.Add(1)
		return &compliance.ScanReport{RunID: "run"}, compliance.ErrAllPairsFailed
	}
	d, err := NewDaemon(Config{Interval: 10 * time.Millisecond}, scan, emit)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, d.Health().Ready, "never ready without a successful scan")
	assert.GreaterOrEqual(t, emit.emits.Load(), int32(1), "failed reports are still emitted")
}

func TestHandleHealthz(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute}, okScan, nil)
	require.NoError(t, err)
	require.NoError(t, d.runScan(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, int64(1), got.Scans)
	assert.True(t, got.Ready)
	assert.GreaterOrEqual(t, got.Uptime, int64(0))
}

func TestHandleReadyz(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute}, okScan, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no completed scan", w.Body.String())

	require.NoError(t, d.runScan(context.Background()))

	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandleMetrics(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute}, okScan, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDaemon_RunStopsWithContext(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Hour, MetricsAddr: "127.0.0.1:0"}, okScan, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.ScanCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run group did not stop")
	}
}

func TestDaemon_RunListenError(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Hour, MetricsAddr: "256.0.0.1:bad"}, okScan, nil)
	require.NoError(t, err)

	err = d.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

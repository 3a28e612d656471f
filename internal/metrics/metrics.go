// Package metrics wires OpenTelemetry instruments for the proxy's pool and
// mirror, exported through a Prometheus pull endpoint when configured. The
// instrument set and the read-metric, attribute-at-call-site style follow
// MrWong99-glyphoxa's internal/observe package; unlike glyphoxa this proxy
// has no tracing concern, so only the metrics half of that SDK is wired.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const meterName = "ica-mcp-proxy"

// Metrics holds the instruments the pool and mirror report through.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	PoolSessionsActive metric.Int64UpDownCounter
	PoolCallsTotal     metric.Int64Counter
	PoolCallDuration   metric.Float64Histogram
	MirrorToolsTotal   metric.Int64UpDownCounter
}

// New builds a Metrics instance backed by a fresh Prometheus-bridged
// MeterProvider, each with its own registry rather than the global default
// one — this keeps multiple Metrics instances (as in tests) from colliding
// over duplicate collector registration. Callers that never bind an HTTP
// listener still get working, in-process instruments — exporting is
// additive, never required.
func New() (*Metrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider, registry: registry}

	if m.PoolSessionsActive, err = meter.Int64UpDownCounter("pool_sessions_active",
		metric.WithDescription("Number of upstream sessions currently started.")); err != nil {
		return nil, err
	}
	if m.PoolCallsTotal, err = meter.Int64Counter("pool_calls_total",
		metric.WithDescription("Total tool calls dispatched through the pool, tagged by server and outcome.")); err != nil {
		return nil, err
	}
	if m.PoolCallDuration, err = meter.Float64Histogram("pool_call_duration_seconds",
		metric.WithDescription("Tool call latency as observed by the pool."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.MirrorToolsTotal, err = meter.Int64UpDownCounter("mirror_tools_total",
		metric.WithDescription("Number of tools currently present in the mirror.")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCall records one completed tool call's outcome and latency.
func (m *Metrics) RecordCall(ctx context.Context, server, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("outcome", outcome),
	)
	m.PoolCallsTotal.Add(ctx, 1, attrs)
	m.PoolCallDuration.Record(ctx, seconds, attrs)
}

// SessionStarted/SessionStopped adjust the active-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) { m.PoolSessionsActive.Add(ctx, 1) }
func (m *Metrics) SessionStopped(ctx context.Context) { m.PoolSessionsActive.Add(ctx, -1) }

// SetMirrorSize reports the current mirror size as a delta from the last
// reported value, since Int64UpDownCounter only exposes Add.
func (m *Metrics) SetMirrorSize(ctx context.Context, delta int64) {
	if delta == 0 {
		return
	}
	m.MirrorToolsTotal.Add(ctx, delta)
}

// Handler returns the Prometheus scrape handler bound to this Metrics
// instance's own registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and releases the underlying MeterProvider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// Serve binds a plain net/http server exposing /metrics on addr and blocks
// until ctx is cancelled. Intended to be run in its own goroutine by the
// caller when ICA_MCP_PROXY_METRICS_ADDR is set; left uncalled otherwise.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

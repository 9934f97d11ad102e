// Package observability provides OpenTelemetry-based metrics instrumentation
// with a Prometheus exporter for the pixel SDK and the collector.
package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module holds the OTel MeterProvider, its Prometheus registry and the
// shared instruments.
type Module struct {
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter
	registry *promclient.Registry
	metrics  *Metrics
}

// New creates an observability Module. Each module owns its own Prometheus
// registry, so several modules can coexist in one process (tests, embedded
// collectors). The serviceName is used as the meter scope name.
func New(serviceName string) (*Module, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter(serviceName)

	metrics, err := NewMetrics(meter)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return &Module{
		provider: provider,
		meter:    meter,
		registry: registry,
		metrics:  metrics,
	}, nil
}

// Shutdown flushes and stops the MeterProvider.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// MetricsHandler serves this module's metrics in the Prometheus exposition
// format. Mount it at "/metrics".
func (m *Module) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Meter returns the OTel Meter for creating additional instruments.
func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}

// Metrics returns the shared instruments.
func (m *Module) Metrics() *Metrics {
	return m.metrics
}

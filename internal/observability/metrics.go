package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments shared by the pixel SDK and the
// collector. Instruments are created once at startup.
type Metrics struct {
	// Pixel buffer metrics
	EventsBuffered otelmetric.Int64Counter
	EventsDropped  otelmetric.Int64Counter
	EventsRequeued otelmetric.Int64Counter

	// Pixel transport metrics
	BatchesSent otelmetric.Int64Counter
	BatchSize   otelmetric.Int64Histogram
	SendLatency otelmetric.Float64Histogram

	// Scheduler metrics
	TaskRuns       otelmetric.Int64Counter
	TaskFailures   otelmetric.Int64Counter
	SchedulerKills otelmetric.Int64Counter

	// Collector HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Collector ingestion metrics
	CollectorAccepted   otelmetric.Int64Counter
	CollectorDuplicates otelmetric.Int64Counter
	CollectorRejected   otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	counters := []struct {
		dst  *otelmetric.Int64Counter
		name string
		desc string
	}{
		{&m.EventsBuffered, "pixel.events.buffered", "Events accepted into the pixel buffer"},
		{&m.EventsDropped, "pixel.events.dropped", "Events dropped because the pixel buffer was full"},
		{&m.EventsRequeued, "pixel.events.requeued", "Events put back into the buffer after a failed send"},
		{&m.BatchesSent, "pixel.batches.sent", "Batch send attempts by result"},
		{&m.TaskRuns, "scheduler.task.runs", "Scheduled task invocations"},
		{&m.TaskFailures, "scheduler.task.failures", "Scheduled task failures"},
		{&m.SchedulerKills, "scheduler.kills", "Scheduler kills triggered by a failure policy"},
		{&m.HTTPRequestTotal, "http.request.total", "Total HTTP requests"},
		{&m.HTTPRequestErrors, "http.request.errors", "HTTP request errors (4xx and 5xx)"},
		{&m.CollectorAccepted, "collector.events.accepted", "Events stored by the collector"},
		{&m.CollectorDuplicates, "collector.events.duplicates", "Duplicate events skipped by the collector"},
		{&m.CollectorRejected, "collector.events.rejected", "Malformed events rejected by the collector"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, otelmetric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.BatchSize, err = meter.Int64Histogram(
		"pixel.batch.size",
		otelmetric.WithDescription("Events per batch send"),
	)
	if err != nil {
		return nil, err
	}

	m.SendLatency, err = meter.Float64Histogram(
		"pixel.send.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Batch send latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: how long requests, polls and jobs take
// - Traffic: request, submission and poll throughput
// - Errors: failed jobs, escalations and HTTP errors
// - Saturation: active recording loops and dispatcher queue
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration         metric.Float64Histogram
	JobsSubmitted       metric.Int64Counter
	JobOutcomes         metric.Int64Counter
	JobsRemoved         metric.Int64Counter
	PollDuration        metric.Float64Histogram
	JobNotFoundTotal    metric.Int64Counter
	VideoTransitions    metric.Int64Counter
	RecordingLoopActive metric.Int64UpDownCounter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration   metric.Float64Histogram
	DispatcherDelivered  metric.Int64Counter
	DispatcherFailed     metric.Int64Counter
	DispatcherDropped    metric.Int64Counter
	DispatcherRequeued   metric.Int64Counter
	DispatcherQueueSize  metric.Int64Gauge
	DispatcherBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("recorder")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobDuration, err = meter.Float64Histogram(
		"recording_job_duration_seconds",
		metric.WithDescription("Time from job submission to settled outcome in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 900, 1800, 3600, 7200, 14400, 28800, 43200, 86400),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"recording_jobs_submitted_total",
		metric.WithDescription("Total number of jobs submitted to the compute backend"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobOutcomes, err = meter.Int64Counter(
		"recording_job_outcomes_total",
		metric.WithDescription("Settled job outcomes by resulting video status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsRemoved, err = meter.Int64Counter(
		"recording_jobs_removed_total",
		metric.WithDescription("Total number of finished jobs removed from the compute backend"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollDuration, err = meter.Float64Histogram(
		"recording_job_poll_duration_seconds",
		metric.WithDescription("Compute backend status query latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobNotFoundTotal, err = meter.Int64Counter(
		"recording_job_not_found_total",
		metric.WithDescription("In-job videos whose job is missing from the compute backend"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.VideoTransitions, err = meter.Int64Counter(
		"video_status_transitions_total",
		metric.WithDescription("Video status transitions written by the recorder"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RecordingLoopActive, err = meter.Int64UpDownCounter(
		"recording_loops_active",
		metric.WithDescription("Number of per-video control loops currently running (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a job accepted by the compute backend.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, downloader, backend string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(downloaderAttr(downloader), backendAttr(backend)))
}

// RecordJobCompleted records a settled job and the status it produced.
func (m *Metrics) RecordJobCompleted(ctx context.Context, downloader, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(downloaderAttr(downloader), videoStatusAttr(status))
	m.JobOutcomes.Add(ctx, 1, attrs)
	if durationSeconds > 0 {
		m.JobDuration.Record(ctx, durationSeconds, attrs)
	}
}

// RecordJobRemoved records a finished job deleted from the backend.
func (m *Metrics) RecordJobRemoved(ctx context.Context, backend string) {
	m.JobsRemoved.Add(ctx, 1, metric.WithAttributes(backendAttr(backend)))
}

// RecordPoll records one compute backend status query.
func (m *Metrics) RecordPoll(ctx context.Context, backend, phase string, durationSeconds float64) {
	m.PollDuration.Record(ctx, durationSeconds, metric.WithAttributes(backendAttr(backend), phaseAttr(phase)))
}

// RecordJobNotFound records an in-job video without a backend job.
func (m *Metrics) RecordJobNotFound(ctx context.Context, downloader string) {
	m.JobNotFoundTotal.Add(ctx, 1, metric.WithAttributes(downloaderAttr(downloader)))
}

// RecordTransition records a video status write.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.VideoTransitions.Add(ctx, 1, metric.WithAttributes(fromAttr(from), videoStatusAttr(to)))
}

// RecordLoopStarted records a per-video control loop starting.
func (m *Metrics) RecordLoopStarted(ctx context.Context) {
	m.RecordingLoopActive.Add(ctx, 1)
}

// RecordLoopStopped records a per-video control loop exiting.
func (m *Metrics) RecordLoopStopped(ctx context.Context) {
	m.RecordingLoopActive.Add(ctx, -1)
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}

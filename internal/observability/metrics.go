package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the agent's instruments:
// - Remote: latency, traffic and errors of registry calls
// - Downloads: per-file latency, traffic, failures and in-flight transfers
// - Uploads: archive upload latency and size
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	RemoteRequestDuration metric.Float64Histogram
	RemoteRequestsTotal   metric.Int64Counter
	RemoteErrorsTotal     metric.Int64Counter

	DownloadDuration      metric.Float64Histogram
	DownloadsTotal        metric.Int64Counter
	DownloadFailuresTotal metric.Int64Counter
	DownloadBytesTotal    metric.Int64Counter
	DownloadsActive       metric.Int64UpDownCounter

	UploadDuration metric.Float64Histogram
	UploadBytes    metric.Int64Histogram
}

// NewMetrics creates all metrics behind a Prometheus exporter with its own registry.
// The returned handler serves that registry in the Prometheus text format.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("cloudagent")
	m := &Metrics{meter: meter}

	m.RemoteRequestDuration, err = meter.Float64Histogram(
		"remote_request_duration_seconds",
		metric.WithDescription("Registry request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RemoteRequestsTotal, err = meter.Int64Counter(
		"remote_requests_total",
		metric.WithDescription("Total number of registry requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RemoteErrorsTotal, err = meter.Int64Counter(
		"remote_errors_total",
		metric.WithDescription("Total number of registry requests that failed or returned status >= 300"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadDuration, err = meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Product download latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsTotal, err = meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of product downloads attempted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadFailuresTotal, err = meter.Int64Counter(
		"download_failures_total",
		metric.WithDescription("Total number of failed product downloads"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadBytesTotal, err = meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Total bytes written by product downloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsActive, err = meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of transfers currently in flight (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadDuration, err = meter.Float64Histogram(
		"upload_duration_seconds",
		metric.WithDescription("Archive upload latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadBytes, err = meter.Int64Histogram(
		"upload_bytes",
		metric.WithDescription("Size of uploaded archives in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordRemoteRequest records a registry call. statusCode is 0 when no response arrived.
func (m *Metrics) RecordRemoteRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.RemoteRequestDuration.Record(ctx, durationSeconds, attrs)
	m.RemoteRequestsTotal.Add(ctx, 1, attrs)

	if statusCode == 0 || statusCode >= 300 {
		m.RemoteErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDownloadStarted marks a transfer as in flight.
func (m *Metrics) RecordDownloadStarted(ctx context.Context, host string) {
	if m == nil {
		return
	}
	m.DownloadsActive.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
}

// RecordDownloadCompleted records a finished transfer (success or failure).
func (m *Metrics) RecordDownloadCompleted(ctx context.Context, host string, bytes int64, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(hostAttr(host), successAttr(success))
	m.DownloadsActive.Add(ctx, -1, metric.WithAttributes(hostAttr(host)))
	m.DownloadDuration.Record(ctx, durationSeconds, attrs)
	m.DownloadsTotal.Add(ctx, 1, attrs)
	if bytes > 0 {
		m.DownloadBytesTotal.Add(ctx, bytes, metric.WithAttributes(hostAttr(host)))
	}
	if !success {
		m.DownloadFailuresTotal.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
	}
}

// RecordUpload records an archive upload.
func (m *Metrics) RecordUpload(ctx context.Context, bytes int64, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(successAttr(success))
	m.UploadDuration.Record(ctx, durationSeconds, attrs)
	m.UploadBytes.Record(ctx, bytes, attrs)
}

package acquisition

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AcquisitionMetrics defines metrics operations needed by the acquisition service.
type AcquisitionMetrics interface {
	// Selection metrics
	IncDeviceSelections(ctx context.Context, outcome string)

	// Acquisition metrics
	IncAcquisitions(ctx context.Context, format string)
	IncAcquisitionErrors(ctx context.Context, kind string)
	ObserveAcquisitionDuration(ctx context.Context, duration time.Duration)
	ObserveImageSize(ctx context.Context, format string, sizeBytes int)
	SetAcquisitionInFlight(ctx context.Context, inFlight bool)
}

// acquisitionMetrics implements AcquisitionMetrics
type acquisitionMetrics struct {
	deviceSelections    metric.Int64Counter
	acquisitions        metric.Int64Counter
	acquisitionErrors   metric.Int64Counter
	acquisitionDuration metric.Float64Histogram
	imageSize           metric.Int64Histogram
	inFlight            metric.Int64UpDownCounter
}

const namespace = "scan_acquisition"

// NewAcquisitionMetrics creates a new acquisition metrics instance.
func NewAcquisitionMetrics(mp metric.MeterProvider) (*acquisitionMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(acquisitionMetrics)
	var err error

	if m.deviceSelections, err = meter.Int64Counter(
		"device_selections_total",
		metric.WithDescription("Total number of device selection attempts by outcome"),
	); err != nil {
		return nil, err
	}

	if m.acquisitions, err = meter.Int64Counter(
		"acquisitions_total",
		metric.WithDescription("Total number of images successfully acquired"),
	); err != nil {
		return nil, err
	}

	if m.acquisitionErrors, err = meter.Int64Counter(
		"acquisition_errors_total",
		metric.WithDescription("Total number of failed acquisitions by error kind"),
	); err != nil {
		return nil, err
	}

	if m.acquisitionDuration, err = meter.Float64Histogram(
		"acquisition_duration_seconds",
		metric.WithDescription("Time taken for a complete acquisition transaction"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 30, 60, 120),
	); err != nil {
		return nil, err
	}

	if m.imageSize, err = meter.Int64Histogram(
		"image_size_bytes",
		metric.WithDescription("Size of acquired images"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.inFlight, err = meter.Int64UpDownCounter(
		"acquisitions_in_flight",
		metric.WithDescription("Number of acquisitions currently holding the device"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *acquisitionMetrics) IncDeviceSelections(ctx context.Context, outcome string) {
	m.deviceSelections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *acquisitionMetrics) IncAcquisitions(ctx context.Context, format string) {
	m.acquisitions.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

func (m *acquisitionMetrics) IncAcquisitionErrors(ctx context.Context, kind string) {
	m.acquisitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *acquisitionMetrics) ObserveAcquisitionDuration(ctx context.Context, duration time.Duration) {
	m.acquisitionDuration.Record(ctx, duration.Seconds())
}

func (m *acquisitionMetrics) ObserveImageSize(ctx context.Context, format string, sizeBytes int) {
	m.imageSize.Record(ctx, int64(sizeBytes), metric.WithAttributes(attribute.String("format", format)))
}

func (m *acquisitionMetrics) SetAcquisitionInFlight(ctx context.Context, inFlight bool) {
	if inFlight {
		m.inFlight.Add(ctx, 1)
		return
	}
	m.inFlight.Add(ctx, -1)
}

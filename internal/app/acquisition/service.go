// Package acquisition provides the application services that drive a scanning device
// through a single capture transaction: selecting the device, configuring its primary
// surface and transferring the image.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
	"github.com/ahrav/scan-acquisition/pkg/common/otel"
)

// errEmptyTransfer marks a transfer that completed without image data, as a cancelled
// dialog does.
var errEmptyTransfer = errors.New("transfer produced no image")

// Service orchestrates image acquisition against a single HAL.
//
// A Service models one logical hardware resource. Acquire and Devices hold the
// device exclusively: a second caller waits until the first returns. A waiting caller
// may give up through its context, but a capture that has started always runs to
// completion because the HAL offers no way to interrupt it.
type Service struct {
	hal      domain.HAL
	registry *Registry

	// sem is a one-slot semaphore guarding the device and the registry binding.
	sem chan struct{}

	initialDevice string

	logger  *logger.Logger
	metrics AcquisitionMetrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithInitialDevice selects deviceID while the service is constructed. A device
// that is not connected at that point is logged and left for the first Acquire.
func WithInitialDevice(deviceID string) Option {
	return func(s *Service) { s.initialDevice = deviceID }
}

// NewAcquisitionService creates a Service with its own device registry.
func NewAcquisitionService(
	ctx context.Context,
	hal domain.HAL,
	logger *logger.Logger,
	metrics AcquisitionMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Service {
	s := &Service{
		hal:      hal,
		registry: NewRegistry(hal, logger, metrics, tracer),
		sem:      make(chan struct{}, 1),
		logger:   logger.With("component", "acquisition_service"),
		metrics:  metrics,
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.initialDevice != "" {
		if err := s.registry.EnsureSelected(ctx, s.initialDevice); err != nil {
			s.logger.Warn(ctx, "AcquisitionService: initial device not selected",
				"device_id", s.initialDevice,
				"error", err,
			)
		}
	}

	return s
}

// Registry exposes the service's device registry.
func (s *Service) Registry() *Registry { return s.registry }

// Devices lists the connected scanners. The enumeration is serialized with captures.
func (s *Service) Devices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	if err := s.lock(ctx); err != nil {
		return nil, fmt.Errorf("waiting for device: %w", err)
	}
	defer s.unlock()

	return s.registry.ListDevices(ctx)
}

// Acquire captures a single image from deviceID configured by cfg and returns the
// encoded bytes exactly as the HAL produced them.
//
// Every failure is reported as an *domain.AcquisitionError and no bytes are returned.
// The error matches the sentinel for its kind, so callers can test it with
// errors.Is(err, domain.ErrTransferFailed) and friends. No failure leaves the service
// unusable.
func (s *Service) Acquire(ctx context.Context, deviceID string, cfg domain.ScanConfiguration) ([]byte, error) {
	acquisitionID, ok := AcquisitionIDFromContext(ctx)
	if !ok {
		acquisitionID = uuid.New().String()
	}
	ctx, span := s.tracer.Start(ctx, "acquisition.service.acquire",
		trace.WithAttributes(
			attribute.String("acquisition_id", acquisitionID),
			attribute.String("device_id", deviceID),
			attribute.String("format", cfg.ImageFormat.String()),
			attribute.Int("resolution_dpi", cfg.ResolutionDPI),
			attribute.String("color_mode", cfg.ColorMode.String()),
		))
	defer span.End()

	log := logger.NewLoggerContext(s.logger.With("acquisition_id", acquisitionID, "device_id", deviceID))

	if err := s.lock(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gave up waiting for device")
		return nil, fmt.Errorf("waiting for device: %w", err)
	}
	defer s.unlock()
	span.AddEvent("device_lock_acquired")

	s.metrics.SetAcquisitionInFlight(ctx, true)
	defer s.metrics.SetAcquisitionInFlight(ctx, false)

	start := time.Now()
	data, err := s.capture(ctx, log, deviceID, cfg)
	s.metrics.ObserveAcquisitionDuration(ctx, time.Since(start))
	if err != nil {
		kind, _ := domain.KindOf(err)
		s.metrics.IncAcquisitionErrors(ctx, kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquisition failed")
		span.SetAttributes(attribute.String("error_kind", kind.String()))
		log.Error(ctx, "AcquisitionService: acquisition failed", "kind", kind, "error", err)
		return nil, err
	}

	s.metrics.IncAcquisitions(ctx, cfg.ImageFormat.String())
	s.metrics.ObserveImageSize(ctx, cfg.ImageFormat.String(), len(data))
	span.SetAttributes(attribute.Int("image_bytes", len(data)))
	log.Info(ctx, "AcquisitionService: image acquired", "bytes", len(data), "duration", time.Since(start))

	return data, nil
}

func (s *Service) capture(
	ctx context.Context,
	log *logger.LoggerContext,
	deviceID string,
	cfg domain.ScanConfiguration,
) ([]byte, error) {
	span := trace.SpanFromContext(ctx)

	formatID, err := domain.FormatID(cfg.ImageFormat)
	if err != nil {
		return nil, domain.NewAcquisitionError(domain.KindInvalidArgument, deviceID, err)
	}

	if err := s.registry.EnsureSelected(ctx, deviceID); err != nil {
		return nil, domain.NewAcquisitionError(selectionKind(err), deviceID, err)
	}
	span.AddEvent("device_selected")

	session, err := s.hal.Connect(ctx, deviceID)
	if err == nil && session == nil {
		err = errors.New("hal returned no session")
	}
	if err != nil {
		s.registry.Invalidate(ctx)
		return nil, domain.NewAcquisitionError(domain.KindConnectionLost, deviceID, fmt.Errorf("connecting: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn(ctx, "AcquisitionService: failed to close session", "error", cerr)
		}
	}()
	span.AddEvent("session_opened")

	surface, err := session.PrimarySurface(ctx)
	if err == nil && surface == nil {
		err = errors.New("device exposes no capture surface")
	}
	if err != nil {
		s.registry.Invalidate(ctx)
		return nil, domain.NewAcquisitionError(domain.KindConnectionLost, deviceID, fmt.Errorf("opening surface: %w", err))
	}

	// All properties are derived before the first write so a conversion problem can
	// never leave the surface half configured.
	props := domain.DeviceProperties(cfg)
	for _, p := range props {
		if err := surface.SetProperty(ctx, p.Code, p.Value); err != nil {
			return nil, domain.NewAcquisitionError(
				domain.KindPropertyRejected,
				deviceID,
				fmt.Errorf("setting %s=%d: %w", p.Code, p.Value, err),
			)
		}
	}
	span.AddEvent("surface_configured", trace.WithAttributes(attribute.Int("properties", len(props))))
	log.Add("format_id", formatID)
	log.Debug(ctx, "AcquisitionService: surface configured", "properties", len(props))

	transferCtx, transferSpan := otel.AddSpan(ctx, s.tracer, "acquisition.surface.transfer",
		attribute.String("format_id", formatID),
	)
	data, err := surface.Transfer(transferCtx, formatID, false)
	if err == nil && len(data) == 0 {
		err = errEmptyTransfer
	}
	if err != nil {
		transferSpan.RecordError(err)
		transferSpan.SetStatus(codes.Error, "transfer failed")
		transferSpan.End()
		return nil, domain.NewAcquisitionError(domain.KindTransferFailed, deviceID, err)
	}
	transferSpan.End()
	span.AddEvent("image_transferred")

	return data, nil
}

type acquisitionIDKey struct{}

// WithAcquisitionID returns a context that makes Acquire use id instead of generating
// one, so callers can correlate their own records with the service's logs and spans.
func WithAcquisitionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, acquisitionIDKey{}, id)
}

// AcquisitionIDFromContext returns the acquisition id stored by WithAcquisitionID.
func AcquisitionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(acquisitionIDKey{}).(string)
	return id, ok && id != ""
}

func (s *Service) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unlock() { <-s.sem }

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

// Registry tracks which physical scanner is currently bound for capture.
//
// It has two states: Unbound, and Bound to a single device id. Selection is
// re-validated against a fresh HAL enumeration whenever a caller asks for a
// different device than the one held, because devices connect and disconnect at
// any time and a stale binding must never be reused across an identity change.
// Asking for the device already held is a no-op and touches no hardware.
//
// Each Registry holds its own state; independent instances never share a binding.
type Registry struct {
	mu       sync.RWMutex
	hal      domain.HAL
	selected *domain.DeviceDescriptor

	logger  *logger.Logger
	metrics registryMetrics
	tracer  trace.Tracer
}

// registryMetrics is the subset of acquisition metrics the registry reports.
type registryMetrics interface {
	IncDeviceSelections(ctx context.Context, outcome string)
}

// NewRegistry creates an Unbound registry over the given HAL.
func NewRegistry(hal domain.HAL, logger *logger.Logger, metrics registryMetrics, tracer trace.Tracer) *Registry {
	return &Registry{
		hal:     hal,
		logger:  logger.With("component", "device_registry"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// ListDevices performs one HAL enumeration and returns the scanner-class devices
// it reported. Other classes such as cameras are dropped.
func (r *Registry) ListDevices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	ctx, span := r.tracer.Start(ctx, "acquisition.registry.list_devices")
	defer span.End()

	infos, err := r.hal.EnumerateDevices(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "device enumeration failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrHardwareUnavailable, err)
	}

	devices := make([]domain.DeviceDescriptor, 0, len(infos))
	for _, info := range infos {
		if info.Class != domain.DeviceClassScanner {
			continue
		}
		devices = append(devices, domain.DeviceDescriptor{DeviceID: info.ID, DisplayName: info.DisplayName})
	}

	span.SetAttributes(
		attribute.Int("devices_reported", len(infos)),
		attribute.Int("scanners_found", len(devices)),
	)

	return devices, nil
}

// EnsureSelected binds the registry to deviceID.
//
// If the registry is already bound to deviceID this returns immediately. Otherwise the
// HAL is enumerated again; when the device is present the registry becomes bound to it,
// and when it is absent the registry becomes Unbound and ErrHardwareNotFound is returned.
// An enumeration failure also leaves the registry Unbound and returns
// ErrHardwareUnavailable.
func (r *Registry) EnsureSelected(ctx context.Context, deviceID string) error {
	ctx, span := r.tracer.Start(ctx, "acquisition.registry.ensure_selected",
		trace.WithAttributes(attribute.String("device_id", deviceID)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected != nil && r.selected.DeviceID == deviceID {
		span.AddEvent("device_already_selected")
		r.metrics.IncDeviceSelections(ctx, "reused")
		return nil
	}

	previous := ""
	if r.selected != nil {
		previous = r.selected.DeviceID
		span.SetAttributes(attribute.String("previous_device_id", previous))
	}

	devices, err := r.ListDevices(ctx)
	if err != nil {
		r.selected = nil
		r.metrics.IncDeviceSelections(ctx, "unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, "device enumeration failed")
		r.logger.Error(ctx, "Registry: device enumeration failed", "device_id", deviceID, "error", err)
		return err
	}

	for _, d := range devices {
		if d.DeviceID == deviceID {
			selected := d
			r.selected = &selected
			span.AddEvent("device_selected")
			r.metrics.IncDeviceSelections(ctx, "selected")
			r.logger.Info(ctx, "Registry: device selected",
				"device_id", d.DeviceID,
				"display_name", d.DisplayName,
				"previous_device_id", previous,
			)
			return nil
		}
	}

	r.selected = nil
	r.metrics.IncDeviceSelections(ctx, "not_found")
	span.AddEvent("device_not_found")
	span.SetStatus(codes.Error, "device not found")
	r.logger.Warn(ctx, "Registry: device not found", "device_id", deviceID, "scanners_found", len(devices))

	return fmt.Errorf("registry: device %q: %w", deviceID, domain.ErrHardwareNotFound)
}

// Invalidate drops the current binding so the next EnsureSelected re-enumerates even
// for the same device id. It is used after the bound device stopped answering.
func (r *Registry) Invalidate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected == nil {
		return
	}
	trace.SpanFromContext(ctx).AddEvent("device_binding_invalidated",
		trace.WithAttributes(attribute.String("device_id", r.selected.DeviceID)))
	r.logger.Info(ctx, "Registry: device binding invalidated", "device_id", r.selected.DeviceID)
	r.selected = nil
}

// Selected returns the currently bound device, if any.
func (r *Registry) Selected() (domain.DeviceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selected == nil {
		return domain.DeviceDescriptor{}, false
	}
	return *r.selected, true
}

// selectionKind maps a selection error onto the acquisition error taxonomy.
func selectionKind(err error) domain.ErrorKind {
	if errors.Is(err, domain.ErrHardwareNotFound) {
		return domain.KindNoDevice
	}
	return domain.KindHardwareUnavailable
}

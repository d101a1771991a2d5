// Package virtual provides an in-process simulated scanning device.
// It implements the acquisition HAL without any hardware, which makes it suitable
// for development environments and tests where a physical flatbed is not attached.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

// Fault selects a failure the simulated hardware produces on its next calls.
type Fault int

const (
	// FaultNone lets every call succeed.
	FaultNone Fault = iota
	// FaultEnumerate makes device enumeration fail.
	FaultEnumerate
	// FaultDisconnect makes Connect fail as if the device had been unplugged.
	FaultDisconnect
	// FaultNoSurface makes the session report no capture item.
	FaultNoSurface
	// FaultCancelTransfer makes Transfer return no image, as a cancelled dialog would.
	FaultCancelTransfer
	// FaultTransfer makes Transfer fail outright.
	FaultTransfer
)

var faultNames = map[Fault]string{
	FaultNone:           "none",
	FaultEnumerate:      "enumerate",
	FaultDisconnect:     "disconnect",
	FaultNoSurface:      "no_surface",
	FaultCancelTransfer: "cancel_transfer",
	FaultTransfer:       "transfer",
}

// String returns the string representation of the Fault.
func (f Fault) String() string {
	if name, ok := faultNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Fault(%d)", int(f))
}

// ParseFault maps a fault name to its Fault. An empty name is FaultNone.
func ParseFault(s string) (Fault, error) {
	if s == "" {
		return FaultNone, nil
	}
	for f, name := range faultNames {
		if name == s {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("unknown fault %q", s)
}

var (
	errSimulatedEnumerate  = errors.New("virtual: device manager unavailable")
	errSimulatedDisconnect = errors.New("virtual: device disconnected")
	errSimulatedTransfer   = errors.New("virtual: transfer aborted by device")
	errUnknownDevice       = errors.New("virtual: unknown device id")
)

// DefaultDevices is the device list a HAL reports when none is configured: one
// flatbed scanner and one webcam that must never be offered for scanning.
func DefaultDevices() []domain.DeviceInfo {
	return []domain.DeviceInfo{
		{ID: "virtual-flatbed-1", DisplayName: "Virtual Flatbed", Class: domain.DeviceClassScanner},
		{ID: "virtual-camera-1", DisplayName: "Virtual Webcam", Class: domain.DeviceClassCamera},
	}
}

// HAL is a simulated hardware abstraction layer. Devices can be plugged and
// unplugged at runtime and a fault can be injected to exercise failure paths.
type HAL struct {
	mu sync.RWMutex

	devices []domain.DeviceInfo
	fault   Fault

	// lastWrites holds the properties written during the latest session per device.
	lastWrites map[string][]domain.PropertySetting
	openCount  int

	maxPixels int
	logger    *logger.Logger
}

// Option configures a HAL.
type Option func(*HAL)

// WithDevices replaces the default device list.
func WithDevices(devices ...domain.DeviceInfo) Option {
	return func(h *HAL) { h.devices = slices.Clone(devices) }
}

// WithFault starts the HAL with the given fault injected.
func WithFault(f Fault) Option {
	return func(h *HAL) { h.fault = f }
}

// WithMaxPixels bounds the rendered image area. Larger regions fail the transfer.
func WithMaxPixels(n int) Option {
	return func(h *HAL) { h.maxPixels = n }
}

const defaultMaxPixels = 64 << 20

// New creates a HAL reporting DefaultDevices unless configured otherwise.
func New(log *logger.Logger, opts ...Option) *HAL {
	h := &HAL{
		devices:    DefaultDevices(),
		lastWrites: make(map[string][]domain.PropertySetting),
		maxPixels:  defaultMaxPixels,
		logger:     log.With("component", "virtual_hal"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EnumerateDevices returns a copy of the plugged-in devices.
func (h *HAL) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.fault == FaultEnumerate {
		return nil, errSimulatedEnumerate
	}
	return slices.Clone(h.devices), nil
}

// Connect opens a session to a plugged-in device of any class.
func (h *HAL) Connect(ctx context.Context, deviceID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fault == FaultDisconnect {
		return nil, errSimulatedDisconnect
	}

	idx := slices.IndexFunc(h.devices, func(d domain.DeviceInfo) bool { return d.ID == deviceID })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", errUnknownDevice, deviceID)
	}

	h.openCount++
	h.lastWrites[deviceID] = nil
	h.logger.Debug(ctx, "VirtualHAL: session opened", "device_id", deviceID)

	return &session{hal: h, deviceID: deviceID}, nil
}

// Plug adds a device, replacing any device with the same id.
func (h *HAL) Plug(device domain.DeviceInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.devices = slices.DeleteFunc(h.devices, func(d domain.DeviceInfo) bool { return d.ID == device.ID })
	h.devices = append(h.devices, device)
}

// Unplug removes the device with the given id. Open sessions keep working until
// their next call, which then fails as a disconnect would.
func (h *HAL) Unplug(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.devices = slices.DeleteFunc(h.devices, func(d domain.DeviceInfo) bool { return d.ID == deviceID })
}

// InjectFault sets the fault produced by subsequent calls. FaultNone clears it.
func (h *HAL) InjectFault(f Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fault = f
}

// LastProperties returns the properties written to deviceID during its latest session,
// in write order.
func (h *HAL) LastProperties(deviceID string) []domain.PropertySetting {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.lastWrites[deviceID])
}

// OpenSessions reports how many sessions are currently open.
func (h *HAL) OpenSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.openCount
}

func (h *HAL) currentFault() Fault {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fault
}

func (h *HAL) plugged(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.ContainsFunc(h.devices, func(d domain.DeviceInfo) bool { return d.ID == deviceID })
}

func (h *HAL) recordWrite(deviceID string, p domain.PropertySetting) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastWrites[deviceID] = append(h.lastWrites[deviceID], p)
}

type session struct {
	hal      *HAL
	deviceID string

	mu     sync.Mutex
	closed bool
}

var errSessionClosed = errors.New("virtual: session closed")

func (s *session) PrimarySurface(ctx context.Context) (domain.Surface, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.hal.currentFault() == FaultNoSurface {
		return nil, nil
	}
	return &surface{session: s, props: make(map[domain.PropertyCode]int)}, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	s.closed = true

	s.hal.mu.Lock()
	s.hal.openCount--
	s.hal.mu.Unlock()
	return nil
}

// check fails when the session was closed or its device was unplugged.
func (s *session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}

	if !s.hal.plugged(s.deviceID) {
		return errSimulatedDisconnect
	}
	return nil
}

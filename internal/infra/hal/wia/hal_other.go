//go:build !windows

package wia

import (
	"context"
	"fmt"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

var errUnsupported = fmt.Errorf("%w: WIA requires windows", domain.ErrHardwareUnavailable)

// HAL is unavailable on this platform. Every method fails with
// acquisition.ErrHardwareUnavailable.
type HAL struct{}

// New always fails on this platform.
func New(*logger.Logger) (*HAL, error) { return nil, errUnsupported }

// EnumerateDevices always fails on this platform.
func (*HAL) EnumerateDevices(context.Context) ([]domain.DeviceInfo, error) {
	return nil, errUnsupported
}

// Connect always fails on this platform.
func (*HAL) Connect(context.Context, string) (domain.Session, error) {
	return nil, errUnsupported
}

// Close is a no-op. It is safe to call on a nil HAL.
func (*HAL) Close() error { return nil }

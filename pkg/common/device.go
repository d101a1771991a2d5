package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

// DeviceLister lists the scanners that are currently connected.
type DeviceLister interface {
	Devices(ctx context.Context) ([]domain.DeviceDescriptor, error)
}

// WaitPolicy bounds how long WaitForDevice keeps polling.
type WaitPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultWaitPolicy polls every half second at first, backing off to five seconds.
func DefaultWaitPolicy(maxWait time.Duration) WaitPolicy {
	return WaitPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  maxWait,
	}
}

// WaitForDevice polls lister with exponential backoff until deviceID shows up, the
// policy's elapsed time runs out, or ctx ends. Enumeration failures are retried as
// well, because a HAL service that is still starting reports itself unavailable.
func WaitForDevice(
	ctx context.Context,
	lister DeviceLister,
	deviceID string,
	policy WaitPolicy,
	log *logger.Logger,
) (domain.DeviceDescriptor, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = policy.InitialInterval
	expBackoff.MaxInterval = policy.MaxInterval
	expBackoff.MaxElapsedTime = policy.MaxElapsedTime

	var found domain.DeviceDescriptor
	attempt := 0
	operation := func() error {
		attempt++
		devices, err := lister.Devices(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			log.Warn(ctx, "Device enumeration failed, will retry", "device_id", deviceID, "attempt", attempt, "error", err)
			return err
		}
		for _, d := range devices {
			if d.DeviceID == deviceID {
				found = d
				return nil
			}
		}
		log.Debug(ctx, "Device not connected yet", "device_id", deviceID, "attempt", attempt)
		return fmt.Errorf("device %q: %w", deviceID, domain.ErrHardwareNotFound)
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return domain.DeviceDescriptor{}, fmt.Errorf("waiting for device %q after %d attempts: %w", deviceID, attempt, err)
	}

	return found, nil
}

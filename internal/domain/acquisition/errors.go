package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrHardwareUnavailable indicates the HAL could not enumerate devices at all.
	// It points at the environment rather than at a single request.
	ErrHardwareUnavailable = errors.New("scanning hardware unavailable")
	// ErrHardwareNotFound indicates the requested device id is not connected.
	ErrHardwareNotFound = errors.New("scanning device not found")
	// ErrConnectionLost indicates the device went away between selection and capture.
	ErrConnectionLost = errors.New("connection to scanning device lost")
	// ErrPropertyRejected indicates the device refused a configuration property.
	ErrPropertyRejected = errors.New("scanning device rejected property")
	// ErrTransferFailed indicates the HAL produced no image.
	ErrTransferFailed = errors.New("image transfer failed")
	// ErrInvalidArgument indicates a value outside a closed enumeration.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind classifies a failed acquisition.
type ErrorKind string

const (
	KindHardwareUnavailable ErrorKind = "HARDWARE_UNAVAILABLE"
	KindNoDevice            ErrorKind = "NO_DEVICE"
	KindConnectionLost      ErrorKind = "CONNECTION_LOST"
	KindPropertyRejected    ErrorKind = "PROPERTY_REJECTED"
	KindTransferFailed      ErrorKind = "TRANSFER_FAILED"
	KindInvalidArgument     ErrorKind = "INVALID_ARGUMENT"
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string { return string(k) }

// sentinel returns the package error a kind corresponds to.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindHardwareUnavailable:
		return ErrHardwareUnavailable
	case KindNoDevice:
		return ErrHardwareNotFound
	case KindConnectionLost:
		return ErrConnectionLost
	case KindPropertyRejected:
		return ErrPropertyRejected
	case KindTransferFailed:
		return ErrTransferFailed
	case KindInvalidArgument:
		return ErrInvalidArgument
	default:
		return nil
	}
}

// AcquisitionError reports why an acquisition produced no image.
// It matches the sentinel for its kind with errors.Is and unwraps to the cause.
type AcquisitionError struct {
	Kind     ErrorKind
	DeviceID string
	Err      error
}

// NewAcquisitionError creates an AcquisitionError of the given kind.
func NewAcquisitionError(kind ErrorKind, deviceID string, cause error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, DeviceID: deviceID, Err: cause}
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquisition from %q failed: %s", e.DeviceID, e.Kind)
	}
	return fmt.Sprintf("acquisition from %q failed: %s: %v", e.DeviceID, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AcquisitionError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel error for e's kind.
func (e *AcquisitionError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Kind, true
	}
	return "", false
}

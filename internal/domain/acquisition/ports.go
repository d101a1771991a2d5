package acquisition

import "context"

// DeviceClass is the kind of imaging device a HAL reports.
type DeviceClass string

const (
	DeviceClassUnspecified DeviceClass = "UNSPECIFIED"
	DeviceClassScanner     DeviceClass = "SCANNER"
	DeviceClassCamera      DeviceClass = "CAMERA"
	DeviceClassVideo       DeviceClass = "VIDEO"
)

// String returns the string representation of the DeviceClass.
func (c DeviceClass) String() string { return string(c) }

// DeviceInfo is a single entry of a HAL enumeration.
type DeviceInfo struct {
	ID          string
	DisplayName string
	Class       DeviceClass
}

// DeviceDescriptor is an immutable snapshot of a connected scanner as seen at
// enumeration time. Liveness is not tracked beyond that point.
type DeviceDescriptor struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

// HAL is the hardware abstraction layer the acquisition service drives.
// Implementations may block for seconds on any call.
type HAL interface {
	// EnumerateDevices lists every device the HAL knows about, of any class.
	// Order is not guaranteed to be stable across calls.
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)

	// Connect opens a session to the device with the given id.
	Connect(ctx context.Context, deviceID string) (Session, error)
}

// Session is an open connection to a device. It must be closed by the caller.
type Session interface {
	// PrimarySurface returns the addressable capture item of the device.
	PrimarySurface(ctx context.Context) (Surface, error)

	// Close releases the session.
	Close() error
}

// Surface accepts configuration properties and produces an image on transfer.
type Surface interface {
	// SetProperty writes a single numeric property.
	SetProperty(ctx context.Context, code PropertyCode, value int) error

	// Transfer performs the capture and returns the encoded image, or nil if the HAL
	// produced nothing (for example when a dialog was cancelled).
	Transfer(ctx context.Context, formatID string, showDialog bool) ([]byte, error)
}

// PropertySetting is a single property write.
type PropertySetting struct {
	Code  PropertyCode
	Value int
}

// DeviceProperties derives the ordered property writes for cfg. Region fields are
// converted to pixels at cfg.ResolutionDPI; every other field passes through unchanged.
func DeviceProperties(cfg ScanConfiguration) []PropertySetting {
	dpi := cfg.ResolutionDPI
	return []PropertySetting{
		{Code: PropertyColorMode, Value: int(cfg.ColorMode)},
		{Code: PropertyBitsPerPixel, Value: cfg.BitsPerPixel},
		{Code: PropertyHorizontalResolution, Value: dpi},
		{Code: PropertyVerticalResolution, Value: dpi},
		{Code: PropertyHorizontalStart, Value: MillimetersToPixels(cfg.RegionStart.Horizontal, dpi)},
		{Code: PropertyVerticalStart, Value: MillimetersToPixels(cfg.RegionStart.Vertical, dpi)},
		{Code: PropertyHorizontalExtent, Value: MillimetersToPixels(cfg.RegionSize.Horizontal, dpi)},
		{Code: PropertyVerticalExtent, Value: MillimetersToPixels(cfg.RegionSize.Vertical, dpi)},
		{Code: PropertyBrightness, Value: cfg.Brightness},
		{Code: PropertyContrast, Value: cfg.Contrast},
	}
}

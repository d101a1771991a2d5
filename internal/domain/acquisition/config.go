// Package acquisition provides the domain types for acquiring images from scanning
// hardware. It defines the scan configuration model, the unit conversion rules between
// physical and device units, the constant tables shared with the hardware abstraction
// layer (HAL), and the ports a HAL binding must implement.
package acquisition

import (
	"fmt"
	"strings"
)

// ImageFormat enumerates the encodings a scanning device can produce.
type ImageFormat int

const (
	ImageFormatJPEG ImageFormat = iota
	ImageFormatBMP
	ImageFormatPNG
	ImageFormatGIF
	ImageFormatTIFF
)

// String returns the lowercase name of the format.
func (f ImageFormat) String() string {
	switch f {
	case ImageFormatJPEG:
		return "jpeg"
	case ImageFormatBMP:
		return "bmp"
	case ImageFormatPNG:
		return "png"
	case ImageFormatGIF:
		return "gif"
	case ImageFormatTIFF:
		return "tiff"
	default:
		return fmt.Sprintf("ImageFormat(%d)", int(f))
	}
}

// MIMEType returns the media type of bytes encoded in this format.
func (f ImageFormat) MIMEType() string {
	switch f {
	case ImageFormatJPEG:
		return "image/jpeg"
	case ImageFormatBMP:
		return "image/bmp"
	case ImageFormatPNG:
		return "image/png"
	case ImageFormatGIF:
		return "image/gif"
	case ImageFormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the conventional file extension, including the leading dot.
func (f ImageFormat) Extension() string {
	switch f {
	case ImageFormatJPEG:
		return ".jpg"
	case ImageFormatTIFF:
		return ".tif"
	case ImageFormatBMP, ImageFormatPNG, ImageFormatGIF:
		return "." + f.String()
	default:
		return ".bin"
	}
}

// ParseImageFormat maps a case-insensitive format name to its ImageFormat.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return ImageFormatJPEG, nil
	case "bmp":
		return ImageFormatBMP, nil
	case "png":
		return ImageFormatPNG, nil
	case "gif":
		return ImageFormatGIF, nil
	case "tiff", "tif":
		return ImageFormatTIFF, nil
	default:
		return 0, fmt.Errorf("%w: unknown image format %q", ErrInvalidArgument, s)
	}
}

// ColorMode is the intent value written to the device's color mode property.
// The numeric values are part of the HAL contract.
type ColorMode int

const (
	ColorModeUnspecified    ColorMode = 0
	ColorModeColor          ColorMode = 1
	ColorModeGrayscale      ColorMode = 2
	ColorModeBlackWhiteText ColorMode = 4
)

// String returns the lowercase name of the color mode.
func (m ColorMode) String() string {
	switch m {
	case ColorModeUnspecified:
		return "unspecified"
	case ColorModeColor:
		return "color"
	case ColorModeGrayscale:
		return "grayscale"
	case ColorModeBlackWhiteText:
		return "text"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// ParseColorMode maps a case-insensitive color mode name to its ColorMode.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unspecified":
		return ColorModeUnspecified, nil
	case "color", "colour":
		return ColorModeColor, nil
	case "grayscale", "greyscale", "gray":
		return ColorModeGrayscale, nil
	case "text", "bw", "blackwhite":
		return ColorModeBlackWhiteText, nil
	default:
		return 0, fmt.Errorf("%w: unknown color mode %q", ErrInvalidArgument, s)
	}
}

// Conventional resolutions supported by most flatbed devices. Other values are
// passed through to the device unchanged.
const (
	Resolution100 = 100
	Resolution150 = 150
	Resolution200 = 200
	Resolution300 = 300
	Resolution600 = 600
)

// Default values of a ScanConfiguration.
const (
	DefaultBitsPerPixel  = 24
	DefaultResolutionDPI = Resolution200
)

// Extent is a horizontal and vertical pair in millimeters.
type Extent struct {
	Horizontal int
	Vertical   int
}

// ScanConfiguration describes a single capture request in physical units.
// It is a plain value; the orchestrator receives a copy.
type ScanConfiguration struct {
	ImageFormat   ImageFormat
	ColorMode     ColorMode
	BitsPerPixel  int
	ResolutionDPI int

	// RegionStart is the offset of the scan region origin in millimeters.
	RegionStart Extent
	// RegionSize is the size of the scan region in millimeters.
	RegionSize Extent

	// Brightness and Contrast are expected in [-1000, 1000]. The range is not enforced.
	Brightness int
	Contrast   int
}

// DefaultScanConfiguration returns a full A4 page at 200 dpi in color, encoded as JPEG.
func DefaultScanConfiguration() ScanConfiguration {
	a4 := pageSizes[PageSizeA4]
	return ScanConfiguration{
		ImageFormat:   ImageFormatJPEG,
		ColorMode:     ColorModeColor,
		BitsPerPixel:  DefaultBitsPerPixel,
		ResolutionDPI: DefaultResolutionDPI,
		RegionSize:    a4,
	}
}

// ApplyPageSize overwrites RegionSize with the dimensions of the preset.
// The preset is not remembered; later changes to RegionSize are independent of it.
func (c *ScanConfiguration) ApplyPageSize(p PageSize) error {
	h, v, err := ResolvePageSize(p)
	if err != nil {
		return err
	}
	c.RegionSize = Extent{Horizontal: h, Vertical: v}
	return nil
}

package acquisition

import (
	"fmt"
	"strings"
)

// PropertyCode identifies a device property on a capture surface.
// The numeric values are the WIA property ids the existing HAL understands.
type PropertyCode int

const (
	PropertyBitsPerPixel         PropertyCode = 4104
	PropertyColorMode            PropertyCode = 6146
	PropertyHorizontalResolution PropertyCode = 6147
	PropertyVerticalResolution   PropertyCode = 6148
	PropertyHorizontalStart      PropertyCode = 6149
	PropertyVerticalStart        PropertyCode = 6150
	PropertyHorizontalExtent     PropertyCode = 6151
	PropertyVerticalExtent       PropertyCode = 6152
	PropertyBrightness           PropertyCode = 6154
	PropertyContrast             PropertyCode = 6155
)

// propertyNames is used for logs and span attributes only.
var propertyNames = map[PropertyCode]string{
	PropertyBitsPerPixel:         "bits_per_pixel",
	PropertyColorMode:            "color_mode",
	PropertyHorizontalResolution: "horizontal_resolution",
	PropertyVerticalResolution:   "vertical_resolution",
	PropertyHorizontalStart:      "horizontal_start",
	PropertyVerticalStart:        "vertical_start",
	PropertyHorizontalExtent:     "horizontal_extent",
	PropertyVerticalExtent:       "vertical_extent",
	PropertyBrightness:           "brightness",
	PropertyContrast:             "contrast",
}

// String returns a readable name for the property code.
func (p PropertyCode) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PropertyCode(%d)", int(p))
}

// Format identifiers understood by the HAL transfer primitive.
const (
	FormatIDBMP  = "{B96B3CAB-0728-11D3-9D7B-0000F81EF32E}"
	FormatIDJPEG = "{B96B3CAE-0728-11D3-9D7B-0000F81EF32E}"
	FormatIDPNG  = "{B96B3CAF-0728-11D3-9D7B-0000F81EF32E}"
	FormatIDGIF  = "{B96B3CB0-0728-11D3-9D7B-0000F81EF32E}"
	FormatIDTIFF = "{B96B3CB1-0728-11D3-9D7B-0000F81EF32E}"
)

// FormatID returns the HAL format identifier for f. There is no fallback: a format
// outside the closed set is rejected instead of being mapped to JPEG.
func FormatID(f ImageFormat) (string, error) {
	switch f {
	case ImageFormatJPEG:
		return FormatIDJPEG, nil
	case ImageFormatBMP:
		return FormatIDBMP, nil
	case ImageFormatPNG:
		return FormatIDPNG, nil
	case ImageFormatGIF:
		return FormatIDGIF, nil
	case ImageFormatTIFF:
		return FormatIDTIFF, nil
	}
	return "", fmt.Errorf("%w: no format id for %s", ErrInvalidArgument, f)
}

// ImageFormatFromID is the inverse of FormatID. HAL bindings use it to learn which
// encoding a transfer asked for.
func ImageFormatFromID(id string) (ImageFormat, error) {
	switch strings.ToUpper(id) {
	case FormatIDJPEG:
		return ImageFormatJPEG, nil
	case FormatIDBMP:
		return ImageFormatBMP, nil
	case FormatIDPNG:
		return ImageFormatPNG, nil
	case FormatIDGIF:
		return ImageFormatGIF, nil
	case FormatIDTIFF:
		return ImageFormatTIFF, nil
	}
	return 0, fmt.Errorf("%w: unknown format id %q", ErrInvalidArgument, id)
}

// PageSize is a symbolic page preset.
type PageSize int

const (
	PageSizeA4 PageSize = iota
	PageSizeA5
	PageSizeA5H // A5 landscape
	PageSizeA6
	PageSizeA6H // A6 landscape
)

var pageSizes = map[PageSize]Extent{
	PageSizeA4:  {Horizontal: 210, Vertical: 297},
	PageSizeA5:  {Horizontal: 149, Vertical: 210},
	PageSizeA5H: {Horizontal: 210, Vertical: 149},
	PageSizeA6:  {Horizontal: 105, Vertical: 149},
	PageSizeA6H: {Horizontal: 149, Vertical: 105},
}

var pageSizeNames = map[PageSize]string{
	PageSizeA4:  "a4",
	PageSizeA5:  "a5",
	PageSizeA5H: "a5h",
	PageSizeA6:  "a6",
	PageSizeA6H: "a6h",
}

// String returns the lowercase preset name.
func (p PageSize) String() string {
	if name, ok := pageSizeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PageSize(%d)", int(p))
}

// ParsePageSize maps a case-insensitive preset name to its PageSize.
// "a5-landscape" and "a6-landscape" are accepted aliases.
func ParsePageSize(s string) (PageSize, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "a5-landscape":
		return PageSizeA5H, nil
	case "a6-landscape":
		return PageSizeA6H, nil
	}
	for p, n := range pageSizeNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown page size %q", ErrInvalidArgument, s)
}

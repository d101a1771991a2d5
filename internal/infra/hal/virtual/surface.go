package virtual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// propertyRange is the inclusive range the simulated device accepts for a property.
type propertyRange struct{ min, max int }

var acceptedRanges = map[domain.PropertyCode]propertyRange{
	domain.PropertyBitsPerPixel:         {min: 1, max: 32},
	domain.PropertyHorizontalResolution: {min: 50, max: 1200},
	domain.PropertyVerticalResolution:   {min: 50, max: 1200},
	domain.PropertyHorizontalStart:      {min: 0, max: 1 << 20},
	domain.PropertyVerticalStart:        {min: 0, max: 1 << 20},
	domain.PropertyHorizontalExtent:     {min: 0, max: 1 << 20},
	domain.PropertyVerticalExtent:       {min: 0, max: 1 << 20},
	domain.PropertyBrightness:           {min: -1000, max: 1000},
	domain.PropertyContrast:             {min: -1000, max: 1000},
}

// surface is the single flatbed item of a simulated device.
type surface struct {
	session *session
	props   map[domain.PropertyCode]int
}

// SetProperty stores value when the simulated device accepts it.
func (s *surface) SetProperty(ctx context.Context, code domain.PropertyCode, value int) error {
	if err := s.session.check(ctx); err != nil {
		return err
	}

	if code == domain.PropertyColorMode {
		switch domain.ColorMode(value) {
		case domain.ColorModeUnspecified, domain.ColorModeColor, domain.ColorModeGrayscale, domain.ColorModeBlackWhiteText:
		default:
			return fmt.Errorf("virtual: %s value %d not supported", code, value)
		}
	} else {
		r, ok := acceptedRanges[code]
		if !ok {
			return fmt.Errorf("virtual: property %d not supported", int(code))
		}
		if value < r.min || value > r.max {
			return fmt.Errorf("virtual: %s value %d outside [%d, %d]", code, value, r.min, r.max)
		}
	}

	s.props[code] = value
	s.session.hal.recordWrite(s.session.deviceID, domain.PropertySetting{Code: code, Value: value})
	return nil
}

// Transfer renders a blank page covering the configured extent and encodes it
// in the format identified by formatID. showDialog has no effect.
func (s *surface) Transfer(ctx context.Context, formatID string, _ bool) ([]byte, error) {
	if err := s.session.check(ctx); err != nil {
		return nil, err
	}

	switch s.session.hal.currentFault() {
	case FaultCancelTransfer:
		return nil, nil
	case FaultTransfer:
		return nil, errSimulatedTransfer
	}

	format, err := domain.ImageFormatFromID(formatID)
	if err != nil {
		return nil, fmt.Errorf("virtual: %w", err)
	}

	width, height := s.props[domain.PropertyHorizontalExtent], s.props[domain.PropertyVerticalExtent]
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("virtual: empty scan region %dx%d", width, height)
	}
	if limit := s.session.hal.maxPixels; limit > 0 && width*height > limit {
		return nil, fmt.Errorf("virtual: scan region %dx%d exceeds %d pixels", width, height, limit)
	}

	img := renderPage(width, height, domain.ColorMode(s.props[domain.PropertyColorMode]), s.props[domain.PropertyBrightness])
	return encode(img, format)
}

// paperLevel maps a brightness setting onto the gray level of blank paper.
func paperLevel(brightness int) uint8 {
	level := 235 + brightness*235/1000
	return uint8(max(0, min(255, level)))
}

func renderPage(width, height int, mode domain.ColorMode, brightness int) image.Image {
	rect := image.Rect(0, 0, width, height)
	level := paperLevel(brightness)
	border := max(1, min(width, height)/100)

	var (
		img  draw.Image
		ink  color.Color
		fill color.Color
	)
	switch mode {
	case domain.ColorModeGrayscale:
		img, ink, fill = image.NewGray(rect), color.Gray{Y: 0}, color.Gray{Y: level}
	case domain.ColorModeBlackWhiteText:
		img = image.NewPaletted(rect, color.Palette{color.Black, color.White})
		ink, fill = color.Black, color.White
	default:
		img, ink, fill = image.NewRGBA(rect), color.RGBA{A: 0xff}, color.RGBA{R: level, G: level, B: level, A: 0xff}
	}

	draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)

	// Frame the page so decoders see more than a single flat color.
	inkSrc := image.NewUniform(ink)
	for _, edge := range []image.Rectangle{
		image.Rect(0, 0, width, border),
		image.Rect(0, height-border, width, height),
		image.Rect(0, 0, border, height),
		image.Rect(width-border, 0, width, height),
	} {
		draw.Draw(img, edge, inkSrc, image.Point{}, draw.Src)
	}
	return img
}

func encode(img image.Image, format domain.ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case domain.ImageFormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case domain.ImageFormatBMP:
		err = bmp.Encode(&buf, img)
	case domain.ImageFormatPNG:
		err = png.Encode(&buf, img)
	case domain.ImageFormatGIF:
		err = gif.Encode(&buf, img, nil)
	case domain.ImageFormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return nil, fmt.Errorf("virtual: no encoder for %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("virtual: encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

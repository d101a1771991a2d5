package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// ErrUnknownProfile is returned when a caller names a profile that is not defined.
var ErrUnknownProfile = errors.New("unknown scan profile")

// Extent is a horizontal and vertical pair in millimeters.
type Extent struct {
	Horizontal int `json:"h" yaml:"h" validate:"gte=0"`
	Vertical   int `json:"v" yaml:"v" validate:"gte=0"`
}

// ScanSettings is a partial scan configuration as callers write it: symbolic names
// instead of enum values, and nil or empty fields for "keep what is there".
// It is both the shape of a stored profile and of an API request.
type ScanSettings struct {
	Format       string  `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,image_format"`
	ColorMode    string  `json:"color_mode,omitempty" yaml:"color_mode,omitempty" validate:"omitempty,color_mode"`
	BitsPerPixel *int    `json:"bits_per_pixel,omitempty" yaml:"bits_per_pixel,omitempty" validate:"omitempty,oneof=1 8 24 32"`
	Resolution   *int    `json:"resolution,omitempty" yaml:"resolution,omitempty" validate:"omitempty,gte=50,lte=1200"`
	PageSize     string  `json:"page_size,omitempty" yaml:"page_size,omitempty" validate:"omitempty,page_size"`
	RegionStart  *Extent `json:"region_start,omitempty" yaml:"region_start,omitempty" validate:"omitempty"`
	RegionSize   *Extent `json:"region_size,omitempty" yaml:"region_size,omitempty" validate:"omitempty"`
	Brightness   *int    `json:"brightness,omitempty" yaml:"brightness,omitempty" validate:"omitempty,gte=-1000,lte=1000"`
	Contrast     *int    `json:"contrast,omitempty" yaml:"contrast,omitempty" validate:"omitempty,gte=-1000,lte=1000"`
}

// ApplyTo overlays the set fields of s onto cfg. A page size is applied before an
// explicit region size, so a request can name a preset and still override it.
func (s ScanSettings) ApplyTo(cfg *domain.ScanConfiguration) error {
	if s.Format != "" {
		f, err := domain.ParseImageFormat(s.Format)
		if err != nil {
			return err
		}
		cfg.ImageFormat = f
	}
	if s.ColorMode != "" {
		m, err := domain.ParseColorMode(s.ColorMode)
		if err != nil {
			return err
		}
		cfg.ColorMode = m
	}
	if s.BitsPerPixel != nil {
		cfg.BitsPerPixel = *s.BitsPerPixel
	}
	if s.Resolution != nil {
		cfg.ResolutionDPI = *s.Resolution
	}
	if s.PageSize != "" {
		p, err := domain.ParsePageSize(s.PageSize)
		if err != nil {
			return err
		}
		if err := cfg.ApplyPageSize(p); err != nil {
			return err
		}
	}
	if s.RegionStart != nil {
		cfg.RegionStart = domain.Extent{Horizontal: s.RegionStart.Horizontal, Vertical: s.RegionStart.Vertical}
	}
	if s.RegionSize != nil {
		cfg.RegionSize = domain.Extent{Horizontal: s.RegionSize.Horizontal, Vertical: s.RegionSize.Vertical}
	}
	if s.Brightness != nil {
		cfg.Brightness = *s.Brightness
	}
	if s.Contrast != nil {
		cfg.Contrast = *s.Contrast
	}
	return nil
}

// Profiles maps a profile name to its stored settings.
type Profiles map[string]ScanSettings

// Names returns the profile names in lexical order.
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve builds a ScanConfiguration from the defaults, then the named profile (if
// name is not empty), then overrides.
func (p Profiles) Resolve(name string, overrides ScanSettings) (domain.ScanConfiguration, error) {
	cfg := domain.DefaultScanConfiguration()

	if name != "" {
		profile, ok := p[name]
		if !ok {
			return domain.ScanConfiguration{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
		}
		if err := profile.ApplyTo(&cfg); err != nil {
			return domain.ScanConfiguration{}, fmt.Errorf("applying profile %q: %w", name, err)
		}
	}

	if err := overrides.ApplyTo(&cfg); err != nil {
		return domain.ScanConfiguration{}, err
	}
	return cfg, nil
}

// NewValidator returns a validator that knows the image_format, color_mode and
// page_size tags and reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	for tag, parse := range map[string]func(string) error{
		"image_format": func(s string) error { _, err := domain.ParseImageFormat(s); return err },
		"color_mode":   func(s string) error { _, err := domain.ParseColorMode(s); return err },
		"page_size":    func(s string) error { _, err := domain.ParsePageSize(s); return err },
	} {
		// Registration only fails for an empty tag or nil func.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return parse(fl.Field().String()) == nil
		})
	}

	return v
}

// ProfileLoader provides scan profile loading capabilities.
type ProfileLoader interface {
	// Load retrieves, parses and validates the profiles from the underlying source.
	Load(ctx context.Context) (Profiles, error)
}

// ProfileFileLoader loads scan profiles from a YAML document on disk:
//
//	profiles:
//	  receipt:
//	    format: png
//	    color_mode: grayscale
//	    resolution: 300
//	    page_size: a6
type ProfileFileLoader struct {
	// path is the filesystem path to the profile document.
	path string
}

// NewProfileFileLoader creates a ProfileFileLoader for path.
func NewProfileFileLoader(path string) *ProfileFileLoader {
	return &ProfileFileLoader{path: path}
}

type profileDocument struct {
	Profiles Profiles `yaml:"profiles"`
}

// Load reads, parses and validates the profile document.
func (l *ProfileFileLoader) Load(ctx context.Context) (Profiles, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var doc profileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}

	v := NewValidator()
	for _, name := range doc.Profiles.Names() {
		if err := v.Struct(doc.Profiles[name]); err != nil {
			return nil, fmt.Errorf("%w: profile %q: %w", ErrInvalidConfig, name, err)
		}
	}

	if doc.Profiles == nil {
		doc.Profiles = Profiles{}
	}
	return doc.Profiles, nil
}

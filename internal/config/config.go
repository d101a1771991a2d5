// Package config loads the scan acquisition service configuration and the named
// scan profiles callers can select.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the configuration reads,
// e.g. SCAND_HAL_DRIVER or SCAND_WEB_API_PORT.
const EnvPrefix = "SCAND"

// HALDriver names a HAL binding.
type HALDriver string

const (
	HALDriverVirtual HALDriver = "virtual"
	HALDriverWIA     HALDriver = "wia"
)

// Config represents the top-level configuration.
type Config struct {
	Web       WebConfig       `mapstructure:"web"`
	HAL       HALConfig       `mapstructure:"hal"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Profiles is the path of the scan profile document. Empty means no profiles.
	Profiles string `mapstructure:"profiles"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// WebConfig holds the HTTP server settings. Write timeouts must cover a full
// capture, which can take tens of seconds at high resolutions.
type WebConfig struct {
	APIHost         string        `mapstructure:"api_host"`
	APIPort         int           `mapstructure:"api_port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns the listen address of the API server.
func (w WebConfig) Addr() string { return fmt.Sprintf("%s:%d", w.APIHost, w.APIPort) }

// HALConfig selects and tunes the HAL binding.
type HALConfig struct {
	Driver HALDriver `mapstructure:"driver" validate:"oneof=virtual wia"`
	// InitialDevice is selected while the service starts. Optional.
	InitialDevice string `mapstructure:"initial_device"`
	// VirtualFault injects a fault into the virtual HAL. Ignored by other drivers.
	VirtualFault string `mapstructure:"virtual_fault"`
}

// RateLimitConfig bounds how often clients may trigger device enumeration.
type RateLimitConfig struct {
	EnumerationRPS float64 `mapstructure:"enumeration_rps" validate:"gte=0"`
	Burst          int     `mapstructure:"burst" validate:"gte=0"`
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName      string  `mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability" validate:"gte=0,lte=1"`
	Insecure         bool    `mapstructure:"insecure"`
}

var defaults = map[string]any{
	"web.api_host":                "0.0.0.0",
	"web.api_port":                6000,
	"web.read_timeout":            5 * time.Second,
	"web.write_timeout":           2 * time.Minute,
	"web.idle_timeout":            120 * time.Second,
	"web.shutdown_timeout":        20 * time.Second,
	"hal.driver":                  string(HALDriverVirtual),
	"hal.initial_device":          "",
	"hal.virtual_fault":           "",
	"rate_limit.enumeration_rps":  2.0,
	"rate_limit.burst":            4,
	"telemetry.service_name":      "scan-acquisition",
	"telemetry.exporter_endpoint": "",
	"telemetry.probability":       0.05,
	"telemetry.insecure":          true,
	"profiles":                    "",
	"log_level":                   "info",
}

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadOption adjusts how Load builds the configuration.
type LoadOption func(*viper.Viper)

// WithDefault replaces the built-in default for key. Use it instead of a flag default:
// an unchanged flag ranks below every other source, defaults included.
func WithDefault(key string, value any) LoadOption {
	return func(v *viper.Viper) { v.SetDefault(key, value) }
}

// Load reads the configuration from defaults, the optional file at path, SCAND_*
// environment variables and, when flags is not nil, the flags it holds. Later sources
// win. Flags bind by name, so a flag called "hal.driver" overrides that key.
func Load(path string, flags *pflag.FlagSet, opts ...LoadOption) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, opt := range opts {
		opt(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

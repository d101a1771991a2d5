// Command scanctl lists scanners and captures images from the command line, driving
// the acquisition service in-process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scan-acquisition/internal/app/acquisition"
	"github.com/ahrav/scan-acquisition/internal/config"
	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/internal/infra/hal/virtual"
	"github.com/ahrav/scan-acquisition/internal/infra/hal/wia"
	"github.com/ahrav/scan-acquisition/pkg/common"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

const usage = `usage: scanctl <command> [flags]

commands:
  list    list the connected scanners
  scan    capture one image
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx, os.Args[2:], os.Stdout)
	case "scan":
		err = runScan(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes the acquisition error kinds for scripts.
func exitCode(err error) int {
	kind, ok := domain.KindOf(err)
	if !ok {
		switch {
		case errors.Is(err, domain.ErrHardwareNotFound):
			return 3
		case errors.Is(err, domain.ErrInvalidArgument):
			return 5
		default:
			return 1
		}
	}
	switch kind {
	case domain.KindNoDevice:
		return 3
	case domain.KindConnectionLost, domain.KindHardwareUnavailable:
		return 4
	case domain.KindPropertyRejected, domain.KindInvalidArgument:
		return 5
	case domain.KindTransferFailed:
		return 6
	default:
		return 1
	}
}

// commonFlags registers the flags every command shares.
func commonFlags(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to the configuration file")
	flags.String("hal.driver", "virtual", "HAL binding: virtual or wia")
	flags.String("hal.virtual_fault", "", "fault injected into the virtual HAL")
	flags.String("log_level", defaultLogLevel, "minimum log level")
	return flags, configPath
}

type runtimeDeps struct {
	cfg     *config.Config
	log     *logger.Logger
	service *acquisition.Service
	close   func()
}

// defaultLogLevel keeps the CLI quiet unless asked otherwise.
const defaultLogLevel = "warn"

func loadConfig(flags *pflag.FlagSet, configPath string) (*config.Config, error) {
	return config.Load(configPath, flags, config.WithDefault("log_level", defaultLogLevel))
}

func setup(ctx context.Context, flags *pflag.FlagSet, configPath string) (*runtimeDeps, error) {
	cfg, err := loadConfig(flags, configPath)
	if err != nil {
		return nil, err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logger.New(os.Stderr, level, "scanctl", nil)

	var (
		hal     domain.HAL
		closeFn = func() {}
	)
	switch cfg.HAL.Driver {
	case config.HALDriverWIA:
		w, err := wia.New(log)
		if err != nil {
			return nil, fmt.Errorf("starting WIA: %w", err)
		}
		hal, closeFn = w, func() { _ = w.Close() }
	default:
		fault, err := virtual.ParseFault(cfg.HAL.VirtualFault)
		if err != nil {
			return nil, err
		}
		hal = virtual.New(log, virtual.WithFault(fault))
	}

	m, err := acquisition.NewAcquisitionMetrics(noop.NewMeterProvider())
	if err != nil {
		closeFn()
		return nil, err
	}
	svc := acquisition.NewAcquisitionService(ctx, hal, log, m, tracenoop.NewTracerProvider().Tracer("scanctl"))

	return &runtimeDeps{cfg: cfg, log: log, service: svc, close: closeFn}, nil
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := commonFlags("list")
	if err := flags.Parse(args); err != nil {
		return err
	}

	deps, err := setup(ctx, flags, *configPath)
	if err != nil {
		return err
	}
	defer deps.close()

	devices, err := deps.service.Devices(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE ID\tNAME")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\n", d.DeviceID, d.DisplayName)
	}
	return tw.Flush()
}

func runScan(ctx context.Context, args []string, out io.Writer) error {
	flags, configPath := commonFlags("scan")
	deviceID := flags.String("device", "", "id of the scanner to capture from (required)")
	outPath := flags.String("out", "", "output file; defaults to scan<ext> for the chosen format")
	profile := flags.String("profile", "", "named scan profile to start from")
	wait := flags.Duration("wait", 0, "wait up to this long for the device to appear")
	format := flags.String("format", "", "image format: jpeg, bmp, png, gif or tiff")
	colorMode := flags.String("color-mode", "", "color mode: color, grayscale or text")
	pageSize := flags.String("page-size", "", "page preset: a4, a5, a5h, a6 or a6h")
	resolution := flags.Int("resolution", 0, "resolution in dpi")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *deviceID == "" {
		return fmt.Errorf("%w: --device is required", domain.ErrInvalidArgument)
	}

	overrides := config.ScanSettings{Format: *format, ColorMode: *colorMode, PageSize: *pageSize}
	if flags.Changed("resolution") {
		overrides.Resolution = resolution
	}
	if err := config.NewValidator().Struct(overrides); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}

	deps, err := setup(ctx, flags, *configPath)
	if err != nil {
		return err
	}
	defer deps.close()

	profiles := config.Profiles{}
	if deps.cfg.Profiles != "" {
		if profiles, err = config.NewProfileFileLoader(deps.cfg.Profiles).Load(ctx); err != nil {
			return err
		}
	}
	cfg, err := profiles.Resolve(*profile, overrides)
	if err != nil {
		return err
	}

	if *wait > 0 {
		if _, err := common.WaitForDevice(ctx, deps.service, *deviceID, common.DefaultWaitPolicy(*wait), deps.log); err != nil {
			return err
		}
	}

	start := time.Now()
	data, err := deps.service.Acquire(ctx, *deviceID, cfg)
	if err != nil {
		return err
	}

	path := *outPath
	if path == "" {
		path = "scan" + cfg.ImageFormat.Extension()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	fmt.Fprintf(out, "wrote %d bytes of %s to %s in %s\n",
		len(data), cfg.ImageFormat, path, time.Since(start).Round(time.Millisecond))
	return nil
}

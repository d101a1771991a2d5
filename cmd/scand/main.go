// Command scand serves the scan acquisition API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/scan-acquisition/internal/api"
	"github.com/ahrav/scan-acquisition/internal/app/acquisition"
	"github.com/ahrav/scan-acquisition/internal/config"
	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/internal/infra/hal/virtual"
	"github.com/ahrav/scan-acquisition/internal/infra/hal/wia"
	"github.com/ahrav/scan-acquisition/pkg/common"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
	"github.com/ahrav/scan-acquisition/pkg/common/otel"
	"github.com/ahrav/scan-acquisition/pkg/metrics"
)

var build = "develop"

const serviceType = "scand"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	flags := pflag.NewFlagSet(serviceType, pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to the configuration file")
	flags.String("hal.driver", "virtual", "HAL binding: virtual or wia")
	flags.String("hal.initial_device", "", "device selected at startup")
	flags.Int("web.api_port", 6000, "API listen port")
	flags.String("log_level", "info", "minimum log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	hostname, err := os.Hostname()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get hostname: %v\n", err)
		os.Exit(1)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	metadata := map[string]string{
		"service":  cfg.Telemetry.ServiceName,
		"hostname": hostname,
		"app":      serviceType,
		"driver":   string(cfg.HAL.Driver),
	}
	log := logger.NewWithMetadata(os.Stdout, level, cfg.Telemetry.ServiceName, otel.GetTraceID, logEvents, metadata)

	ctx := context.Background()
	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing telemetry support")

	tel, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
			"hal.driver":       string(cfg.HAL.Driver),
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(ctx)

	tracer := tel.TracerProvider.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// HAL
	log.Info(ctx, "startup", "status", "initializing HAL", "driver", cfg.HAL.Driver)

	hal, closeHAL, err := openHAL(log, cfg.HAL)
	if err != nil {
		return err
	}
	defer closeHAL()

	// -------------------------------------------------------------------------
	// Acquisition Service
	acquisitionMetrics, err := acquisition.NewAcquisitionMetrics(tel.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating acquisition metrics: %w", err)
	}

	var opts []acquisition.Option
	if cfg.HAL.InitialDevice != "" {
		opts = append(opts, acquisition.WithInitialDevice(cfg.HAL.InitialDevice))
	}
	svc := acquisition.NewAcquisitionService(ctx, hal, log, acquisitionMetrics, tracer, opts...)

	profiles := config.Profiles{}
	if cfg.Profiles != "" {
		profiles, err = config.NewProfileFileLoader(cfg.Profiles).Load(ctx)
		if err != nil {
			return fmt.Errorf("loading scan profiles: %w", err)
		}
		log.Info(ctx, "startup", "status", "scan profiles loaded", "profiles", profiles.Names())
	}

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	server := api.NewServer(api.Config{
		Build:          build,
		Log:            log,
		TracerProvider: tel.TracerProvider,
		Service:        svc,
		Profiles:       profiles,
		Limiter:        common.NewRateLimiter(cfg.RateLimit.EnumerationRPS, cfg.RateLimit.Burst),
		Metrics:        metrics.New("scan_acquisition"),
	})

	httpServer := http.Server{
		Addr:         cfg.Web.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Info(ctx, "startup", "status", "api router started", "host", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// -------------------------------------------------------------------------
	// Shutdown
	g.Go(func() error {
		<-gCtx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")
		defer log.Info(ctx, "shutdown", "status", "shutdown complete")

		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openHAL builds the configured HAL binding and returns a function that releases it.
func openHAL(log *logger.Logger, cfg config.HALConfig) (domain.HAL, func(), error) {
	switch cfg.Driver {
	case config.HALDriverWIA:
		hal, err := wia.New(log)
		if err != nil {
			return nil, nil, fmt.Errorf("starting WIA: %w", err)
		}
		return hal, func() { _ = hal.Close() }, nil

	case config.HALDriverVirtual:
		fault, err := virtual.ParseFault(cfg.VirtualFault)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing virtual fault: %w", err)
		}
		return virtual.New(log, virtual.WithFault(fault)), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown HAL driver %q", cfg.Driver)
	}
}

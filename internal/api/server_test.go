package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scan-acquisition/internal/app/acquisition"
	"github.com/ahrav/scan-acquisition/internal/config"
	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/internal/infra/hal/virtual"
	"github.com/ahrav/scan-acquisition/pkg/common"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
	"github.com/ahrav/scan-acquisition/pkg/metrics"
)

type mockService struct{ mock.Mock }

func (m *mockService) Devices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DeviceDescriptor), args.Error(1)
}

func (m *mockService) Acquire(ctx context.Context, deviceID string, cfg domain.ScanConfiguration) ([]byte, error) {
	args := m.Called(ctx, deviceID, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func intPtr(v int) *int { return &v }

func newTestServer(t *testing.T, svc AcquisitionService, mutate ...func(*Config)) (*Server, *metrics.Metrics) {
	t.Helper()

	m := metrics.New("scan_acquisition")
	cfg := Config{
		Build:          "test",
		Log:            logger.Noop(),
		TracerProvider: tracenoop.NewTracerProvider(),
		Service:        svc,
		Profiles: config.Profiles{
			"receipt": {Format: "png", ColorMode: "grayscale", Resolution: intPtr(100), PageSize: "a6"},
		},
		Metrics: m,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewServer(cfg), m
}

func newVirtualService(t *testing.T) (*acquisition.Service, *virtual.HAL) {
	t.Helper()

	hal := virtual.New(logger.Noop())
	am, err := acquisition.NewAcquisitionMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	svc := acquisition.NewAcquisitionService(context.Background(), hal, logger.Noop(), am, tracenoop.NewTracerProvider().Tracer("test"))
	return svc, hal
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthAndReadiness(t *testing.T) {
	s, _ := newTestServer(t, new(mockService))

	rec := do(t, s, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","build":"test"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/readiness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestListProfiles(t *testing.T) {
	s, _ := newTestServer(t, new(mockService))

	rec := do(t, s, http.MethodGet, "/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp profilesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Contains(t, resp.Profiles, "receipt")
	assert.Equal(t, "png", resp.Profiles["receipt"].Format)
}

func TestListScanners(t *testing.T) {
	svc, _ := newVirtualService(t)
	s, _ := newTestServer(t, svc)

	rec := do(t, s, http.MethodGet, "/v1/scanners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t,
		`{"scanners":[{"device_id":"virtual-flatbed-1","display_name":"Virtual Flatbed"}]}`,
		rec.Body.String(),
	)
}

func TestListScannersRateLimited(t *testing.T) {
	svc := new(mockService)
	svc.On("Devices", mock.Anything).Return([]domain.DeviceDescriptor{}, nil).Once()

	// A near-zero rate leaves only the burst token.
	s, m := newTestServer(t, svc, func(c *Config) { c.Limiter = common.NewRateLimiter(0.0001, 1) })

	rec := do(t, s, http.MethodGet, "/v1/scanners", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/scanners", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scan_acquisition_http_rate_limited_total{route="/v1/scanners"} 1`)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimited.WithLabelValues("/v1/scanners")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/v1/scanners", "200")), 0)
	assert.Contains(t, rec.Body.String(), `scan_acquisition_http_requests_total{method="GET",route="/v1/scanners",status="429"} 1`)

	svc.AssertExpectations(t)
}

func TestAcquireFromVirtualDevice(t *testing.T) {
	svc, hal := newVirtualService(t)
	s, _ := newTestServer(t, svc)

	body := `{"profile":"receipt","region_size":{"h":20,"v":30}}`
	rec := do(t, s, http.MethodPost, "/v1/scanners/virtual-flatbed-1/acquisitions", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderAcquisitionID))
	assert.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 79, img.Bounds().Dx())
	assert.Equal(t, 118, img.Bounds().Dy())

	assert.Equal(t, domain.DeviceProperties(domain.ScanConfiguration{
		ImageFormat:   domain.ImageFormatPNG,
		ColorMode:     domain.ColorModeGrayscale,
		BitsPerPixel:  24,
		ResolutionDPI: 100,
		RegionSize:    domain.Extent{Horizontal: 20, Vertical: 30},
	}), hal.LastProperties("virtual-flatbed-1"))
}

func TestAcquirePassesResolvedConfiguration(t *testing.T) {
	want := domain.DefaultScanConfiguration()
	want.ImageFormat = domain.ImageFormatTIFF
	want.Brightness = -200

	svc := new(mockService)
	svc.On("Acquire", mock.MatchedBy(func(ctx context.Context) bool {
		id, ok := acquisition.AcquisitionIDFromContext(ctx)
		return ok && id != ""
	}), "scanner-1", want).Return([]byte("tiff-bytes"), nil).Once()

	s, _ := newTestServer(t, svc)
	rec := do(t, s, http.MethodPost, "/v1/scanners/scanner-1/acquisitions",
		strings.NewReader(`{"format":"tiff","brightness":-200}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/tiff", rec.Header().Get("Content-Type"))
	assert.Equal(t, "tiff-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".tif\"")
	svc.AssertExpectations(t)
}

func TestAcquireEmptyBodyUsesDefaults(t *testing.T) {
	svc := new(mockService)
	svc.On("Acquire", mock.Anything, "scanner-1", domain.DefaultScanConfiguration()).
		Return([]byte{0xff, 0xd8}, nil).Once()

	s, _ := newTestServer(t, svc)
	rec := do(t, s, http.MethodPost, "/v1/scanners/scanner-1/acquisitions", http.NoBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	svc.AssertExpectations(t)
}

func TestAcquireRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"format":`},
		{name: "unknown field", body: `{"colour":"color"}`},
		{name: "unknown format", body: `{"format":"webp"}`},
		{name: "unknown color mode", body: `{"color_mode":"sepia"}`},
		{name: "unsupported bit depth", body: `{"bits_per_pixel":12}`},
		{name: "resolution too low", body: `{"resolution":10}`},
		{name: "brightness out of range", body: `{"brightness":1001}`},
		{name: "negative region", body: `{"region_size":{"h":-1,"v":10}}`},
		{name: "unknown page size", body: `{"page_size":"b5"}`},
		{name: "unknown profile", body: `{"profile":"poster"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			s, _ := newTestServer(t, svc)

			rec := do(t, s, http.MethodPost, "/v1/scanners/scanner-1/acquisitions", strings.NewReader(tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decodeError(t, rec)
			assert.Equal(t, domain.KindInvalidArgument, resp.Kind)
			assert.NotEmpty(t, resp.Error)
			svc.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAcquireErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   domain.ErrorKind
	}{
		{
			name:       "no device",
			err:        domain.NewAcquisitionError(domain.KindNoDevice, "scanner-1", domain.ErrHardwareNotFound),
			wantStatus: http.StatusNotFound,
			wantKind:   domain.KindNoDevice,
		},
		{
			name:       "connection lost",
			err:        domain.NewAcquisitionError(domain.KindConnectionLost, "scanner-1", errors.New("gone")),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   domain.KindConnectionLost,
		},
		{
			name:       "hardware unavailable",
			err:        domain.NewAcquisitionError(domain.KindHardwareUnavailable, "scanner-1", errors.New("no service")),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   domain.KindHardwareUnavailable,
		},
		{
			name:       "property rejected",
			err:        domain.NewAcquisitionError(domain.KindPropertyRejected, "scanner-1", errors.New("contrast")),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   domain.KindPropertyRejected,
		},
		{
			name:       "transfer failed",
			err:        domain.NewAcquisitionError(domain.KindTransferFailed, "scanner-1", nil),
			wantStatus: http.StatusBadGateway,
			wantKind:   domain.KindTransferFailed,
		},
		{
			name:       "waiting canceled",
			err:        fmt.Errorf("waiting for device: %w", context.DeadlineExceeded),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("Acquire", mock.Anything, "scanner-1", mock.Anything).Return(nil, tt.err).Once()
			s, _ := newTestServer(t, svc)

			rec := do(t, s, http.MethodPost, "/v1/scanners/scanner-1/acquisitions", http.NoBody)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(HeaderAcquisitionID))

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.err.Error(), resp.Error)
			svc.AssertExpectations(t)
		})
	}
}

func TestListScannersHardwareUnavailable(t *testing.T) {
	svc := new(mockService)
	svc.On("Devices", mock.Anything).
		Return(nil, fmt.Errorf("listing devices: %w", domain.ErrHardwareUnavailable)).Once()
	s, _ := newTestServer(t, svc)

	rec := do(t, s, http.MethodGet, "/v1/scanners", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.KindHardwareUnavailable, decodeError(t, rec).Kind)
}

func TestMetricsUseRoutePattern(t *testing.T) {
	svc := new(mockService)
	svc.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return([]byte("x"), nil)
	s, _ := newTestServer(t, svc)

	for _, id := range []string{"a", "b", "c"} {
		rec := do(t, s, http.MethodPost, "/v1/scanners/"+id+"/acquisitions", http.NoBody)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	do(t, s, http.MethodGet, "/v1/health", nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	body := rec.Body.String()
	assert.Contains(t, body,
		`scan_acquisition_http_requests_total{method="POST",route="/v1/scanners/{deviceID}/acquisitions",status="200"} 3`)
	assert.NotContains(t, body, `route="/v1/health"`)
}

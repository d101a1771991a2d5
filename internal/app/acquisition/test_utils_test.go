package acquisition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// mockHAL implements domain.HAL for testing.
type mockHAL struct{ mock.Mock }

func (m *mockHAL) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	args := m.Called(ctx)
	if devices := args.Get(0); devices != nil {
		return devices.([]domain.DeviceInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHAL) Connect(ctx context.Context, deviceID string) (domain.Session, error) {
	args := m.Called(ctx, deviceID)
	if session := args.Get(0); session != nil {
		return session.(domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockSession implements domain.Session for testing.
type mockSession struct{ mock.Mock }

func (m *mockSession) PrimarySurface(ctx context.Context) (domain.Surface, error) {
	args := m.Called(ctx)
	if surface := args.Get(0); surface != nil {
		return surface.(domain.Surface), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingSurface implements domain.Surface and records every call in order.
type recordingSurface struct {
	properties  []domain.PropertySetting
	failOn      domain.PropertyCode
	failErr     error
	transferred bool
	formatID    string
	showDialog  bool
	result      []byte
	transferErr error
}

func (s *recordingSurface) SetProperty(_ context.Context, code domain.PropertyCode, value int) error {
	if s.failErr != nil && code == s.failOn {
		return s.failErr
	}
	s.properties = append(s.properties, domain.PropertySetting{Code: code, Value: value})
	return nil
}

func (s *recordingSurface) Transfer(_ context.Context, formatID string, showDialog bool) ([]byte, error) {
	s.transferred = true
	s.formatID = formatID
	s.showDialog = showDialog
	return s.result, s.transferErr
}

func newTestMetrics(t *testing.T) AcquisitionMetrics {
	t.Helper()

	m, err := NewAcquisitionMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func scanners(ids ...string) []domain.DeviceInfo {
	devices := make([]domain.DeviceInfo, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, domain.DeviceInfo{ID: id, DisplayName: "Scanner " + id, Class: domain.DeviceClassScanner})
	}
	return devices
}

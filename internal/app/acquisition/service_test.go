package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

type serviceTestSuite struct {
	hal     *mockHAL
	session *mockSession
	surface *recordingSurface
	service *Service
}

// newServiceTestSuite wires a service whose HAL reports a single flatbed scanner
// "SCN1" that hands back a JPEG on transfer.
func newServiceTestSuite(t *testing.T, opts ...Option) *serviceTestSuite {
	t.Helper()

	s := &serviceTestSuite{
		hal:     new(mockHAL),
		session: new(mockSession),
		surface: &recordingSurface{result: jpegBytes},
	}
	s.hal.On("EnumerateDevices", mock.Anything).Return([]domain.DeviceInfo{
		{ID: "SCN1", DisplayName: "Flatbed", Class: domain.DeviceClassScanner},
		{ID: "CAM1", DisplayName: "Webcam", Class: domain.DeviceClassCamera},
	}, nil).Maybe()
	s.hal.On("Connect", mock.Anything, "SCN1").Return(s.session, nil).Maybe()
	s.session.On("PrimarySurface", mock.Anything).Return(s.surface, nil).Maybe()
	s.session.On("Close").Return(nil).Maybe()

	s.service = NewAcquisitionService(
		context.Background(),
		s.hal,
		logger.Noop(),
		newTestMetrics(t),
		noop.NewTracerProvider().Tracer("test"),
		opts...,
	)
	return s
}

func TestAcquisitionService_Acquire_DefaultConfiguration(t *testing.T) {
	suite := newServiceTestSuite(t)

	data, err := suite.service.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)

	want := []domain.PropertySetting{
		{Code: domain.PropertyColorMode, Value: 1},
		{Code: domain.PropertyBitsPerPixel, Value: 24},
		{Code: domain.PropertyHorizontalResolution, Value: 200},
		{Code: domain.PropertyVerticalResolution, Value: 200},
		{Code: domain.PropertyHorizontalStart, Value: 0},
		{Code: domain.PropertyVerticalStart, Value: 0},
		{Code: domain.PropertyHorizontalExtent, Value: 1654},
		{Code: domain.PropertyVerticalExtent, Value: 2339},
		{Code: domain.PropertyBrightness, Value: 0},
		{Code: domain.PropertyContrast, Value: 0},
	}
	assert.Equal(t, want, suite.surface.properties)
	assert.Equal(t, domain.FormatIDJPEG, suite.surface.formatID)
	assert.False(t, suite.surface.showDialog)

	selected, bound := suite.service.Registry().Selected()
	require.True(t, bound)
	assert.Equal(t, domain.DeviceDescriptor{DeviceID: "SCN1", DisplayName: "Flatbed"}, selected)
	suite.session.AssertCalled(t, "Close")
}

func TestAcquisitionService_Acquire_FormatIDPerFormat(t *testing.T) {
	tests := []struct {
		format domain.ImageFormat
		want   string
	}{
		{format: domain.ImageFormatJPEG, want: domain.FormatIDJPEG},
		{format: domain.ImageFormatBMP, want: domain.FormatIDBMP},
		{format: domain.ImageFormatPNG, want: domain.FormatIDPNG},
		{format: domain.ImageFormatGIF, want: domain.FormatIDGIF},
		{format: domain.ImageFormatTIFF, want: domain.FormatIDTIFF},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			suite := newServiceTestSuite(t)
			cfg := domain.DefaultScanConfiguration()
			cfg.ImageFormat = tt.format

			_, err := suite.service.Acquire(context.Background(), "SCN1", cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, suite.surface.formatID)
		})
	}
}

func TestAcquisitionService_Acquire_UnknownFormat(t *testing.T) {
	suite := newServiceTestSuite(t)
	cfg := domain.DefaultScanConfiguration()
	cfg.ImageFormat = domain.ImageFormat(42)

	data, err := suite.service.Acquire(context.Background(), "SCN1", cfg)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Nil(t, data)

	suite.hal.AssertNotCalled(t, "EnumerateDevices", mock.Anything)
	suite.hal.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestAcquisitionService_Acquire_RegionConvertedAtResolution(t *testing.T) {
	suite := newServiceTestSuite(t)
	cfg := domain.DefaultScanConfiguration()
	cfg.ResolutionDPI = 300
	cfg.RegionStart = domain.Extent{Horizontal: 10, Vertical: 20}
	cfg.RegionSize = domain.Extent{Horizontal: 100, Vertical: 50}

	_, err := suite.service.Acquire(context.Background(), "SCN1", cfg)
	require.NoError(t, err)

	got := make(map[domain.PropertyCode]int, len(suite.surface.properties))
	for _, p := range suite.surface.properties {
		got[p.Code] = p.Value
	}
	assert.Equal(t, 118, got[domain.PropertyHorizontalStart])
	assert.Equal(t, 236, got[domain.PropertyVerticalStart])
	assert.Equal(t, 1181, got[domain.PropertyHorizontalExtent])
	assert.Equal(t, 591, got[domain.PropertyVerticalExtent])
}

func TestAcquisitionService_Acquire_NoDevice(t *testing.T) {
	suite := newServiceTestSuite(t)

	data, err := suite.service.Acquire(context.Background(), "ghost", domain.DefaultScanConfiguration())
	require.ErrorIs(t, err, domain.ErrHardwareNotFound)
	assert.Nil(t, data)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindNoDevice, kind)

	_, bound := suite.service.Registry().Selected()
	assert.False(t, bound)
	suite.hal.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestAcquisitionService_Acquire_CameraIsNotAScanner(t *testing.T) {
	suite := newServiceTestSuite(t)

	_, err := suite.service.Acquire(context.Background(), "CAM1", domain.DefaultScanConfiguration())
	require.ErrorIs(t, err, domain.ErrHardwareNotFound)
}

func TestAcquisitionService_Acquire_HardwareUnavailable(t *testing.T) {
	hal := new(mockHAL)
	hal.On("EnumerateDevices", mock.Anything).Return(nil, errors.New("wia service stopped"))
	svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))

	_, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
	require.ErrorIs(t, err, domain.ErrHardwareUnavailable)

	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindHardwareUnavailable, kind)
}

func TestAcquisitionService_Acquire_ConnectionLost(t *testing.T) {
	tests := []struct {
		name  string
		setup func(hal *mockHAL, session *mockSession)
	}{
		{
			name: "connect fails",
			setup: func(hal *mockHAL, _ *mockSession) {
				hal.On("Connect", mock.Anything, "SCN1").Return(nil, errors.New("device unplugged"))
			},
		},
		{
			name: "connect returns no session",
			setup: func(hal *mockHAL, _ *mockSession) {
				hal.On("Connect", mock.Anything, "SCN1").Return(nil, nil)
			},
		},
		{
			name: "surface missing",
			setup: func(hal *mockHAL, session *mockSession) {
				hal.On("Connect", mock.Anything, "SCN1").Return(session, nil)
				session.On("PrimarySurface", mock.Anything).Return(nil, nil)
				session.On("Close").Return(nil)
			},
		},
		{
			name: "surface fails",
			setup: func(hal *mockHAL, session *mockSession) {
				hal.On("Connect", mock.Anything, "SCN1").Return(session, nil)
				session.On("PrimarySurface", mock.Anything).Return(nil, errors.New("item gone"))
				session.On("Close").Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hal, session := new(mockHAL), new(mockSession)
			hal.On("EnumerateDevices", mock.Anything).Return(scanners("SCN1"), nil)
			tt.setup(hal, session)
			svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))

			data, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
			require.ErrorIs(t, err, domain.ErrConnectionLost)
			assert.Nil(t, data)

			_, bound := svc.Registry().Selected()
			assert.False(t, bound, "lost device must not stay bound")
			session.AssertExpectations(t)
		})
	}
}

func TestAcquisitionService_Acquire_ConnectionLostReenumeratesNextTime(t *testing.T) {
	hal, session := new(mockHAL), new(mockSession)
	surface := &recordingSurface{result: jpegBytes}
	hal.On("EnumerateDevices", mock.Anything).Return(scanners("SCN1"), nil)
	hal.On("Connect", mock.Anything, "SCN1").Return(nil, errors.New("device unplugged")).Once()
	hal.On("Connect", mock.Anything, "SCN1").Return(session, nil).Once()
	session.On("PrimarySurface", mock.Anything).Return(surface, nil)
	session.On("Close").Return(nil)
	svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))

	_, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
	require.ErrorIs(t, err, domain.ErrConnectionLost)

	data, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
	hal.AssertNumberOfCalls(t, "EnumerateDevices", 2)
}

func TestAcquisitionService_Acquire_PropertyRejected(t *testing.T) {
	suite := newServiceTestSuite(t)
	suite.surface.failOn = domain.PropertyBrightness
	suite.surface.failErr = errors.New("value out of range")

	cfg := domain.DefaultScanConfiguration()
	cfg.Brightness = 5000

	data, err := suite.service.Acquire(context.Background(), "SCN1", cfg)
	require.ErrorIs(t, err, domain.ErrPropertyRejected)
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "value out of range")

	assert.Len(t, suite.surface.properties, 8, "writes stop at the rejected property")
	assert.False(t, suite.surface.transferred, "transfer must not run after a rejected property")
	suite.session.AssertCalled(t, "Close")
}

func TestAcquisitionService_Acquire_TransferFailed(t *testing.T) {
	tests := []struct {
		name        string
		result      []byte
		transferErr error
	}{
		{name: "nil image"},
		{name: "empty image", result: []byte{}},
		{name: "hal error", transferErr: errors.New("paper jam")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := newServiceTestSuite(t)
			suite.surface.result = tt.result
			suite.surface.transferErr = tt.transferErr

			data, err := suite.service.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
			require.ErrorIs(t, err, domain.ErrTransferFailed)
			assert.Nil(t, data)
			if tt.transferErr != nil {
				assert.ErrorIs(t, err, tt.transferErr)
			}
			suite.session.AssertCalled(t, "Close")

			// The failure must not poison the service.
			suite.surface.result = jpegBytes
			suite.surface.transferErr = nil
			data, err = suite.service.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
			require.NoError(t, err)
			assert.Equal(t, jpegBytes, data)
		})
	}
}

func TestAcquisitionService_Acquire_CloseErrorIsNotFatal(t *testing.T) {
	hal, session := new(mockHAL), new(mockSession)
	hal.On("EnumerateDevices", mock.Anything).Return(scanners("SCN1"), nil)
	hal.On("Connect", mock.Anything, "SCN1").Return(session, nil)
	session.On("PrimarySurface", mock.Anything).Return(&recordingSurface{result: jpegBytes}, nil)
	session.On("Close").Return(errors.New("release failed"))
	svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))

	data, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
}

func TestAcquisitionService_Acquire_SwitchesDevices(t *testing.T) {
	hal := new(mockHAL)
	sessionA, sessionB := new(mockSession), new(mockSession)
	surfaceA := &recordingSurface{result: []byte("A")}
	surfaceB := &recordingSurface{result: []byte("B")}
	hal.On("EnumerateDevices", mock.Anything).Return(scanners("A", "B"), nil)
	hal.On("Connect", mock.Anything, "A").Return(sessionA, nil)
	hal.On("Connect", mock.Anything, "B").Return(sessionB, nil)
	sessionA.On("PrimarySurface", mock.Anything).Return(surfaceA, nil)
	sessionB.On("PrimarySurface", mock.Anything).Return(surfaceB, nil)
	sessionA.On("Close").Return(nil)
	sessionB.On("Close").Return(nil)
	svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))

	for _, tc := range []struct{ id, want string }{{"A", "A"}, {"B", "B"}, {"A", "A"}} {
		data, err := svc.Acquire(context.Background(), tc.id, domain.DefaultScanConfiguration())
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(data))

		selected, bound := svc.Registry().Selected()
		require.True(t, bound)
		assert.Equal(t, tc.id, selected.DeviceID)
	}
	hal.AssertNumberOfCalls(t, "EnumerateDevices", 3)
}

func TestAcquisitionService_WithInitialDevice(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		suite := newServiceTestSuite(t, WithInitialDevice("SCN1"))

		selected, bound := suite.service.Registry().Selected()
		require.True(t, bound)
		assert.Equal(t, "SCN1", selected.DeviceID)

		_, err := suite.service.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
		require.NoError(t, err)
		suite.hal.AssertNumberOfCalls(t, "EnumerateDevices", 1)
	})

	t.Run("absent", func(t *testing.T) {
		suite := newServiceTestSuite(t, WithInitialDevice("ghost"))

		_, bound := suite.service.Registry().Selected()
		assert.False(t, bound)
	})
}

func TestAcquisitionService_Devices(t *testing.T) {
	suite := newServiceTestSuite(t)

	devices, err := suite.service.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.DeviceDescriptor{{DeviceID: "SCN1", DisplayName: "Flatbed"}}, devices)
}

// blockingSurface parks Transfer until release is closed and counts concurrent captures.
type blockingSurface struct {
	started  chan struct{}
	release  chan struct{}
	active   atomic.Int32
	maxSeen  atomic.Int32
	startMux sync.Once
}

func (s *blockingSurface) SetProperty(context.Context, domain.PropertyCode, int) error { return nil }

func (s *blockingSurface) Transfer(context.Context, string, bool) ([]byte, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		prev := s.maxSeen.Load()
		if n <= prev || s.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	s.startMux.Do(func() { close(s.started) })
	<-s.release
	return jpegBytes, nil
}

func newBlockingService(t *testing.T) (*Service, *blockingSurface) {
	t.Helper()

	hal, session := new(mockHAL), new(mockSession)
	surface := &blockingSurface{started: make(chan struct{}), release: make(chan struct{})}
	hal.On("EnumerateDevices", mock.Anything).Return(scanners("SCN1"), nil)
	hal.On("Connect", mock.Anything, "SCN1").Return(session, nil)
	session.On("PrimarySurface", mock.Anything).Return(surface, nil)
	session.On("Close").Return(nil)

	svc := NewAcquisitionService(context.Background(), hal, logger.Noop(), newTestMetrics(t), noop.NewTracerProvider().Tracer("test"))
	return svc, surface
}

func TestAcquisitionService_Acquire_Serialized(t *testing.T) {
	svc, surface := newBlockingService(t)

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
			errs <- err
		}()
	}

	<-surface.started
	time.Sleep(20 * time.Millisecond)
	close(surface.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), surface.maxSeen.Load(), "captures must never overlap")
}

func TestAcquisitionService_Acquire_CancelWhileWaiting(t *testing.T) {
	svc, surface := newBlockingService(t)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Acquire(context.Background(), "SCN1", domain.DefaultScanConfiguration())
		first <- err
	}()
	<-surface.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	data, err := svc.Acquire(ctx, "SCN1", domain.DefaultScanConfiguration())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, data)

	close(surface.release)
	require.NoError(t, <-first)
}

func TestAcquisitionIDFromContext(t *testing.T) {
	_, ok := AcquisitionIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = AcquisitionIDFromContext(WithAcquisitionID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := AcquisitionIDFromContext(WithAcquisitionID(context.Background(), "acq-1"))
	require.True(t, ok)
	assert.Equal(t, "acq-1", id)
}

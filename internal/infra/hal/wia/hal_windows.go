//go:build windows

package wia

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
	"github.com/ahrav/scan-acquisition/pkg/common/logger"
)

var errClosed = errors.New("wia: hal closed")

// HAL drives WIA devices. WIA automation objects live in a single-threaded
// apartment, so every COM call runs on one locked OS thread owned by the HAL.
type HAL struct {
	calls     chan func()
	done      chan struct{}
	closeOnce sync.Once

	manager *ole.IDispatch
	logger  *logger.Logger
}

// New starts the COM thread and creates the WIA device manager.
func New(log *logger.Logger) (*HAL, error) {
	h := &HAL{
		calls:  make(chan func()),
		done:   make(chan struct{}),
		logger: log.With("component", "wia_hal"),
	}

	ready := make(chan error, 1)
	go h.run(ready)
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHardwareUnavailable, err)
	}
	return h, nil
}

func (h *HAL) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		ready <- comError("CoInitializeEx", err)
		return
	}
	defer ole.CoUninitialize()

	manager, err := createDispatch("WIA.DeviceManager")
	if err != nil {
		ready <- err
		return
	}
	h.manager = manager
	defer manager.Release()
	ready <- nil

	for {
		select {
		case fn := <-h.calls:
			fn()
		case <-h.done:
			return
		}
	}
}

// do runs fn on the COM thread and waits for it. A caller whose context ends while
// waiting for the thread gives up; once fn has started it runs to completion.
func (h *HAL) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	call := func() { result <- fn() }

	select {
	case h.calls <- call:
	case <-h.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-result
}

// Close stops the COM thread and releases the device manager.
func (h *HAL) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// EnumerateDevices lists every device the WIA device manager knows about.
func (h *HAL) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	var devices []domain.DeviceInfo
	err := h.do(ctx, func() error {
		infos, err := getDispatch(h.manager, "DeviceInfos")
		if err != nil {
			return err
		}
		defer infos.Release()

		count, err := getInt(infos, "Count")
		if err != nil {
			return err
		}

		devices = make([]domain.DeviceInfo, 0, count)
		for i := int64(1); i <= count; i++ {
			info, err := getDispatch(infos, "Item", int32(i))
			if err != nil {
				return err
			}
			device, err := describe(info)
			info.Release()
			if err != nil {
				return err
			}
			devices = append(devices, device)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug(ctx, "WIA: devices enumerated", "count", len(devices))
	return devices, nil
}

func describe(info *ole.IDispatch) (domain.DeviceInfo, error) {
	id, err := getString(info, "DeviceID")
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	wiaType, err := getInt(info, "Type")
	if err != nil {
		return domain.DeviceInfo{}, err
	}

	props, err := getDispatch(info, "Properties")
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	defer props.Release()

	nameProp, err := getDispatch(props, "Item", deviceNameProperty)
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	defer nameProp.Release()

	name, err := getString(nameProp, "Value")
	if err != nil {
		return domain.DeviceInfo{}, err
	}

	return domain.DeviceInfo{ID: id, DisplayName: name, Class: deviceClass(wiaType)}, nil
}

// Connect locates the device info for deviceID and connects to it.
func (h *HAL) Connect(ctx context.Context, deviceID string) (domain.Session, error) {
	var device *ole.IDispatch
	err := h.do(ctx, func() error {
		infos, err := getDispatch(h.manager, "DeviceInfos")
		if err != nil {
			return err
		}
		defer infos.Release()

		count, err := getInt(infos, "Count")
		if err != nil {
			return err
		}
		for i := int64(1); i <= count; i++ {
			info, err := getDispatch(infos, "Item", int32(i))
			if err != nil {
				return err
			}
			id, err := getString(info, "DeviceID")
			if err != nil || id != deviceID {
				info.Release()
				if err != nil {
					return err
				}
				continue
			}

			device, err = callDispatch(info, "Connect")
			info.Release()
			return err
		}
		return fmt.Errorf("wia: device %q not connected", deviceID)
	})
	if err != nil {
		return nil, err
	}

	return &session{hal: h, device: device}, nil
}

type session struct {
	hal    *HAL
	device *ole.IDispatch

	mu    sync.Mutex
	items []*ole.IDispatch
}

func (s *session) PrimarySurface(ctx context.Context) (domain.Surface, error) {
	var item *ole.IDispatch
	err := s.hal.do(ctx, func() error {
		items, err := getDispatch(s.device, "Items")
		if err != nil {
			return err
		}
		defer items.Release()

		count, err := getInt(items, "Count")
		if err != nil {
			return err
		}
		if count < primaryItemIndex {
			return nil
		}
		item, err = getDispatch(items, "Item", int32(primaryItemIndex))
		return err
	})
	if err != nil || item == nil {
		return nil, err
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()

	return &surface{hal: s.hal, item: item}, nil
}

// Close releases the device and every item handed out by the session.
func (s *session) Close() error {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.mu.Unlock()

	return s.hal.do(context.Background(), func() error {
		for _, item := range items {
			item.Release()
		}
		s.device.Release()
		return nil
	})
}

type surface struct {
	hal  *HAL
	item *ole.IDispatch
}

func (s *surface) SetProperty(ctx context.Context, code domain.PropertyCode, value int) error {
	return s.hal.do(ctx, func() error {
		props, err := getDispatch(s.item, "Properties")
		if err != nil {
			return err
		}
		defer props.Release()

		prop, err := getDispatch(props, "Item", propertyKey(code))
		if err != nil {
			return err
		}
		defer prop.Release()

		if _, err := oleutil.PutProperty(prop, "Value", int32(value)); err != nil {
			return comError("Property.Value", err)
		}
		return nil
	})
}

// Transfer shows the WIA transfer dialog and reads the resulting image file.
// A cancelled dialog yields no bytes and no error.
func (s *surface) Transfer(ctx context.Context, formatID string, showDialog bool) ([]byte, error) {
	var data []byte
	err := s.hal.do(ctx, func() error {
		dialog, err := createDispatch("WIA.CommonDialog")
		if err != nil {
			return err
		}
		defer dialog.Release()

		result, err := oleutil.CallMethod(dialog, "ShowTransfer", s.item, formatID, showDialog)
		if err != nil {
			return comError("CommonDialog.ShowTransfer", err)
		}
		defer result.Clear()
		if result.VT != ole.VT_DISPATCH || result.ToIDispatch() == nil {
			return nil
		}
		imageFile := result.ToIDispatch()

		fileData, err := getDispatch(imageFile, "FileData")
		if err != nil {
			return err
		}
		defer fileData.Release()

		binary, err := oleutil.GetProperty(fileData, "BinaryData")
		if err != nil {
			return comError("Vector.BinaryData", err)
		}
		defer binary.Clear()

		array := binary.ToArray()
		if array == nil {
			return nil
		}
		data = array.ToByteArray()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func createDispatch(progID string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, comError(progID, err)
	}
	defer unknown.Release()

	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, comError(progID, err)
	}
	return disp, nil
}

func getDispatch(disp *ole.IDispatch, name string, params ...any) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(disp, name, params...)
	if err != nil {
		return nil, comError(name, err)
	}
	result := v.ToIDispatch()
	if result == nil {
		return nil, comError(name, errors.New("not an object"))
	}
	return result, nil
}

func callDispatch(disp *ole.IDispatch, method string, params ...any) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(disp, method, params...)
	if err != nil {
		return nil, comError(method, err)
	}
	result := v.ToIDispatch()
	if result == nil {
		return nil, comError(method, errors.New("not an object"))
	}
	return result, nil
}

func getString(disp *ole.IDispatch, name string, params ...any) (string, error) {
	v, err := oleutil.GetProperty(disp, name, params...)
	if err != nil {
		return "", comError(name, err)
	}
	defer v.Clear()
	return fmt.Sprint(v.Value()), nil
}

func getInt(disp *ole.IDispatch, name string) (int64, error) {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return 0, comError(name, err)
	}
	defer v.Clear()
	return v.Val, nil
}

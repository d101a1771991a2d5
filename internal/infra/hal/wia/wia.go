// Package wia binds the acquisition HAL to Windows Image Acquisition 2.0 through its
// automation layer (WIA.DeviceManager). On other platforms New returns
// acquisition.ErrHardwareUnavailable.
package wia

import (
	"fmt"
	"strconv"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// WiaDeviceType values reported by DeviceInfo.Type.
const (
	wiaTypeUnspecified = 0
	wiaTypeScanner     = 1
	wiaTypeCamera      = 2
	wiaTypeVideo       = 3
)

// primaryItemIndex addresses the flatbed item in Device.Items, which is one based.
const primaryItemIndex = 1

// deviceNameProperty is the DeviceInfo property holding the display name.
const deviceNameProperty = "Name"

func deviceClass(wiaType int64) domain.DeviceClass {
	switch wiaType {
	case wiaTypeScanner:
		return domain.DeviceClassScanner
	case wiaTypeCamera:
		return domain.DeviceClassCamera
	case wiaTypeVideo:
		return domain.DeviceClassVideo
	default:
		return domain.DeviceClassUnspecified
	}
}

// propertyKey is the key Item.Properties is indexed with for code.
func propertyKey(code domain.PropertyCode) string {
	return strconv.Itoa(int(code))
}

// comError annotates a failed automation call with the member it targeted.
func comError(member string, err error) error {
	return fmt.Errorf("wia: %s: %w", member, err)
}

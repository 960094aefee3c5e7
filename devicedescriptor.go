package adb

import (
	"fmt"

	"github.com/d1ced/adbclient/wire"
)

// DeviceDescriptor selects the device a transport is opened for.
type DeviceDescriptor struct {
	descriptor uint8
	// Only used if descriptor is serialDevice.
	serial string
}

const (
	anyDevice = iota
	usbDevice
	localDevice
	serialDevice
)

var (
	// AnyDevice represents host:transport-any and host:<request>
	AnyDevice = DeviceDescriptor{anyDevice, ""}
	// AnyUSBDevice represents host:transport-usb and host-usb:<request>
	AnyUSBDevice = DeviceDescriptor{usbDevice, ""}
	// AnyLocalDevice represents host:transport-local and host-local:<request>
	AnyLocalDevice = DeviceDescriptor{localDevice, ""}
)

// DeviceWithSerial represents host:transport:<serial> and host-serial:<serial>:<request>
func DeviceWithSerial(serial string) DeviceDescriptor {
	return DeviceDescriptor{serialDevice, serial}
}

func (d DeviceDescriptor) String() string {
	switch d.descriptor {
	case anyDevice:
		return "Device"
	case usbDevice:
		return "DeviceUSB"
	case localDevice:
		return "DeviceLocal"
	case serialDevice:
		return fmt.Sprintf("DeviceSerial[%s]", d.serial)
	default:
		return "<invalid DeviceDescriptor>"
	}
}

// hostRequest addresses a host service at the selected device.
func (d DeviceDescriptor) hostRequest(service string) string {
	switch d.descriptor {
	case usbDevice:
		return "host-usb:" + service
	case localDevice:
		return "host-local:" + service
	case serialDevice:
		return fmt.Sprintf("host-serial:%s:%s", d.serial, service)
	default:
		return "host:" + service
	}
}

func (d DeviceDescriptor) transportRequest() string {
	switch d.descriptor {
	case usbDevice:
		return "host:transport-usb"
	case localDevice:
		return "host:transport-local"
	case serialDevice:
		return wire.TransportRequest(d.serial)
	default:
		return "host:transport-any"
	}
}

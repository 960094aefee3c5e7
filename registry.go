package adb

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/wire"
)

// Registry is an immutable snapshot of the devices known to the server.
type Registry struct {
	devices []Device
	index   map[string]int
}

// ParseDeviceList parses a host:devices or host:devices-l payload. Blank
// lines are ignored; lines that cannot be parsed are logged and skipped.
// A nil logger discards the warnings.
func ParseDeviceList(data []byte, logger *slog.Logger) *Registry {
	r := &Registry{index: map[string]int{}}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		d, err := parseDevice(line)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping device line", logfields.Line(line), logfields.Error(err))
			}
			continue
		}
		if i, ok := r.index[d.Serial]; ok {
			r.devices[i] = d
			continue
		}
		r.index[d.Serial] = len(r.devices)
		r.devices = append(r.devices, d)
	}
	return r
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.devices)
}

// Devices returns a copy of the devices in the order the server listed them.
func (r *Registry) Devices() []Device {
	if r == nil {
		return nil
	}
	out := make([]Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.clone()
	}
	return out
}

// Serials returns the sorted serial numbers.
func (r *Registry) Serials() []string {
	if r == nil {
		return nil
	}
	serials := make([]string, 0, len(r.devices))
	for _, d := range r.devices {
		serials = append(serials, d.Serial)
	}
	sort.Strings(serials)
	return serials
}

// Lookup returns the device with serial or a DeviceNotFound error.
func (r *Registry) Lookup(serial string) (Device, error) {
	if r != nil {
		if i, ok := r.index[serial]; ok {
			return r.devices[i].clone(), nil
		}
	}
	return Device{}, wire.Errorf(wire.DeviceNotFound, "device %q not in device list", serial)
}

func (r *Registry) states() map[string]DeviceState {
	states := make(map[string]DeviceState, r.Len())
	if r == nil {
		return states
	}
	for _, d := range r.devices {
		states[d.Serial] = d.State
	}
	return states
}

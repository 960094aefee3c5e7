package adb

import (
	"maps"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Attribute keys of the long device list form, in the order adb prints them.
const (
	AttrUSB         = "usb"
	AttrProduct     = "product"
	AttrModel       = "model"
	AttrDevice      = "device"
	AttrFeatures    = "features"
	AttrTransportID = "transport_id"
)

var longFormAttrs = []string{AttrUSB, AttrProduct, AttrModel, AttrDevice, AttrFeatures}

// Device is one entry of a device list.
type Device struct {
	// Always set.
	Serial string
	State  DeviceState
	// Zero when the server did not report one (short form).
	TransportID int
	// Free text some states carry, e.g. the reason for "no permissions".
	Message string
	// Attributes of the long form and properties fetched with getprop.
	Properties map[string]string
}

func (d Device) prop(key string) string {
	return d.Properties[key]
}

func (d Device) Product() string { return d.prop(AttrProduct) }
func (d Device) Model() string   { return d.prop(AttrModel) }

// Name is the device attribute, the code name of the hardware.
func (d Device) Name() string { return d.prop(AttrDevice) }

// USB is the usb port path. Only set for devices connected via USB.
func (d Device) USB() string { return d.prop(AttrUSB) }

// IsUSB returns true if the device is connected via USB.
func (d Device) IsUSB() bool {
	return d.USB() != ""
}

// Features lists the transport features the server negotiated.
func (d Device) Features() []string {
	f := d.prop(AttrFeatures)
	if f == "" {
		return nil
	}
	return strings.Split(f, ",")
}

// Online reports whether commands can be sent to the device.
func (d Device) Online() bool {
	return d.State == StateOnline
}

// String returns the device in the long form used by host:devices-l.
func (d Device) String() string {
	b := &strings.Builder{}
	b.WriteString(d.Serial)
	b.WriteByte('\t')
	b.WriteString(d.State.String())
	if d.Message != "" {
		b.WriteByte(' ')
		b.WriteString(d.Message)
	}
	for _, key := range longFormAttrs {
		if v := d.prop(key); v != "" {
			b.WriteString(" " + key + ":" + v)
		}
	}
	if d.TransportID > 0 {
		b.WriteString(" " + AttrTransportID + ":" + strconv.Itoa(d.TransportID))
	}
	return b.String()
}

func (d Device) clone() Device {
	d.Properties = maps.Clone(d.Properties)
	return d
}

// parseDevice parses one line in the short ("serial\tstate") or long form.
// A state word the server added after this package was written is kept as
// StateUnknown with the word at the front of Message.
func parseDevice(line string) (Device, error) {
	serial, rest := splitSerial(line)
	serial = strings.TrimSpace(serial)
	fields := strings.Fields(rest)
	if serial == "" || len(fields) == 0 {
		return Device{}, errors.Errorf("malformed device line, expected serial and state in %q", line)
	}
	d := Device{Serial: serial, Properties: map[string]string{}}

	var message []string
	stateWord, attrs := fields[0], fields[1:]
	if stateWord == "no" && len(attrs) > 0 && attrs[0] == "permissions" {
		stateWord, attrs = "no permissions", attrs[1:]
	}
	d.State = parseDeviceState(stateWord)
	if d.State == StateUnknown && stateWord != "unknown" {
		message = append(message, stateWord)
	}

	for _, field := range attrs {
		key, val, ok := parseKeyVal(field)
		switch {
		case ok && key == AttrTransportID:
			id, err := strconv.Atoi(val)
			if err != nil {
				return Device{}, errors.Wrapf(err, "malformed transport id %q", val)
			}
			d.TransportID = id
		case ok:
			d.Properties[key] = val
		default:
			message = append(message, field)
		}
	}
	d.Message = strings.Join(message, " ")
	return d, nil
}

// splitSerial splits line in front of the state. The short form separates
// serial and state with a tab. The long form pads the serial with spaces,
// and serials may contain spaces themselves ("(no serial number)", mDNS
// names), so the serial ends in front of the first known state word.
func splitSerial(line string) (string, string) {
	if serial, rest, ok := strings.Cut(line, "\t"); ok {
		return serial, rest
	}
	var starts []int
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && (i == 0 || line[i-1] == ' ') {
			starts = append(starts, i)
		}
	}
	for _, start := range starts[min(1, len(starts)):] {
		word := line[start:]
		if end := strings.IndexByte(word, ' '); end >= 0 {
			word = word[:end]
		}
		if _, ok := deviceStateStrings[word]; ok || strings.HasPrefix(line[start:], "no permissions") {
			return line[:start], line[start:]
		}
	}
	if len(starts) < 2 {
		return line, ""
	}
	return line[:starts[1]], line[starts[1]:]
}

// parseKeyVal parses a key:val attribute with a known key.
func parseKeyVal(pair string) (string, string, bool) {
	key, val, ok := strings.Cut(pair, ":")
	if !ok || val == "" {
		return "", "", false
	}
	switch key {
	case AttrUSB, AttrProduct, AttrModel, AttrDevice, AttrFeatures, AttrTransportID:
		return key, val, true
	}
	return "", "", false
}

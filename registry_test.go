package adb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceLong(t *testing.T) {
	d, err := parseDevice("0123456789ABCDEF      device usb:1-1 product:sailfish model:Pixel device:sailfish transport_id:3")
	require.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF", d.Serial)
	assert.Equal(t, StateOnline, d.State)
	assert.Equal(t, "1-1", d.USB())
	assert.True(t, d.IsUSB())
	assert.Equal(t, "sailfish", d.Product())
	assert.Equal(t, "Pixel", d.Model())
	assert.Equal(t, "sailfish", d.Name())
	assert.Equal(t, 3, d.TransportID)
	assert.True(t, d.Online())
}

func TestParseDeviceShort(t *testing.T) {
	d, err := parseDevice("192.168.1.5:5555\toffline")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5:5555", d.Serial)
	assert.Equal(t, StateOffline, d.State)
	assert.False(t, d.IsUSB())
	assert.Empty(t, d.Message)
}

func TestParseDeviceNoPermissions(t *testing.T) {
	d, err := parseDevice("????????????\tno permissions (user in plugdev group; are your udev rules wrong?) usb:1-4")
	require.NoError(t, err)
	assert.Equal(t, StateNoPermissions, d.State)
	assert.Equal(t, "(user in plugdev group; are your udev rules wrong?)", d.Message)
	assert.Equal(t, "1-4", d.USB())
}

func TestParseDeviceErrors(t *testing.T) {
	for _, line := range []string{"serialonly", "\tdevice", "abc\t  "} {
		_, err := parseDevice(line)
		assert.Error(t, err, line)
	}
}

func TestParseDeviceUnknownState(t *testing.T) {
	d, err := parseDevice("abc\tflying usb:1-2")
	require.NoError(t, err)
	assert.Equal(t, "abc", d.Serial)
	assert.Equal(t, StateUnknown, d.State)
	assert.Equal(t, "flying", d.Message)
	assert.Equal(t, "1-2", d.USB())
}

func TestParseDeviceSerialWithSpaces(t *testing.T) {
	tests := []struct {
		line   string
		serial string
		state  DeviceState
	}{
		{"(no serial number)\tdevice usb:1-1 transport_id:5", "(no serial number)", StateOnline},
		{"adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp\tdevice product:a52q model:SM_A525F device:a52q transport_id:6",
			"adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp", StateOnline},
		{"(no serial number)     device usb:1-1 transport_id:5", "(no serial number)", StateOnline},
		{"adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp offline transport_id:6",
			"adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp", StateOffline},
		{"R58M123                download usb:1-3 transport_id:7", "R58M123", StateDownload},
		{"????????????           no permissions (missing udev rules) usb:1-4", "????????????", StateNoPermissions},
	}
	for _, test := range tests {
		d, err := parseDevice(test.line)
		require.NoError(t, err, test.line)
		assert.Equal(t, test.serial, d.Serial, test.line)
		assert.Equal(t, test.state, d.State, test.line)
	}
}

func TestParseDeviceListKeepsAllDevices(t *testing.T) {
	data := "(no serial number)\tdevice usb:1-1 transport_id:1\n" +
		"adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp\tdevice product:a52q model:SM_A525F device:a52q transport_id:2\n" +
		"R58M123\tdownload usb:1-3 transport_id:3\n" +
		"R58M124\trescue transport_id:4\n"
	reg := ParseDeviceList([]byte(data), nil)
	require.Equal(t, 4, reg.Len())

	d, err := reg.Lookup("adb-R58M123-AbCdEf (2)._adb-tls-connect._tcp")
	require.NoError(t, err)
	assert.Equal(t, "SM_A525F", d.Model())
	d, err = reg.Lookup("R58M123")
	require.NoError(t, err)
	assert.Equal(t, "download", d.State.String())
	d, err = reg.Lookup("R58M124")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, d.State)

	again := ParseDeviceList([]byte(d.String()+"\n"), nil)
	assert.Equal(t, []Device{d}, again.Devices())
}

func TestParseDeviceList(t *testing.T) {
	data := "emulator-5554\tdevice product:sdk_gphone model:sdk device:generic transport_id:1\r\n" +
		"\n" +
		"garbage\n" +
		"R58M\tunauthorized usb:2-1 transport_id:2\n" +
		"emulator-5554\toffline transport_id:4\n"
	reg := ParseDeviceList([]byte(data), nil)

	require.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"R58M", "emulator-5554"}, reg.Serials())

	emu, err := reg.Lookup("emulator-5554")
	require.NoError(t, err)
	assert.Equal(t, StateOffline, emu.State, "later line wins")
	assert.Equal(t, 4, emu.TransportID)

	_, err = reg.Lookup("missing")
	assert.True(t, HasErrCode(err, DeviceNotFound))
}

func TestDeviceListRoundTrip(t *testing.T) {
	data := "emulator-5554\tdevice product:sdk_gphone model:sdk device:generic transport_id:1\n" +
		"R58M\tunauthorized usb:2-1 transport_id:2\n" +
		"0123\tno permissions (missing udev rules) usb:1-4\n" +
		"10.0.0.7:5555\trecovery\n"
	reg := ParseDeviceList([]byte(data), nil)
	require.Equal(t, 4, reg.Len())

	var out string
	for _, d := range reg.Devices() {
		out += d.String() + "\n"
	}
	again := ParseDeviceList([]byte(out), nil)
	assert.Equal(t, reg.Devices(), again.Devices())
}

func TestRegistryDevicesAreCopies(t *testing.T) {
	reg := ParseDeviceList([]byte("emulator-5554\tdevice model:sdk\n"), nil)
	devices := reg.Devices()
	devices[0].Properties[AttrModel] = "changed"
	devices[0].State = StateOffline

	d, err := reg.Lookup("emulator-5554")
	require.NoError(t, err)
	assert.Equal(t, "sdk", d.Model())
	assert.Equal(t, StateOnline, d.State)
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	assert.Equal(t, 0, reg.Len())
	assert.Nil(t, reg.Devices())
	_, err := reg.Lookup("x")
	assert.True(t, HasErrCode(err, DeviceNotFound))
}

func TestDeviceStateString(t *testing.T) {
	assert.Equal(t, "device", StateOnline.String())
	assert.Equal(t, "no permissions", StateNoPermissions.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, StateUnknown, parseDeviceState("flying"))
	assert.Equal(t, StateBootloader, parseDeviceState("bootloader"))
	assert.Equal(t, StateDownload, parseDeviceState("download"))
}

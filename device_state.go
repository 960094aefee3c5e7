package adb

// DeviceState is the connection state adb reports for a device.
// A device can be communicated with when it's in StateOnline.
// A USB device will make the following state transitions:
//
//	Plugged in: StateDisconnected->StateOffline->StateOnline
//	Unplugged:  StateOnline->StateDisconnected
//
// StateDisconnected is never reported by the server. The DeviceWatcher uses
// it for devices that left the list.
type DeviceState uint8

const (
	StateUnknown DeviceState = iota
	StateOffline
	StateOnline
	StateUnauthorized
	StateBootloader
	StateRecovery
	StateNoPermissions
	StateConnecting
	StateAuthorizing
	StateSideload
	StateHost
	StateDownload
	StateDisconnected
)

// deviceStateStrings maps the words used by the server. "device" is the
// online state.
var deviceStateStrings = map[string]DeviceState{
	"offline":        StateOffline,
	"device":         StateOnline,
	"unauthorized":   StateUnauthorized,
	"bootloader":     StateBootloader,
	"recovery":       StateRecovery,
	"no permissions": StateNoPermissions,
	"connecting":     StateConnecting,
	"authorizing":    StateAuthorizing,
	"sideload":       StateSideload,
	"host":           StateHost,
	"download":       StateDownload,
	"unknown":        StateUnknown,
}

// parseDeviceState maps a state word, StateUnknown if it is not known.
func parseDeviceState(str string) DeviceState {
	if state, ok := deviceStateStrings[str]; ok {
		return state
	}
	return StateUnknown
}

func (s DeviceState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateUnknown:
		return "unknown"
	}
	for str, state := range deviceStateStrings {
		if state == s {
			return str
		}
	}
	return "unknown"
}

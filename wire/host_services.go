package wire

import "strings"

// Host service requests understood by the adb server.
const (
	HostVersion       = "host:version"
	HostKill          = "host:kill"
	HostDevices       = "host:devices"
	HostDevicesLong   = "host:devices-l"
	HostTrackDevices  = "host:track-devices"
	HostTrackDevicesL = "host:track-devices-l"
	HostListForward   = "host:list-forward"
	KillForwardAll    = "killforward-all"
	ListForward       = "list-forward"
	SyncRequest       = "sync:"
	Features          = "features"
	GetSerialNo       = "get-serialno"
	RootRequest       = "root:"
	UnrootRequest     = "unroot:"

	ReverseListForward    = "reverse:list-forward"
	ReverseKillForwardAll = "reverse:killforward-all"
)

// TransportRequest selects the device with serial for the rest of the
// connection.
func TransportRequest(serial string) string {
	return "host:transport:" + serial
}

// ForwardService builds the forward service. With noRebind set the server
// refuses to replace an existing forward for local.
func ForwardService(local, remote string, noRebind bool) string {
	var b strings.Builder
	b.WriteString("forward:")
	if noRebind {
		b.WriteString("norebind:")
	}
	b.WriteString(local)
	b.WriteByte(';')
	b.WriteString(remote)
	return b.String()
}

// KillForwardService removes the forward on local.
func KillForwardService(local string) string {
	return "killforward:" + local
}

// ShellRequest runs command with the device shell.
func ShellRequest(command string) string {
	return "shell:" + command
}

// ConnectRequest asks the server to connect to a device over TCP/IP.
func ConnectRequest(address string) string {
	return "host:connect:" + address
}

// DisconnectRequest drops a TCP/IP device. An empty address drops all.
func DisconnectRequest(address string) string {
	return "host:disconnect:" + address
}

// RebootRequest reboots the device into target, which may be empty.
func RebootRequest(target string) string {
	return "reboot:" + target
}

// ReverseForwardService builds the device service that forwards remote on
// the device to local on the host.
func ReverseForwardService(remote, local string, noRebind bool) string {
	return "reverse:" + ForwardService(remote, local, noRebind)
}

// ReverseKillForwardService removes the reverse forward on remote.
func ReverseKillForwardService(remote string) string {
	return "reverse:" + KillForwardService(remote)
}

// ExecRequest runs command on the device without a pty. Unlike shell, the
// stream is binary safe in both directions.
func ExecRequest(command string) string {
	return "exec:" + command
}

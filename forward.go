package adb

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/wire"
)

// ForwardSpec protocols
const (
	FProtocolTCP        = "tcp"
	FProtocolJDWP       = "jdwp"
	FProtocolAbstract   = "localabstract"
	FProtocolReserved   = "localreserved"
	FProtocolFilesystem = "localfilesystem"
	FProtocolDev        = "dev"
)

// ForwardSpec is one end of a forward, e.g. "tcp:8080" or
// "localabstract:chrome_devtools_remote".
type ForwardSpec string

// TCPForward returns the spec for a TCP port. Port 0 lets the server pick.
func TCPForward(port int) ForwardSpec {
	return ForwardSpec(FProtocolTCP + ":" + strconv.Itoa(port))
}

// Port returns -1 if the endpoint has no port.
func (f ForwardSpec) Port() int {
	proto, arg, ok := strings.Cut(string(f), ":")
	if !ok || (proto != FProtocolTCP && proto != FProtocolJDWP) {
		return -1
	}
	p, err := strconv.Atoi(arg)
	if err != nil {
		return -1
	}
	return p
}

func (f ForwardSpec) Protocol() string {
	proto, _, _ := strings.Cut(string(f), ":")
	return proto
}

// ParseForwardSpec validates s.
func ParseForwardSpec(s string) (ForwardSpec, error) {
	proto, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return "", wire.Errorf(wire.ParseError, "malformed forward spec %q", s)
	}
	switch proto {
	case FProtocolTCP, FProtocolJDWP:
		if p, err := strconv.Atoi(arg); err != nil || p < 0 || p > 65535 {
			return "", wire.Errorf(wire.ParseError, "malformed pid or port: %s", arg)
		}
	case FProtocolAbstract, FProtocolReserved, FProtocolFilesystem, FProtocolDev:
	default:
		return "", wire.Errorf(wire.ParseError, "unrecognized protocol: %s", proto)
	}
	return ForwardSpec(s), nil
}

// ForwardPair is an active forward reported by the server.
type ForwardPair struct {
	Serial string
	Local  ForwardSpec
	Remote ForwardSpec
}

// parseForwardList parses the output of list-forward, one
// "serial local remote" triple per line.
func parseForwardList(data string) ([]ForwardPair, error) {
	var pairs []ForwardPair
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, wire.Errorf(wire.ParseError, "malformed forward line %q", line)
		}
		pairs = append(pairs, ForwardPair{
			Serial: fields[0],
			Local:  ForwardSpec(fields[1]),
			Remote: ForwardSpec(fields[2]),
		})
	}
	return pairs, nil
}

// Forward forwards connections to local on the host to remote on the device.
// With noRebind set an existing forward on local is an error. It returns
// the local port, which the server picks when local is "tcp:0".
func (c *Client) Forward(ctx context.Context, serial string, local, remote ForwardSpec, noRebind bool) (port int, err error) {
	defer func(start time.Time) { c.server.observe("forward", start, err) }(time.Now())

	d := DeviceWithSerial(serial)
	if err := c.requireDevice(ctx, d); err != nil {
		return 0, err
	}
	ctx, cancel := c.server.withTimeout(ctx)
	defer cancel()
	conn, err := c.server.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	req := d.hostRequest(wire.ForwardService(string(local), string(remote), noRebind))
	if err := conn.SendMessage(req); err != nil {
		return 0, err
	}
	// The server acknowledges the request, then the forward.
	if err := conn.ReadStatus(); err != nil {
		return 0, err
	}
	if err := conn.ReadStatus(); err != nil {
		return 0, err
	}
	port = local.Port()
	if port == 0 {
		msg, err := conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		port, err = strconv.Atoi(strings.TrimSpace(string(msg)))
		if err != nil {
			return 0, &wire.Err{Code: wire.ParseError, Message: "malformed port " + strconv.Quote(string(msg)), Request: req, Cause: err}
		}
	}
	c.logger.Info("forward created", logfields.Serial(serial),
		logfields.Request(string(local)+";"+string(remote)))
	return port, nil
}

// ListForward lists the forwards of the device.
func (c *Client) ListForward(ctx context.Context, serial string) ([]ForwardPair, error) {
	d := DeviceWithSerial(serial)
	if err := c.requireDevice(ctx, d); err != nil {
		return nil, err
	}
	b, err := c.server.hostRequest(ctx, d.hostRequest(wire.ListForward))
	if err != nil {
		return nil, err
	}
	all, err := parseForwardList(string(b))
	if err != nil {
		return nil, err
	}
	pairs := all[:0]
	for _, p := range all {
		if p.Serial == serial {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

// ListAllForwards lists the forwards of all devices.
func (c *Client) ListAllForwards(ctx context.Context) ([]ForwardPair, error) {
	b, err := c.server.hostRequest(ctx, wire.HostListForward)
	if err != nil {
		return nil, err
	}
	return parseForwardList(string(b))
}

// RemoveForward removes the forward on local.
func (c *Client) RemoveForward(ctx context.Context, serial string, local ForwardSpec) error {
	d := DeviceWithSerial(serial)
	if err := c.requireDevice(ctx, d); err != nil {
		return err
	}
	return c.server.hostCommand(ctx, d.hostRequest(wire.KillForwardService(string(local))))
}

// RemoveAllForwards removes every forward of the device.
func (c *Client) RemoveAllForwards(ctx context.Context, serial string) error {
	d := DeviceWithSerial(serial)
	if err := c.requireDevice(ctx, d); err != nil {
		return err
	}
	return c.server.hostCommand(ctx, d.hostRequest(wire.KillForwardAll))
}

// ForwardToFreePort forwards a free local TCP port to remote.
// If a forward to remote already exists, its port is returned.
func (c *Client) ForwardToFreePort(ctx context.Context, serial string, remote ForwardSpec) (int, error) {
	pairs, err := c.ListForward(ctx, serial)
	if err != nil {
		return 0, err
	}
	for _, p := range pairs {
		if p.Remote == remote {
			if port := p.Local.Port(); port > 0 {
				return port, nil
			}
			return 0, wire.Errorf(wire.AssertionError, "forward to %s has no local port", remote)
		}
	}
	return c.Forward(ctx, serial, TCPForward(0), remote, false)
}

// reverseService opens a transport to serial, sends req and reads the
// status. The caller closes the connection.
func (c *Client) reverseService(ctx context.Context, serial, req string) (*wire.Conn, error) {
	conn, err := c.transport(ctx, DeviceWithSerial(serial))
	if err != nil {
		return nil, err
	}
	if err := conn.SendMessage(req); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ReverseForward forwards connections to remote on the device to local on
// the host. It returns the device port, which the device picks when remote
// is "tcp:0".
func (c *Client) ReverseForward(ctx context.Context, serial string, remote, local ForwardSpec, noRebind bool) (port int, err error) {
	defer func(start time.Time) { c.server.observe("reverse", start, err) }(time.Now())

	ctx, cancel := c.server.withTimeout(ctx)
	defer cancel()
	req := wire.ReverseForwardService(string(remote), string(local), noRebind)
	conn, err := c.reverseService(ctx, serial, req)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	// The first OKAY opens the service, the second reports the forward.
	if err := conn.ReadStatus(); err != nil {
		return 0, err
	}
	port = remote.Port()
	if port == 0 {
		msg, err := conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		port, err = strconv.Atoi(strings.TrimSpace(string(msg)))
		if err != nil {
			return 0, &wire.Err{Code: wire.ParseError, Message: "malformed port " + strconv.Quote(string(msg)), Request: req, Cause: err}
		}
	}
	c.logger.Info("reverse forward created", logfields.Serial(serial),
		logfields.Request(string(remote)+";"+string(local)))
	return port, nil
}

// ListReverseForward lists the reverse forwards of the device. Serial of
// each pair is the name the device gives the host transport.
func (c *Client) ListReverseForward(ctx context.Context, serial string) ([]ForwardPair, error) {
	ctx, cancel := c.server.withTimeout(ctx)
	defer cancel()
	conn, err := c.reverseService(ctx, serial, wire.ReverseListForward)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseForwardList(strings.ReplaceAll(string(msg), "\r", ""))
}

// RemoveReverseForward removes the reverse forward on remote.
func (c *Client) RemoveReverseForward(ctx context.Context, serial string, remote ForwardSpec) error {
	return c.killReverse(ctx, serial, wire.ReverseKillForwardService(string(remote)))
}

// RemoveAllReverseForwards removes every reverse forward of the device.
func (c *Client) RemoveAllReverseForwards(ctx context.Context, serial string) error {
	return c.killReverse(ctx, serial, wire.ReverseKillForwardAll)
}

func (c *Client) killReverse(ctx context.Context, serial, req string) error {
	ctx, cancel := c.server.withTimeout(ctx)
	defer cancel()
	conn, err := c.reverseService(ctx, serial, req)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.ReadStatus()
}

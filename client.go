package adb

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/internal/metrics"
	"github.com/d1ced/adbclient/internal/retry"
	"github.com/d1ced/adbclient/wire"
)

// Client talks to an adb server and the devices attached to it.
// It is safe for concurrent use; every operation uses its own connection.
type Client struct {
	server   *Server
	logger   *slog.Logger
	metrics  metrics.Recorder
	snapshot atomic.Pointer[Registry]
}

// Option configures a Client.
type Option func(*Client)

// WithAddress sets the host and port of the server.
func WithAddress(host string, port int) Option {
	return func(c *Client) { c.server.address = net.JoinHostPort(host, strconv.Itoa(port)) }
}

// WithTimeout bounds host queries whose context has no deadline.
// Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.server.timeout = d }
}

// WithLauncher replaces the ExecLauncher used by StartServer.
func WithLauncher(l Launcher) Option {
	return func(c *Client) { c.server.launcher = l }
}

// WithRetry sets the policy used to wait for a launched server.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.server.retry = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics registers the client's Prometheus metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = metrics.NewPrometheusRecorder(reg) }
}

// New creates a Client for the server at localhost:5037 unless options say
// otherwise. It does not contact the server.
func New(opts ...Option) *Client {
	c := &Client{
		server: &Server{
			address:  net.JoinHostPort("localhost", strconv.Itoa(DefaultPort)),
			launcher: ExecLauncher{},
			retry:    retry.DefaultPolicy(),
			timeout:  DefaultTimeout,
		},
		logger:  slog.Default(),
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.server.logger = c.logger
	c.server.metrics = c.metrics
	return c
}

// NewDefault creates a Client and makes sure a server is running, starting
// the adb executable found on PATH if necessary.
func NewDefault(ctx context.Context) (*Client, error) {
	c := New()
	if _, err := c.StartServer(ctx, DefaultExecutableName, false); err != nil {
		return nil, err
	}
	return c, nil
}

// Server returns the server session of the client.
func (c *Client) Server() *Server {
	return c.server
}

// GetStatus reports whether the server is running and its version.
func (c *Client) GetStatus(ctx context.Context) (ServerStatus, error) {
	return c.server.Status(ctx)
}

// StartServer starts the server with the executable at path unless a
// suitable one is already running.
func (c *Client) StartServer(ctx context.Context, path string, restartIfRunning bool) (ServerStatus, error) {
	return c.server.Start(ctx, path, restartIfRunning)
}

// KillServer tells the server to quit. A server that is not running is not
// an error.
func (c *Client) KillServer(ctx context.Context) error {
	return c.server.Kill(ctx)
}

// KillAdb is KillServer.
func (c *Client) KillAdb(ctx context.Context) error {
	return c.KillServer(ctx)
}

// GetDevices lists the attached devices with host:devices-l and replaces the
// client's snapshot. A failed query leaves the previous snapshot in place.
func (c *Client) GetDevices(ctx context.Context) (devices []Device, err error) {
	defer func(start time.Time) { c.server.observe("devices", start, err) }(time.Now())

	b, err := c.server.hostRequest(ctx, wire.HostDevicesLong)
	if err != nil {
		return nil, err
	}
	reg := ParseDeviceList(b, c.logger)
	c.storeSnapshot(reg)
	return reg.Devices(), nil
}

func (c *Client) storeSnapshot(reg *Registry) {
	c.snapshot.Store(reg)
	c.metrics.SetDeviceCount(reg.Len())
}

// opLogger returns a logger whose lines carry a fresh operation id.
func (c *Client) opLogger(op string) *slog.Logger {
	return c.logger.With(logfields.OpID(logfields.NewOpID()), logfields.Op(op))
}

// Snapshot returns the device set of the last successful GetDevices, or nil.
func (c *Client) Snapshot() *Registry {
	return c.snapshot.Load()
}

// requireDevice checks serial against the snapshot without contacting the
// server. Without a snapshot the device list is fetched first.
func (c *Client) requireDevice(ctx context.Context, d DeviceDescriptor) error {
	if d.descriptor != serialDevice {
		return nil
	}
	reg := c.snapshot.Load()
	if reg == nil {
		if _, err := c.GetDevices(ctx); err != nil {
			return err
		}
		reg = c.snapshot.Load()
	}
	_, err := reg.Lookup(d.serial)
	return err
}

// transport opens a connection that is bound to the device described by d.
func (c *Client) transport(ctx context.Context, d DeviceDescriptor) (*wire.Conn, error) {
	if err := c.requireDevice(ctx, d); err != nil {
		return nil, err
	}
	conn, err := c.server.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.SendMessage(d.transportRequest()); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Connect asks the server to connect to a device over TCP/IP.
func (c *Client) Connect(ctx context.Context, address string) (string, error) {
	b, err := c.server.hostRequest(ctx, wire.ConnectRequest(address))
	if err != nil {
		return "", err
	}
	msg := string(b)
	if strings.HasPrefix(msg, "failed") || strings.HasPrefix(msg, "unable") {
		return msg, &wire.Err{Code: wire.ServerError, Message: "connect failed", Request: wire.ConnectRequest(address), ServerMsg: msg}
	}
	return msg, nil
}

// Disconnect drops a TCP/IP device. An empty address drops all of them.
func (c *Client) Disconnect(ctx context.Context, address string) (string, error) {
	b, err := c.server.hostRequest(ctx, wire.DisconnectRequest(address))
	return string(b), err
}

// Reboot reboots the device into target ("", "bootloader", "recovery", ...).
func (c *Client) Reboot(ctx context.Context, serial, target string) error {
	conn, err := c.transport(ctx, DeviceWithSerial(serial))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SendMessage(wire.RebootRequest(target)); err != nil {
		return err
	}
	if err := conn.ReadStatus(); err != nil {
		return err
	}
	c.logger.Info("rebooting device", logfields.Serial(serial))
	return nil
}

// Root restarts adbd on the device with root permissions. The device drops
// off the device list while adbd restarts; wait for it with WatchDevices.
// A daemon that already runs as root is not an error.
func (c *Client) Root(ctx context.Context, serial string) error {
	return c.restartAdbd(ctx, serial, wire.RootRequest, "already running as root")
}

// Unroot restarts adbd on the device without root permissions.
func (c *Client) Unroot(ctx context.Context, serial string) error {
	return c.restartAdbd(ctx, serial, wire.UnrootRequest, "not running as root")
}

func (c *Client) restartAdbd(ctx context.Context, serial, req, noop string) (err error) {
	defer func(start time.Time) { c.server.observe(strings.TrimSuffix(req, ":"), start, err) }(time.Now())

	ctx, cancel := c.server.withTimeout(ctx)
	defer cancel()
	conn, err := c.transport(ctx, DeviceWithSerial(serial))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SendMessage(req); err != nil {
		return err
	}
	if err := conn.ReadStatus(); err != nil {
		return err
	}
	// adbd answers with one line of text before it exits.
	b, err := io.ReadAll(io.LimitReader(conn, 1024))
	if err != nil {
		return err
	}
	msg := strings.TrimSpace(string(b))
	switch lower := strings.ToLower(msg); {
	case strings.Contains(lower, "restarting"):
		c.logger.Info("restarting adbd", logfields.Serial(serial), logfields.Request(req))
		return nil
	case strings.Contains(lower, noop):
		return nil
	}
	return &wire.Err{Code: wire.ServerError, Message: "adbd refused " + req, Request: req, ServerMsg: msg}
}

// GetFeatureSet returns the features the server and the device both
// support.
func (c *Client) GetFeatureSet(ctx context.Context, serial string) ([]string, error) {
	d := DeviceWithSerial(serial)
	if err := c.requireDevice(ctx, d); err != nil {
		return nil, err
	}
	b, err := c.server.hostRequest(ctx, d.hostRequest(wire.Features))
	if err != nil {
		return nil, err
	}
	return parseFeatures(string(b)), nil
}

func parseFeatures(s string) []string {
	features := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	if len(features) == 0 {
		return nil
	}
	return features
}

// ResolveSerial asks the server for the serial of the device d selects,
// e.g. AnyUSBDevice for the only device attached over USB.
func (c *Client) ResolveSerial(ctx context.Context, d DeviceDescriptor) (string, error) {
	b, err := c.server.hostRequest(ctx, d.hostRequest(wire.GetSerialNo))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// DeviceProperties runs getprop on the device and returns the properties.
// The result is not merged into the snapshot.
func (c *Client) DeviceProperties(ctx context.Context, serial string) (map[string]string, error) {
	out, err := c.ExecuteShellCommand(ctx, serial, "getprop")
	if err != nil {
		return nil, err
	}
	return parseGetprop(out), nil
}

// parseGetprop parses lines of the form "[key]: [value]".
func parseGetprop(out string) map[string]string {
	props := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, "]: [")
		if !ok || !strings.HasPrefix(key, "[") || !strings.HasSuffix(val, "]") {
			continue
		}
		props[key[1:]] = val[:len(val)-1]
	}
	return props
}

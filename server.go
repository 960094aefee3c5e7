package adb

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/internal/metrics"
	"github.com/d1ced/adbclient/internal/retry"
	"github.com/d1ced/adbclient/wire"
)

const (
	// DefaultExecutableName is the name of the ADB-Server on the Path
	DefaultExecutableName = "adb"
	// DefaultPort is the default port for the ADB-Server to listens on.
	DefaultPort = 5037
	// DefaultTimeout bounds host queries whose context has no deadline.
	DefaultTimeout = 10 * time.Second

	// MinimumServerVersion is the oldest server Start accepts without a restart.
	MinimumServerVersion = 20
)

// dial opens the connections to the adb server.
// This exist only for easier mocking.
var dial wire.DialFunc = (&net.Dialer{}).DialContext

// serverMu serializes server start and kill across the process.
var serverMu sync.Mutex

// ServerStatus is the result of a status query.
type ServerStatus struct {
	IsRunning bool
	// Version is the internal version number of the server, 0 if unknown.
	Version int
}

// HasVersion reports whether the server reported a version.
func (s ServerStatus) HasVersion() bool {
	return s.Version != 0
}

// Server holds information needed to connect to a server repeatedly.
// Every request dials a new connection.
type Server struct {
	address  string
	launcher Launcher
	retry    retry.Policy
	timeout  time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// Address returns the host:port of the server.
func (s *Server) Address() string {
	return s.address
}

func (s *Server) port() int {
	_, p, err := net.SplitHostPort(s.address)
	if err != nil {
		return DefaultPort
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return DefaultPort
	}
	return port
}

// withTimeout applies the default timeout to a context without a deadline.
func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Server) dial(ctx context.Context) (*wire.Conn, error) {
	return wire.Dial(ctx, dial, s.address)
}

// observe records duration and outcome of op.
func (s *Server) observe(op string, start time.Time, err error) {
	s.metrics.ObserveRequestDuration(op, time.Since(start))
	switch {
	case err == nil:
		s.metrics.IncRequestResult(op, metrics.ResultSuccess)
	case wire.HasErrCode(err, wire.Timeout):
		s.metrics.IncRequestResult(op, metrics.ResultTimeout)
	default:
		s.metrics.IncRequestResult(op, metrics.ResultFailure)
	}
}

// hostRequest sends req and returns the single length-prefixed response.
// The connection is closed afterwards.
func (s *Server) hostRequest(ctx context.Context, req string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return roundTripSingleResponse(conn, req)
}

// hostCommand sends req and reads the status. The connection is closed
// afterwards.
func (s *Server) hostCommand(ctx context.Context, req string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SendMessage(req); err != nil {
		return err
	}
	return conn.ReadStatus()
}

func roundTripSingleResponse(conn *wire.Conn, req string) ([]byte, error) {
	if err := conn.SendMessage(req); err != nil {
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		return nil, err
	}
	return conn.ReadMessage()
}

// Status asks the server for its version. A server that refuses the
// connection is reported as not running without an error.
func (s *Server) Status(ctx context.Context) (status ServerStatus, err error) {
	defer func(start time.Time) { s.observe("status", start, err) }(time.Now())

	b, err := s.hostRequest(ctx, wire.HostVersion)
	if wire.HasErrCode(err, wire.ConnectionRefused) {
		return ServerStatus{}, nil
	}
	if err != nil {
		return ServerStatus{}, err
	}
	v, perr := strconv.ParseInt(strings.TrimSpace(string(b)), 16, 32)
	if perr != nil {
		return ServerStatus{IsRunning: true}, &wire.Err{
			Code:    wire.ParseError,
			Message: "malformed server version " + strconv.Quote(string(b)),
			Request: wire.HostVersion,
			Cause:   perr,
		}
	}
	return ServerStatus{IsRunning: true, Version: int(v)}, nil
}

// Start makes sure a server is running. A running server is killed first if
// restartIfRunning is set or its version is below MinimumServerVersion.
// The executable at path is launched and Start polls until the server
// answers, failing with LaunchFailed when the retry policy is exhausted.
func (s *Server) Start(ctx context.Context, path string, restartIfRunning bool) (ServerStatus, error) {
	serverMu.Lock()
	defer serverMu.Unlock()

	status, err := s.Status(ctx)
	if err != nil && !wire.HasErrCode(err, wire.ParseError) {
		return status, err
	}
	if status.IsRunning {
		if !restartIfRunning && status.Version >= MinimumServerVersion {
			return status, nil
		}
		s.logger.Info("restarting adb server",
			logfields.Address(s.address), logfields.Version(status.Version))
		if err := s.kill(ctx); err != nil {
			return status, err
		}
		if _, err := s.waitFor(ctx, false); err != nil {
			return ServerStatus{}, &wire.Err{Code: wire.LaunchFailed, Message: "old server did not stop", Cause: err}
		}
	}

	s.logger.Info("starting adb server", logfields.Path(path), logfields.Address(s.address))
	if err := s.launcher.Launch(ctx, path, s.port()); err != nil {
		s.metrics.IncServerLaunch(false)
		return ServerStatus{}, &wire.Err{Code: wire.LaunchFailed, Message: "error launching " + path, Cause: err}
	}
	status, err = s.waitFor(ctx, true)
	if err != nil {
		s.metrics.IncServerLaunch(false)
		return ServerStatus{}, &wire.Err{Code: wire.LaunchFailed, Message: "server did not come up", Cause: err}
	}
	s.metrics.IncServerLaunch(true)
	return status, nil
}

// waitFor polls Status until IsRunning equals running.
func (s *Server) waitFor(ctx context.Context, running bool) (ServerStatus, error) {
	var status ServerStatus
	err := s.retry.Do(ctx, func(int) error {
		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		if st.IsRunning != running {
			return errors.Errorf("server running=%t, want %t", st.IsRunning, running)
		}
		status = st
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		s.logger.Debug("waiting for adb server",
			logfields.Attempt(attempt), logfields.Duration(wait), logfields.Error(err))
	})
	return status, err
}

// Kill tells the server to quit. A server that is not running is not an
// error.
func (s *Server) Kill(ctx context.Context) error {
	serverMu.Lock()
	defer serverMu.Unlock()
	return s.kill(ctx)
}

func (s *Server) kill(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("kill", start, err) }(time.Now())

	err = s.hostCommand(ctx, wire.HostKill)
	switch {
	case err == nil:
		return nil
	case wire.HasErrCode(err, wire.ConnectionRefused):
		s.logger.Debug("adb server not running", logfields.Address(s.address))
		return nil
	case wire.HasErrCode(err, wire.ProtocolError):
		// The server may exit before it answers.
		return nil
	}
	return err
}

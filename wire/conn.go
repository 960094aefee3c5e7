package wire

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// MaxMessageLength is the largest payload a four digit hex prefix can carry.
const MaxMessageLength = 0xFFFF

// Status tokens sent by the server in front of every response.
const (
	StatusOkay = "OKAY"
	StatusFail = "FAIL"
)

// DialFunc opens the raw network connection to the server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// UnexpectedStatusError is the cause attached to a ProtocolError when the
// server sends a status token that is not allowed at this point.
type UnexpectedStatusError struct {
	Want []string
	Got  string
}

func (us *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("want one of %v, got %q", us.Want, us.Got)
}

/*
Conn is a single connection to an adb server.

For most cases, usage looks something like:

	conn, err := wire.Dial(ctx, nil, "localhost:5037")
	conn.SendMessage("host:version")
	conn.ReadStatus()
	conn.ReadMessage()
	conn.Close()

The official client closes a connection immediately after it has read the
response, except after host:transport which keeps it open and routes the
next request to the selected device. The transitions a connection may take
are listed on State.

A Conn must only be used by one goroutine at a time. Close may be called
concurrently; it is also called when the context passed to Dial is done.
*/
type Conn struct {
	nc   net.Conn
	ctx  context.Context
	stop func() bool

	mu    sync.Mutex
	state State
	class RequestClass
	req   string
}

// Dial connects to the adb server at address. A nil dial uses net.Dialer.
// All dial failures other than an expired context are reported as
// ConnectionRefused.
func Dial(ctx context.Context, dial DialFunc, address string) (*Conn, error) {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	nc, err := dial(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &Err{Code: Timeout, Message: "error dialing " + address, Cause: err}
		}
		return nil, &Err{Code: ConnectionRefused, Message: "error dialing " + address, Cause: err}
	}
	return NewConn(ctx, nc), nil
}

// NewConn wraps an established connection. The deadline of ctx is applied to
// nc and cancelling ctx closes it.
func NewConn(ctx context.Context, nc net.Conn) *Conn {
	c := &Conn{nc: nc, ctx: ctx}
	if d, ok := ctx.Deadline(); ok {
		nc.SetDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
	return c
}

// State returns the current state of the connection.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request returns the last request sent on the connection.
func (c *Conn) Request() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

func (c *Conn) setState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return &Err{Code: ProtocolError, Message: "connection is closed", Request: c.req}
	}
	if !CanTransition(c.state, to) {
		return &Err{
			Code:    ProtocolError,
			Message: fmt.Sprintf("invalid transition %s -> %s", c.state, to),
			Request: c.req,
		}
	}
	c.state = to
	return nil
}

func (c *Conn) requireState(want State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != want {
		return &Err{
			Code:    ProtocolError,
			Message: fmt.Sprintf("connection is %s, want %s", c.state, want),
			Request: c.req,
		}
	}
	return nil
}

// SendMessage sends req with its hex length prefix.
func (c *Conn) SendMessage(req string) error {
	if len(req) > MaxMessageLength {
		return &Err{
			Code:    AssertionError,
			Message: fmt.Sprintf("message length exceeds maximum: %d > %d", len(req), MaxMessageLength),
		}
	}
	if err := c.setState(StateSent); err != nil {
		return err
	}
	c.mu.Lock()
	c.req = req
	c.class = ClassifyRequest(req)
	c.mu.Unlock()

	t := LenToHexTetra(len(req))
	buf := make([]byte, 0, 4+len(req))
	buf = append(buf, t[:]...)
	buf = append(buf, req...)
	if _, err := c.nc.Write(buf); err != nil {
		return c.fail(err, "error sending request")
	}
	return nil
}

// ReadStatus reads the status of the last request. OKAY moves the connection
// into the state that fits the request; FAIL is returned as an error carrying
// the server message and closes the connection.
func (c *Conn) ReadStatus() error {
	if err := c.setState(StateAwaitingStatus); err != nil {
		return err
	}
	t, err := ReadTetra(c.nc)
	if err != nil {
		return c.fail(err, "error reading status")
	}
	switch status := TetraToString(t); status {
	case StatusOkay:
		return c.setState(c.class.okayState())
	case StatusFail:
		msg, err := c.readHexMessage()
		if err != nil {
			return c.fail(err, "server returned error, but couldn't read the error message")
		}
		c.setState(StateFailed)
		c.Close()
		code := ServerError
		if DeviceNotFoundMessagePattern.MatchString(msg) {
			code = DeviceNotFound
		}
		return &Err{Code: code, Message: "server returned FAIL", Request: c.Request(), ServerMsg: msg}
	default:
		return c.fail(&UnexpectedStatusError{Want: []string{StatusOkay, StatusFail}, Got: status},
			"unexpected status")
	}
}

// ReadMessage reads one length-prefixed message. It is valid after an OKAY
// that left the connection in StateSucceeded and may be called repeatedly.
func (c *Conn) ReadMessage() ([]byte, error) {
	if err := c.setState(StateSucceeded); err != nil {
		return nil, err
	}
	msg, err := c.readHexMessage()
	if err != nil {
		return nil, c.fail(err, "error reading message")
	}
	return []byte(msg), nil
}

// ReadFull reads exactly len(buf) bytes of data that follow an OKAY without
// a length prefix.
func (c *Conn) ReadFull(buf []byte) error {
	if err := c.requireState(StateSucceeded); err != nil {
		return err
	}
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return c.fail(err, "error reading %d bytes", len(buf))
	}
	return nil
}

// Read reads from a connection in StateRawStream. io.EOF marks the end of the
// stream.
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.requireState(StateRawStream); err != nil {
		return 0, err
	}
	n, err := c.nc.Read(p)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, c.fail(err, "error reading stream")
	}
	return n, nil
}

// Write writes to a connection in StateRawStream.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.requireState(StateRawStream); err != nil {
		return 0, err
	}
	n, err := c.nc.Write(p)
	if err != nil {
		return n, c.fail(err, "error writing stream")
	}
	return n, nil
}

// SyncConn returns the sync protocol view of a connection in StateSync.
func (c *Conn) SyncConn() (*SyncConn, error) {
	if err := c.requireState(StateSync); err != nil {
		return nil, err
	}
	return &SyncConn{c: c}, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	return c.nc.Close()
}

func (c *Conn) readHexMessage() (string, error) {
	t, err := ReadTetra(c.nc)
	if err != nil {
		return "", errors.Wrap(err, "error reading length")
	}
	n := HexTetraToLen(t)
	if n < 0 {
		return "", &Err{Code: ProtocolError, Message: fmt.Sprintf("malformed length %q", TetraToString(t))}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return "", errors.Wrapf(err, "error reading %d bytes of message data", n)
	}
	return string(buf), nil
}

// fail closes the connection and classifies err. Errors while the context is
// done, and network timeouts, become Timeout; everything else ProtocolError.
func (c *Conn) fail(err error, format string, args ...interface{}) error {
	ctxErr := c.ctx.Err()
	c.Close()
	req := c.Request()

	var e *Err
	if errors.As(err, &e) && e.Code != 0 {
		if e.Request == "" {
			e.Request = req
		}
		return e
	}
	code := ProtocolError
	if ctxErr != nil || isTimeout(err) {
		code = Timeout
	}
	return &Err{Code: code, Message: fmt.Sprintf(format, args...), Request: req, Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

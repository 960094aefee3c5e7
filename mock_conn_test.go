package adb

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testSerial = "emulator-5554"

// fakeServer replaces dial. Every dial gets one end of a net.Pipe and the
// next handler plays the adb server on the other end. Dials beyond the
// scripted handlers are refused.
type fakeServer struct {
	mu       sync.Mutex
	handlers []func(*fakeConn) error
	requests []string
	conns    []net.Conn
	errs     []error
	dials    int
	wg       sync.WaitGroup
}

func useFakeServer(t *testing.T, handlers ...func(*fakeConn) error) *fakeServer {
	t.Helper()
	f := &fakeServer{handlers: handlers}
	old := dial
	dial = f.dial
	t.Cleanup(func() {
		dial = old
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.wg.Wait()
	})
	return f
}

func (f *fakeServer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.handlers) == 0 {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	h := f.handlers[0]
	f.handlers = f.handlers[1:]

	client, server := net.Pipe()
	f.conns = append(f.conns, server)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer server.Close()
		if err := h(&fakeConn{Conn: server, f: f}); err != nil {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		}
	}()
	return client, nil
}

// wait blocks until every handler has returned and reports the first error.
func (f *fakeServer) wait() error {
	f.wg.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		return f.errs[0]
	}
	return nil
}

func (f *fakeServer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

type fakeConn struct {
	net.Conn
	f *fakeServer
}

// expect reads one host request and fails unless it equals want.
func (c *fakeConn) expect(want string) error {
	req, err := readRequest(c)
	if err != nil {
		return errors.Wrapf(err, "reading request, want %q", want)
	}
	c.f.mu.Lock()
	c.f.requests = append(c.f.requests, req)
	c.f.mu.Unlock()
	if req != want {
		return errors.Errorf("want request %q, got %q", want, req)
	}
	return nil
}

func (c *fakeConn) send(s string) error {
	_, err := io.WriteString(c, s)
	return err
}

// readFrame reads a sync frame header.
func (c *fakeConn) readFrame() (string, uint32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return "", 0, err
	}
	return string(hdr[:4]), binary.LittleEndian.Uint32(hdr[4:]), nil
}

// readRequestFrame reads a sync request and its path.
func (c *fakeConn) readRequestFrame(wantID string) (string, error) {
	id, n, err := c.readFrame()
	if err != nil {
		return "", err
	}
	if id != wantID {
		return "", errors.Errorf("want sync %s, got %s", wantID, id)
	}
	path := make([]byte, n)
	_, err = io.ReadFull(c, path)
	return string(path), err
}

func (c *fakeConn) sendFrame(id string, n uint32, payload []byte) error {
	return c.send(frame(id, n, payload))
}

// transport answers host:transport for serial.
func (c *fakeConn) transport(serial string) error {
	if err := c.expect("host:transport:" + serial); err != nil {
		return err
	}
	return c.send("OKAY")
}

// sync answers the transport and sync: requests.
func (c *fakeConn) sync(serial string) error {
	if err := c.transport(serial); err != nil {
		return err
	}
	if err := c.expect("sync:"); err != nil {
		return err
	}
	return c.send("OKAY")
}

// drain reads until the client closes the connection.
func (c *fakeConn) drain() error {
	io.Copy(io.Discard, c)
	return nil
}

func readRequest(r io.Reader) (string, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(length[:]), 16, 16)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	return string(buf), err
}

func hexMessage(s string) string {
	return fmt.Sprintf("%04x%s", len(s), s)
}

func frame(id string, n uint32, payload []byte) string {
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], n)
	return id + string(t[:]) + string(payload)
}

// hostReply answers a single host request with an OKAY and a message.
func hostReply(req, reply string) func(*fakeConn) error {
	return func(c *fakeConn) error {
		if err := c.expect(req); err != nil {
			return err
		}
		return c.send("OKAY" + hexMessage(reply))
	}
}

// shellReply answers a shell command on testSerial with out.
func shellReply(command, out string) func(*fakeConn) error {
	return func(c *fakeConn) error {
		if err := c.transport(testSerial); err != nil {
			return err
		}
		if err := c.expect("shell:" + command); err != nil {
			return err
		}
		return c.send("OKAY" + out)
	}
}

// newTestClient returns a client whose snapshot holds devices.
func newTestClient(t *testing.T, devices string) *Client {
	t.Helper()
	c := New(WithTimeout(5 * time.Second))
	if devices != "" {
		c.storeSnapshot(ParseDeviceList([]byte(devices), nil))
	}
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

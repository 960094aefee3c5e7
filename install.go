package adb

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/internal/metrics"
	"github.com/d1ced/adbclient/wire"
)

// installCommand builds the streamed package manager install. The size
// goes last so it overrides any -S in args.
func installCommand(size int64, args []string) string {
	var b strings.Builder
	b.WriteString("cmd package 'install'")
	for _, arg := range args {
		b.WriteByte(' ')
		if strings.ContainsAny(arg, " \t'\"$;&|<>()`\\") {
			arg = shellQuote(arg)
		}
		b.WriteString(arg)
	}
	b.WriteString(" -S ")
	b.WriteString(strconv.FormatInt(size, 10))
	return b.String()
}

// Install streams an APK of size bytes from r to the package manager of the
// device. args are passed to "pm install", e.g. "-r" to replace an existing
// package. The output of the package manager is returned as ServerError
// unless it reports Success.
func (c *Client) Install(ctx context.Context, serial string, r io.Reader, size int64, args ...string) (err error) {
	defer func(start time.Time) { c.server.observe("install", start, err) }(time.Now())

	if size <= 0 {
		return wire.Errorf(wire.AssertionError, "install needs the size of the package, got %d", size)
	}
	log := c.opLogger("install")
	req := wire.ExecRequest(installCommand(size, args))
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

	n, err := io.Copy(conn, io.LimitReader(r, size))
	c.metrics.AddTransferBytes(metrics.DirectionPush, n)
	if err == nil && n != size {
		err = errors.Errorf("sent %d of %d bytes", n, size)
	}
	if err != nil {
		return &wire.Err{Code: wire.TransferIncomplete, Message: "install", Request: req, Cause: err}
	}

	out, err := io.ReadAll(io.LimitReader(conn, 64*1024))
	if err != nil {
		return err
	}
	msg := strings.TrimSpace(string(out))
	if !strings.Contains(msg, "Success") {
		return &wire.Err{Code: wire.ServerError, Message: "install failed", Request: req, ServerMsg: msg}
	}
	log.Info("package installed", logfields.Serial(serial), logfields.Bytes(n))
	return nil
}

// InstallFile installs the APK at apkPath.
func (c *Client) InstallFile(ctx context.Context, serial, apkPath string, args ...string) error {
	f, err := os.Open(apkPath)
	if err != nil {
		return errors.Wrap(err, "open package")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat package")
	}
	if fi.IsDir() {
		return wire.Errorf(wire.AssertionError, "%s is a directory", apkPath)
	}
	return c.Install(ctx, serial, f, fi.Size(), args...)
}

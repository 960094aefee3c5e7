package adb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/internal/metrics"
	"github.com/d1ced/adbclient/wire"
)

// modeRegular is S_IFREG, sent with the permissions of pushed files.
const modeRegular = 0100000

// TransferOption configures Push and Pull.
type TransferOption func(*transferOptions)

type transferOptions struct {
	progress func(transferred, total int64)
	mode     os.FileMode
	modTime  time.Time
}

// WithProgress calls fn after every chunk with the bytes moved so far and
// the declared size (-1 if unknown). fn runs on the transferring goroutine.
func WithProgress(fn func(transferred, total int64)) TransferOption {
	return func(o *transferOptions) { o.progress = fn }
}

// WithFileMode sets the permissions of a pushed file.
func WithFileMode(mode os.FileMode) TransferOption {
	return func(o *transferOptions) { o.mode = mode }
}

// WithModTime sets the modification time of a pushed file.
func WithModTime(t time.Time) TransferOption {
	return func(o *transferOptions) { o.modTime = t }
}

func newTransferOptions(opts []TransferOption) *transferOptions {
	o := &transferOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type progressReader struct {
	r     io.Reader
	n     int64
	total int64
	fn    func(int64, int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n, p.total)
		}
	}
	return n, err
}

type progressWriter struct {
	w     io.Writer
	n     int64
	total int64
	fn    func(int64, int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n, p.total)
		}
	}
	return n, err
}

// openSync opens a connection to the device in sync mode.
func (c *Client) openSync(ctx context.Context, serial string) (*wire.SyncConn, error) {
	conn, err := c.transport(ctx, DeviceWithSerial(serial))
	if err != nil {
		return nil, err
	}
	if err := conn.SendMessage(wire.SyncRequest); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn.SyncConn()
}

// Stat returns filestats of remotePath on the device. A missing file is
// reported with FileNotExist.
func (c *Client) Stat(ctx context.Context, serial, remotePath string) (*DirEntry, error) {
	sc, err := c.openSync(ctx, serial)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	if err := sc.SendRequest(wire.SyncStat, remotePath); err != nil {
		return nil, err
	}
	id, err := sc.ReadID()
	if err != nil {
		return nil, err
	}
	if id != wire.SyncStat {
		return nil, sc.Unexpected(id, wire.SyncStat)
	}
	mode, size, mtime, err := sc.ReadStat()
	if err != nil {
		return nil, err
	}
	// adb doesn't indicate when a file doesn't exist, but will return all zeros.
	// Theoretically this could be an actual file, but that's very unlikely.
	if mode == 0 && size == 0 && mtime == 0 {
		return nil, &wire.Err{Code: wire.FileNotExist, Message: "no such file or directory", Request: remotePath}
	}
	return newDirEntry(path.Base(remotePath), mode, size, mtime), nil
}

// List lists the directory contents of remotePath on the device.
func (c *Client) List(ctx context.Context, serial, remotePath string) ([]*DirEntry, error) {
	sc, err := c.openSync(ctx, serial)
	if err != nil {
		return nil, err
	}
	entries, err := newDirEntries(sc, remotePath)
	if err != nil {
		sc.Close()
		return nil, err
	}
	return entries.ReadAll()
}

// Push copies the local file to remotePath on the device, keeping its
// permissions and modification time unless options say otherwise.
func (c *Client) Push(ctx context.Context, serial, localPath, remotePath string, opts ...TransferOption) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open local file")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat local file")
	}
	if fi.IsDir() {
		return wire.Errorf(wire.AssertionError, "%s is a directory", localPath)
	}
	defaults := []TransferOption{WithFileMode(fi.Mode().Perm()), WithModTime(fi.ModTime())}
	return c.PushReader(ctx, serial, f, fi.Size(), remotePath, append(defaults, opts...)...)
}

// PushReader sends size bytes read from r to remotePath. A negative size
// sends r until EOF. If the transfer breaks off, or r holds fewer than size
// bytes, the result is TransferIncomplete and the partial remote file is
// removed.
func (c *Client) PushReader(ctx context.Context, serial string, r io.Reader, size int64, remotePath string, opts ...TransferOption) (err error) {
	defer func(start time.Time) { c.server.observe("push", start, err) }(time.Now())
	log := c.opLogger("push")
	o := newTransferOptions(opts)
	if o.mode == 0 {
		o.mode = 0644
	}

	sc, err := c.openSync(ctx, serial)
	if err != nil {
		return err
	}
	defer sc.Close()

	w, err := newSyncFileWriter(sc, remotePath, modeRegular|uint32(o.mode.Perm()), o.modTime)
	if err != nil {
		return err
	}
	src := r
	if size >= 0 {
		// One extra byte detects a source that is longer than declared.
		src = io.LimitReader(r, size+1)
	}
	n, err := io.Copy(w, &progressReader{r: src, total: size, fn: o.progress})
	c.metrics.AddTransferBytes(metrics.DirectionPush, n)
	if err == nil && size >= 0 && n != size {
		err = errors.Errorf("sent %d of %d bytes", n, size)
	}
	if err == nil {
		err = w.Close()
		if wire.HasErrCode(err, wire.ServerError) {
			return err
		}
	}
	if err != nil {
		sc.Close()
		log.Warn("push interrupted", logfields.Path(remotePath), logfields.Bytes(n), logfields.Error(err))
		c.removeRemote(ctx, log, serial, remotePath)
		return &wire.Err{Code: wire.TransferIncomplete, Message: "push " + remotePath, Request: wire.SyncSend, Cause: err}
	}
	log.Debug("pushed file", logfields.Serial(serial), logfields.Path(remotePath), logfields.Bytes(n))
	return nil
}

// removeRemote deletes what an aborted push left on the device. adbd drops
// the file itself when the connection closes before DONE; this covers older
// daemons.
func (c *Client) removeRemote(ctx context.Context, log *slog.Logger, serial, remotePath string) {
	timeout := c.server.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if _, err := c.ExecuteShellCommand(ctx, serial, "rm -f "+shellQuote(remotePath)); err != nil {
		log.Warn("could not remove partial file",
			logfields.Serial(serial), logfields.Path(remotePath), logfields.Error(err))
	}
}

// PullWriter copies remotePath to w and returns the number of bytes written.
// Fewer bytes than STAT reported fail with TransferIncomplete.
func (c *Client) PullWriter(ctx context.Context, serial, remotePath string, w io.Writer, opts ...TransferOption) (int64, error) {
	n, _, err := c.pull(ctx, serial, remotePath, w, newTransferOptions(opts))
	return n, err
}

func (c *Client) pull(ctx context.Context, serial, remotePath string, w io.Writer, o *transferOptions) (n int64, entry *DirEntry, err error) {
	defer func(start time.Time) { c.server.observe("pull", start, err) }(time.Now())

	entry, err = c.Stat(ctx, serial, remotePath)
	if err != nil {
		return 0, nil, err
	}
	sc, err := c.openSync(ctx, serial)
	if err != nil {
		return 0, nil, err
	}
	r, err := newSyncFileReader(sc, remotePath)
	if err != nil {
		sc.Close()
		return 0, nil, err
	}
	defer r.Close()

	n, err = io.Copy(&progressWriter{w: w, total: entry.Size, fn: o.progress}, r)
	c.metrics.AddTransferBytes(metrics.DirectionPull, n)
	// STAT reports the size modulo 2^32.
	if err == nil && uint32(n) != uint32(entry.Size) {
		err = errors.Errorf("received %d of %d bytes", n, entry.Size)
	}
	if err != nil {
		return n, entry, &wire.Err{Code: wire.TransferIncomplete, Message: "pull " + remotePath, Request: wire.SyncRecv, Cause: err}
	}
	return n, entry, nil
}

// Pull copies remotePath on the device to localPath. The data is written to
// a temporary file next to localPath that is renamed on success and removed
// on failure, so localPath never holds a partial file.
func (c *Client) Pull(ctx context.Context, serial, remotePath, localPath string, opts ...TransferOption) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, entry, err := c.pull(ctx, serial, remotePath, tmp, newTransferOptions(opts))
	if err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temporary file")
	}
	if err := copyAttributes(tmp.Name(), entry); err != nil {
		c.logger.Debug("could not copy file attributes", logfields.Path(localPath), logfields.Error(err))
	}
	if err = os.Rename(tmp.Name(), localPath); err != nil {
		return errors.Wrap(err, "rename temporary file")
	}
	c.logger.Debug("pulled file", logfields.Serial(serial), logfields.Path(remotePath), logfields.Bytes(n))
	return nil
}

// copyAttributes applies the permission bits and mtime of entry to name.
func copyAttributes(name string, entry *DirEntry) error {
	if perm := entry.Mode.Perm(); perm != 0 {
		if err := os.Chmod(name, perm); err != nil {
			return errors.Wrap(err, "chmod")
		}
	}
	return errors.Wrap(os.Chtimes(name, entry.ModifiedAt, entry.ModifiedAt), "chtimes")
}

package adb

import (
	"io"
	"strconv"
	"time"

	"github.com/d1ced/adbclient/wire"
)

// syncFileWriter wraps a SyncConn that has requested to send a file.
type syncFileWriter struct {
	// The modification time to write in the footer.
	// If 0, use the current time.
	modTime time.Time

	conn *wire.SyncConn
}

var _ io.WriteCloser = &syncFileWriter{}

/*
newSyncFileWriter starts a send file stream.

From https://android.googlesource.com/platform/system/core/+/master/adb/SYNC.TXT:

	The remote file name is split into two parts separated by the last
	comma (","). The first part is the actual path, while the second is a decimal
	encoded file mode containing the permissions of the file on device.
*/
func newSyncFileWriter(conn *wire.SyncConn, path string, mode uint32, mtime time.Time) (*syncFileWriter, error) {
	if err := conn.SendRequest(wire.SyncSend, encodePathAndMode(path, mode)); err != nil {
		return nil, err
	}
	return &syncFileWriter{modTime: mtime, conn: conn}, nil
}

func encodePathAndMode(path string, mode uint32) string {
	return path + "," + strconv.FormatUint(uint64(mode), 10)
}

// Write sends buf in chunks of at most 64k.
func (w *syncFileWriter) Write(buf []byte) (int, error) {
	written := 0
	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > wire.SyncMaxChunkSize {
			chunk = chunk[:wire.SyncMaxChunkSize]
		}
		if err := w.conn.WriteData(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		buf = buf[len(chunk):]
	}
	return written, nil
}

// ReadFrom sends r in full 64k chunks.
func (w *syncFileWriter) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, wire.SyncMaxChunkSize)
	var written int64
	for {
		n, er := io.ReadFull(r, buf)
		if n > 0 {
			if err := w.conn.WriteData(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
		}
		switch er {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return written, nil
		default:
			return written, er
		}
	}
}

// Close sends DONE with the modification time and waits for the device to
// confirm the file.
func (w *syncFileWriter) Close() error {
	if w.modTime.IsZero() {
		w.modTime = time.Now()
	}
	return w.conn.WriteDone(uint32(w.modTime.Unix()))
}

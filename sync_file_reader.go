package adb

import (
	"io"
	"strings"

	"github.com/d1ced/adbclient/wire"
)

// syncFileReader reads the DATA frames of a RECV request.
type syncFileReader struct {
	conn *wire.SyncConn

	// Bytes left in the current chunk.
	remaining uint32

	// False until the DONE chunk is encountered.
	eof bool
}

var _ io.ReadCloser = &syncFileReader{}

// newSyncFileReader sends RECV for path and reads the header of the first
// chunk to consume any errors, such as a missing file.
func newSyncFileReader(conn *wire.SyncConn, path string) (io.ReadCloser, error) {
	if err := conn.SendRequest(wire.SyncRecv, path); err != nil {
		return nil, err
	}
	r := &syncFileReader{conn: conn}
	if _, err := r.Read([]byte{}); err != nil && err != io.EOF {
		// EOF means the file was empty. This still means the file was opened successfully,
		// and the next time the caller does a read they'll get the EOF and handle it themselves.
		return nil, err
	}
	return r, nil
}

func (r *syncFileReader) Read(buf []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	if r.remaining == 0 {
		if err := r.nextChunk(); err != nil {
			return 0, err
		}
		if r.eof {
			return 0, io.EOF
		}
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if uint32(len(buf)) > r.remaining {
		buf = buf[:r.remaining]
	}
	b, err := r.conn.ReadBytes(uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	r.remaining -= uint32(len(b))
	return copy(buf, b), nil
}

// nextChunk reads the next chunk header. Empty DATA chunks are skipped.
func (r *syncFileReader) nextChunk() error {
	for r.remaining == 0 {
		id, err := r.conn.ReadID()
		if err != nil {
			return err
		}
		switch id {
		case wire.SyncData:
			n, err := r.conn.ReadUint32()
			if err != nil {
				return err
			}
			if n > wire.SyncMaxChunkSize {
				return r.conn.Unexpected(id, "DATA <= 64k")
			}
			r.remaining = n
		case wire.SyncDone:
			if _, err := r.conn.ReadUint32(); err != nil {
				return err
			}
			r.conn.Finish()
			r.eof = true
			return nil
		case wire.SyncFail:
			msg, err := r.conn.ReadFailMessage()
			if err != nil {
				return err
			}
			code := wire.ServerError
			if readFileNotFoundPredicate(msg) {
				code = wire.FileNotExist
			}
			return &wire.Err{Code: code, Message: "pull failed", Request: wire.SyncRecv, ServerMsg: msg}
		default:
			return r.conn.Unexpected(id, wire.SyncData, wire.SyncDone, wire.SyncFail)
		}
	}
	return nil
}

func (r *syncFileReader) Close() error {
	return r.conn.Close()
}

// readFileNotFoundPredicate returns true if s is the adb server error message returned
// when trying to open a file that doesn't exist.
func readFileNotFoundPredicate(s string) bool {
	return strings.Contains(s, "No such file or directory")
}

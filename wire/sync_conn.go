package wire

import "io"

/*
SyncConn is a connection to the adb server in sync mode.
It is obtained from a Conn that has sent "sync:" on a device transport.

The adb sync protocol is defined at
https://android.googlesource.com/platform/system/core/+/master/adb/SYNC.TXT.

Unlike the normal adb protocol (implemented in Conn), the sync protocol is binary.
Every frame starts with a four byte id followed by a little-endian uint32.
For requests and DATA chunks that number is the length of the payload that
follows; for DONE at the end of a SEND it is the modification time.

File mode seems to be encoded as POSIX file mode.

Modification time seems to be the Unix timestamp format, i.e. seconds since Epoch UTC.
*/
type SyncConn struct {
	c   *Conn
	sub SyncState
}

// SyncMaxChunkSize cannot be longer than 64k.
const SyncMaxChunkSize = 64 * 1024

// SyncMaxPathLength is the longest path adbd accepts in a request.
const SyncMaxPathLength = 1024

// Sync frame ids.
const (
	SyncList = "LIST"
	SyncRecv = "RECV"
	SyncSend = "SEND"
	SyncStat = "STAT"
	SyncDent = "DENT"
	SyncData = "DATA"
	SyncDone = "DONE"
	SyncOkay = "OKAY"
	SyncFail = "FAIL"
)

// SyncState tracks a transfer in progress on a SyncConn.
type SyncState uint8

const (
	SyncIdle SyncState = iota
	SyncSending
	SyncReceiving
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "SyncIdle"
	case SyncSending:
		return "SyncSending"
	case SyncReceiving:
		return "SyncReceiving"
	}
	return "SyncState(?)"
}

// State returns the transfer state.
func (s *SyncConn) State() SyncState {
	return s.sub
}

// SendRequest writes a request frame. SEND moves the connection to
// SyncSending, RECV and LIST to SyncReceiving.
func (s *SyncConn) SendRequest(id, path string) error {
	if len(id) != 4 {
		return Errorf(AssertionError, "malformed sync request id %q", id)
	}
	if len(path) > SyncMaxPathLength {
		return Errorf(AssertionError, "path too long: %d > %d", len(path), SyncMaxPathLength)
	}
	if s.sub != SyncIdle {
		return Errorf(ProtocolError, "cannot send %s while %s", id, s.sub)
	}
	if err := s.writeFrame(id, uint32(len(path)), []byte(path)); err != nil {
		return err
	}
	switch id {
	case SyncSend:
		s.sub = SyncSending
	case SyncRecv, SyncList:
		s.sub = SyncReceiving
	}
	return nil
}

// ReadID reads a four byte frame id.
func (s *SyncConn) ReadID() (string, error) {
	t, err := ReadTetra(s.c.nc)
	if err != nil {
		return "", s.c.fail(err, "error reading sync id")
	}
	return TetraToString(t), nil
}

// ReadUint32 reads a little-endian uint32.
func (s *SyncConn) ReadUint32() (uint32, error) {
	t, err := ReadTetra(s.c.nc)
	if err != nil {
		return 0, s.c.fail(err, "error reading sync header")
	}
	return TetraToUint32(t), nil
}

// ReadBytes reads exactly n bytes of payload.
func (s *SyncConn) ReadBytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.c.nc, buf); err != nil {
		return nil, s.c.fail(err, "error reading %d bytes of sync data", n)
	}
	return buf, nil
}

// ReadStat reads the mode, size and mtime fields of a STAT or DENT frame.
func (s *SyncConn) ReadStat() (mode, size, mtime uint32, err error) {
	var fields [3]uint32
	for i := range fields {
		if fields[i], err = s.ReadUint32(); err != nil {
			return 0, 0, 0, err
		}
	}
	return fields[0], fields[1], fields[2], nil
}

// ReadFailMessage reads the length-prefixed message that follows a FAIL id.
// The connection is unusable afterwards and is closed.
func (s *SyncConn) ReadFailMessage() (string, error) {
	n, err := s.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > SyncMaxChunkSize {
		return "", s.c.fail(Errorf(ProtocolError, "FAIL message too long: %d", n), "")
	}
	msg, err := s.ReadBytes(n)
	if err != nil {
		return "", err
	}
	s.c.Close()
	return string(msg), nil
}

// WriteData sends one DATA chunk of at most SyncMaxChunkSize bytes.
func (s *SyncConn) WriteData(chunk []byte) error {
	if s.sub != SyncSending {
		return Errorf(ProtocolError, "cannot send DATA while %s", s.sub)
	}
	if len(chunk) > SyncMaxChunkSize {
		return Errorf(AssertionError, "chunk too large: %d > %d", len(chunk), SyncMaxChunkSize)
	}
	return s.writeFrame(SyncData, uint32(len(chunk)), chunk)
}

// WriteDone ends a SEND with the file's modification time and reads the
// result. A FAIL from the device is returned as ServerError.
func (s *SyncConn) WriteDone(mtime uint32) error {
	if s.sub != SyncSending {
		return Errorf(ProtocolError, "cannot send DONE while %s", s.sub)
	}
	if err := s.writeFrame(SyncDone, mtime, nil); err != nil {
		return err
	}
	id, err := s.ReadID()
	if err != nil {
		return err
	}
	switch id {
	case SyncOkay:
		if _, err := s.ReadUint32(); err != nil {
			return err
		}
		s.sub = SyncIdle
		return nil
	case SyncFail:
		msg, err := s.ReadFailMessage()
		if err != nil {
			return err
		}
		return &Err{Code: ServerError, Message: "push failed", Request: s.c.Request(), ServerMsg: msg}
	default:
		return s.c.fail(&UnexpectedStatusError{Want: []string{SyncOkay, SyncFail}, Got: id}, "unexpected sync status")
	}
}

// Finish marks the end of a RECV or LIST stream.
func (s *SyncConn) Finish() {
	s.sub = SyncIdle
}

// Close closes the underlying connection.
func (s *SyncConn) Close() error {
	return s.c.Close()
}

func (s *SyncConn) writeFrame(id string, n uint32, payload []byte) error {
	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, id...)
	t := Uint32ToTetra(n)
	buf = append(buf, t[:]...)
	buf = append(buf, payload...)
	if _, err := s.c.nc.Write(buf); err != nil {
		return s.c.fail(err, "error writing %s frame", id)
	}
	return nil
}

// Unexpected returns the ProtocolError for an id that is not allowed here
// and closes the connection.
func (s *SyncConn) Unexpected(got string, want ...string) error {
	return s.c.fail(&UnexpectedStatusError{Want: want, Got: got}, "unexpected sync id")
}

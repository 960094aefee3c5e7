package adb

import (
	"os"
	"strconv"
	"time"

	"github.com/d1ced/adbclient/wire"
)

// DirEntry holds information about a directory entry on a device.
type DirEntry struct {
	Name       string
	Mode       os.FileMode
	Size       int64
	ModifiedAt time.Time
}

func newDirEntry(name string, mode, size, mtime uint32) *DirEntry {
	return &DirEntry{
		Name:       name,
		Mode:       wire.ADBFileMode(mode),
		Size:       int64(size),
		ModifiedAt: time.Unix(int64(mtime), 0).UTC(),
	}
}

// DirEntries iterates over directory entries.
type DirEntries struct {
	conn *wire.SyncConn

	currentEntry *DirEntry
	err          error
	done         bool
}

func newDirEntries(conn *wire.SyncConn, path string) (*DirEntries, error) {
	if err := conn.SendRequest(wire.SyncList, path); err != nil {
		return nil, err
	}
	return &DirEntries{conn: conn}, nil
}

// ReadAll reads all the remaining directory entries into a slice,
// closes self, and returns any error.
// If err is non-nil, result will contain any entries read until the error occurred.
func (entries *DirEntries) ReadAll() (result []*DirEntry, err error) {
	defer entries.Close()

	for entries.Next() {
		result = append(result, entries.Entry())
	}
	err = entries.Err()

	return
}

// Next advances to the next entry. It returns false at the end of the
// listing or on error.
func (entries *DirEntries) Next() bool {
	if entries.err != nil || entries.done {
		return false
	}

	entry, done, err := readNextDirListEntry(entries.conn)
	if err != nil {
		entries.err = err
		entries.Close()
		return false
	}

	entries.currentEntry = entry
	if done {
		entries.done = true
		entries.conn.Finish()
		entries.Close()
		return false
	}

	return true
}

func (entries *DirEntries) Entry() *DirEntry {
	return entries.currentEntry
}

func (entries *DirEntries) Err() error {
	return entries.err
}

// Close closes the connection to the adb server.
// Next() will call Close() before returning false.
func (entries *DirEntries) Close() error {
	return entries.conn.Close()
}

func readNextDirListEntry(s *wire.SyncConn) (*DirEntry, bool, error) {
	id, err := s.ReadID()
	if err != nil {
		return nil, false, err
	}
	switch id {
	case wire.SyncDone:
		// DONE is followed by the same 16 bytes as DENT, all zero.
		if _, _, _, err := s.ReadStat(); err != nil {
			return nil, false, err
		}
		if _, err := s.ReadUint32(); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	case wire.SyncDent:
	default:
		return nil, false, s.Unexpected(id, wire.SyncDent, wire.SyncDone)
	}

	mode, size, mtime, err := s.ReadStat()
	if err != nil {
		return nil, false, err
	}
	n, err := s.ReadUint32()
	if err != nil {
		return nil, false, err
	}
	if n > wire.SyncMaxPathLength {
		return nil, false, s.Unexpected("DENT name length "+strconv.FormatUint(uint64(n), 10), "<= 1024")
	}
	name, err := s.ReadBytes(n)
	if err != nil {
		return nil, false, err
	}
	return newDirEntry(string(name), mode, size, mtime), false, nil
}

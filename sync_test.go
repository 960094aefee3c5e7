package adb

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statReply(mode, size, mtime uint32) string {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:], mode)
	binary.LittleEndian.PutUint32(b[4:], size)
	binary.LittleEndian.PutUint32(b[8:], mtime)
	return "STAT" + string(b)
}

// statSession answers one STAT request for path.
func statSession(path string, mode, size, mtime uint32) func(*fakeConn) error {
	return func(c *fakeConn) error {
		if err := c.sync(testSerial); err != nil {
			return err
		}
		got, err := c.readRequestFrame("STAT")
		if err != nil {
			return err
		}
		if got != path {
			return errors.Errorf("stat %q, want %q", got, path)
		}
		return c.send(statReply(mode, size, mtime))
	}
}

// recvSession answers RECV for path with chunks, then DONE unless cut.
func recvSession(path string, cut bool, chunks ...string) func(*fakeConn) error {
	return func(c *fakeConn) error {
		if err := c.sync(testSerial); err != nil {
			return err
		}
		got, err := c.readRequestFrame("RECV")
		if err != nil {
			return err
		}
		if got != path {
			return errors.Errorf("recv %q, want %q", got, path)
		}
		for _, chunk := range chunks {
			if err := c.sendFrame("DATA", uint32(len(chunk)), []byte(chunk)); err != nil {
				return err
			}
		}
		if cut {
			return nil
		}
		return c.sendFrame("DONE", 0, nil)
	}
}

// sendSession reads a SEND and its DATA frames into got. After limit bytes
// the connection is dropped; a negative limit reads until DONE.
func sendSession(got *bytes.Buffer, header *string, limit int) func(*fakeConn) error {
	return func(c *fakeConn) error {
		if err := c.sync(testSerial); err != nil {
			return err
		}
		h, err := c.readRequestFrame("SEND")
		if err != nil {
			return err
		}
		*header = h
		for {
			id, n, err := c.readFrame()
			if err != nil {
				return err
			}
			switch id {
			case "DATA":
				if _, err := io.CopyN(got, c, int64(n)); err != nil {
					return err
				}
				if limit >= 0 && got.Len() >= limit {
					return nil
				}
			case "DONE":
				return c.send("OKAY\x00\x00\x00\x00")
			default:
				return errors.Errorf("unexpected frame %s", id)
			}
		}
	}
}

func TestStat(t *testing.T) {
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	useFakeServer(t, statSession("/sdcard/file.txt", 0100644, 1234, uint32(mtime.Unix())))
	c := newTestClient(t, deviceList)

	entry, err := c.Stat(testContext(t), testSerial, "/sdcard/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", entry.Name)
	assert.Equal(t, int64(1234), entry.Size)
	assert.Equal(t, os.FileMode(0644), entry.Mode.Perm())
	assert.True(t, entry.Mode.IsRegular())
	assert.Equal(t, mtime, entry.ModifiedAt)
}

func TestStatMissing(t *testing.T) {
	useFakeServer(t, statSession("/sdcard/nope", 0, 0, 0))
	c := newTestClient(t, deviceList)

	_, err := c.Stat(testContext(t), testSerial, "/sdcard/nope")
	assert.True(t, HasErrCode(err, FileNotExist), "got %v", err)
}

func TestList(t *testing.T) {
	dent := func(mode, size, mtime uint32, name string) string {
		b := make([]byte, 16)
		binary.LittleEndian.PutUint32(b[0:], mode)
		binary.LittleEndian.PutUint32(b[4:], size)
		binary.LittleEndian.PutUint32(b[8:], mtime)
		binary.LittleEndian.PutUint32(b[12:], uint32(len(name)))
		return "DENT" + string(b) + name
	}
	useFakeServer(t, func(c *fakeConn) error {
		if err := c.sync(testSerial); err != nil {
			return err
		}
		if _, err := c.readRequestFrame("LIST"); err != nil {
			return err
		}
		return c.send(dent(040755, 4096, 10, "Download") +
			dent(0100600, 3, 20, "a.txt") +
			"DONE" + string(make([]byte, 16)))
	})
	c := newTestClient(t, deviceList)

	entries, err := c.List(testContext(t), testSerial, "/sdcard")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Download", entries[0].Name)
	assert.True(t, entries[0].Mode.IsDir())
	assert.Equal(t, "a.txt", entries[1].Name)
	assert.Equal(t, int64(3), entries[1].Size)
}

func TestPushReader(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10000) // 160000 bytes, three chunks
	var got bytes.Buffer
	var header string
	f := useFakeServer(t, sendSession(&got, &header, -1))
	c := newTestClient(t, deviceList)

	var last int64
	err := c.PushReader(testContext(t), testSerial, bytes.NewReader(data), int64(len(data)), "/sdcard/blob",
		WithFileMode(0640), WithModTime(time.Unix(1700000000, 0)),
		WithProgress(func(done, total int64) {
			assert.GreaterOrEqual(t, done, last)
			assert.Equal(t, int64(len(data)), total)
			last = done
		}))
	require.NoError(t, err)
	require.NoError(t, f.wait())
	assert.Equal(t, "/sdcard/blob,33184", header) // 0100640
	assert.Equal(t, data, got.Bytes())
	assert.Equal(t, int64(len(data)), last)
}

func TestPushDropIsIncomplete(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 200*1024)
	var got bytes.Buffer
	var header string
	f := useFakeServer(t,
		sendSession(&got, &header, 64*1024),
		shellReply("rm -f '/sdcard/big file'", ""),
	)
	c := newTestClient(t, deviceList)

	err := c.PushReader(testContext(t), testSerial, bytes.NewReader(data), int64(len(data)), "/sdcard/big file")
	assert.True(t, HasErrCode(err, TransferIncomplete), "got %v", err)
	require.NoError(t, f.wait())
	assert.Contains(t, f.seen(), "shell:rm -f '/sdcard/big file'")
}

func TestPushShortSourceIsIncomplete(t *testing.T) {
	var got bytes.Buffer
	var header string
	f := useFakeServer(t,
		sendSession(&got, &header, 5),
		shellReply("rm -f '/sdcard/short'", ""),
	)
	c := newTestClient(t, deviceList)

	err := c.PushReader(testContext(t), testSerial, strings.NewReader("hello"), 10, "/sdcard/short")
	assert.True(t, HasErrCode(err, TransferIncomplete), "got %v", err)
	require.NoError(t, f.wait())
	assert.Contains(t, f.seen(), "shell:rm -f '/sdcard/short'")
}

func TestPushFile(t *testing.T) {
	local := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(local, []byte("apk contents"), 0600))
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(local, mtime, mtime))

	var got bytes.Buffer
	var header string
	f := useFakeServer(t, sendSession(&got, &header, -1))
	c := newTestClient(t, deviceList)

	require.NoError(t, c.Push(testContext(t), testSerial, local, "/data/local/tmp/app.apk"))
	require.NoError(t, f.wait())
	assert.Equal(t, "/data/local/tmp/app.apk,33152", header) // 0100600
	assert.Equal(t, "apk contents", got.String())
}

func TestPull(t *testing.T) {
	mtime := time.Unix(1650000000, 0)
	f := useFakeServer(t,
		statSession("/sdcard/log.txt", 0100640, 11, uint32(mtime.Unix())),
		recvSession("/sdcard/log.txt", false, "hello ", "world"),
	)
	c := newTestClient(t, deviceList)
	local := filepath.Join(t.TempDir(), "log.txt")

	require.NoError(t, c.Pull(testContext(t), testSerial, "/sdcard/log.txt", local))
	require.NoError(t, f.wait())
	b, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	fi, err := os.Stat(local)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), fi.Mode().Perm())
	assert.True(t, fi.ModTime().Equal(mtime))
}

func TestPullDropLeavesNoFile(t *testing.T) {
	useFakeServer(t,
		statSession("/sdcard/big.bin", 0100644, 100, 1),
		recvSession("/sdcard/big.bin", true, "only part"),
	)
	c := newTestClient(t, deviceList)
	dir := t.TempDir()

	err := c.Pull(testContext(t), testSerial, "/sdcard/big.bin", filepath.Join(dir, "big.bin"))
	assert.True(t, HasErrCode(err, TransferIncomplete), "got %v", err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPullShortFileIsIncomplete(t *testing.T) {
	useFakeServer(t,
		statSession("/sdcard/a", 0100644, 10, 1),
		recvSession("/sdcard/a", false, "abc"),
	)
	c := newTestClient(t, deviceList)

	var buf bytes.Buffer
	n, err := c.PullWriter(testContext(t), testSerial, "/sdcard/a", &buf)
	assert.True(t, HasErrCode(err, TransferIncomplete), "got %v", err)
	assert.Equal(t, int64(3), n)
}

func TestPullReadFailure(t *testing.T) {
	useFakeServer(t,
		statSession("/sdcard/secret", 0100600, 10, 1),
		func(c *fakeConn) error {
			if err := c.sync(testSerial); err != nil {
				return err
			}
			if _, err := c.readRequestFrame("RECV"); err != nil {
				return err
			}
			msg := "open failed: Permission denied"
			return c.sendFrame("FAIL", uint32(len(msg)), []byte(msg))
		},
	)
	c := newTestClient(t, deviceList)

	_, err := c.PullWriter(testContext(t), testSerial, "/sdcard/secret", io.Discard)
	assert.True(t, HasErrCode(err, ServerError), "got %v", err)
	assert.Equal(t, "open failed: Permission denied", ServerMessage(err))
}

func TestCopyAttributesReportsErrors(t *testing.T) {
	entry := &DirEntry{Mode: 0640, ModifiedAt: time.Unix(1650000000, 0)}
	err := copyAttributes(filepath.Join(t.TempDir(), "missing"), entry)
	assert.True(t, os.IsNotExist(errors.Cause(err)), "got %v", err)

	name := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(name, nil, 0600))
	require.NoError(t, copyAttributes(name, entry))
	fi, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), fi.Mode().Perm())
	assert.True(t, fi.ModTime().Equal(entry.ModifiedAt))
}

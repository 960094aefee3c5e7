package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
)

// DeviceNotFoundMessagePattern matches all possible error messages returned by adb servers to
// report that a matching device was not found. Used to set the DeviceNotFound error code on
// error values.
//
// Old servers send "device not found", and newer ones "device 'serial' not found".
var DeviceNotFoundMessagePattern = regexp.MustCompile(`device( '.*')? not found`)

// ReadTetra reads exactly four bytes.
func ReadTetra(r io.Reader) ([4]byte, error) {
	var tetra [4]byte
	_, err := io.ReadFull(r, tetra[:])
	return tetra, err
}

func TetraToString(tetra [4]byte) string {
	return string(tetra[:])
}

// HexTetraToLen parses a four character hex length. It returns -1 if the
// tetra is not valid hex.
func HexTetraToLen(tetra [4]byte) int {
	n, err := strconv.ParseUint(string(tetra[:]), 16, 16)
	if err != nil {
		return -1
	}
	return int(n)
}

// LenToHexTetra formats n the way the host protocol prefixes payloads.
func LenToHexTetra(n int) [4]byte {
	var t [4]byte
	copy(t[:], fmt.Sprintf("%04x", n))
	return t
}

// TetraToUint32 converts a tetra to an uint32 in little endian form.
func TetraToUint32(tetra [4]byte) uint32 {
	return binary.LittleEndian.Uint32(tetra[:])
}

func Uint32ToTetra(u uint32) [4]byte {
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], u)
	return t
}

// ADB file modes seem to only be 16 bits.
// Values are taken from http://linux.die.net/include/bits/stat.h.
// These numbers are octal.
const (
	ModeDir        = 0040000
	ModeSymlink    = 0120000
	ModeSocket     = 0140000
	ModeFifo       = 0010000
	ModeCharDevice = 0020000
)

// ADBFileMode parses the mode returned by sync
func ADBFileMode(mode uint32) os.FileMode {
	// The ADB filemode uses the permission bits defined in Go's os package, but
	// we need to parse the other bits manually.
	var filemode os.FileMode
	switch {
	case mode&ModeSymlink == ModeSymlink:
		filemode = os.ModeSymlink
	case mode&ModeDir == ModeDir:
		filemode = os.ModeDir
	case mode&ModeSocket == ModeSocket:
		filemode = os.ModeSocket
	case mode&ModeFifo == ModeFifo:
		filemode = os.ModeNamedPipe
	case mode&ModeCharDevice == ModeCharDevice:
		filemode = os.ModeCharDevice
	}
	filemode |= os.FileMode(mode).Perm()
	return filemode
}

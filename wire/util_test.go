package wire

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTetraToUint32(t *testing.T) {
	tests := []struct {
		inp  [4]byte
		want uint32
	}{{
		[4]byte{0, 0, 0, 0}, 0,
	}, {
		[4]byte{1, 0, 0, 0}, 1,
	}, {
		[4]byte{255, 0, 0, 0}, 255,
	}, {
		[4]byte{0, 1, 0, 0}, 1 << 8,
	}, {
		[4]byte{0, 0, 0, 1}, 1 << 24,
	}, {
		[4]byte{255, 255, 255, 255}, (1 << 32) - 1,
	}}
	for _, test := range tests {
		got := TetraToUint32(test.inp)
		assert.Equal(t, test.want, got, "for %v", test.inp)
		assert.Equal(t, test.inp, Uint32ToTetra(got))
	}
}

func TestHexTetra(t *testing.T) {
	assert.Equal(t, [4]byte{'0', '0', '1', '6'}, LenToHexTetra(22))
	assert.Equal(t, [4]byte{'f', 'f', 'f', 'f'}, LenToHexTetra(MaxMessageLength))
	assert.Equal(t, 22, HexTetraToLen([4]byte{'0', '0', '1', '6'}))
	assert.Equal(t, 0xabcd, HexTetraToLen([4]byte{'A', 'B', 'C', 'D'}))
	assert.Equal(t, -1, HexTetraToLen([4]byte{'x', '0', '0', '0'}))
}

func TestReadTetraShort(t *testing.T) {
	_, err := ReadTetra(bytes.NewBufferString("OK"))
	require.Error(t, err)

	tetra, err := ReadTetra(bytes.NewBufferString("OKAYmore"))
	require.NoError(t, err)
	assert.Equal(t, "OKAY", TetraToString(tetra))
}

func TestADBFileMode(t *testing.T) {
	assert.Equal(t, os.ModeDir|0755, ADBFileMode(0040755))
	assert.Equal(t, os.ModeSymlink|0777, ADBFileMode(0120777))
	assert.Equal(t, os.FileMode(0644), ADBFileMode(0100644))
}

func TestErrFormatting(t *testing.T) {
	err := &Err{Code: ServerError, Message: "server returned FAIL", Request: "host:kill", ServerMsg: "nope"}
	assert.Equal(t, `ServerError: server returned FAIL (request "host:kill"): nope`, err.Error())
	assert.Nil(t, WrapErrorf(nil, Timeout, "x"))

	wrapped := WrapErrorf(Errorf(DeviceNotFound, "missing"), ProtocolError, "outer")
	assert.True(t, HasErrCode(wrapped, ProtocolError))
	assert.True(t, HasErrCode(wrapped, DeviceNotFound))
	assert.False(t, HasErrCode(wrapped, Timeout))
	assert.Equal(t, ProtocolError, ErrorCode(wrapped))
	assert.Equal(t, "ErrCode(99)", ErrCode(99).String())
}

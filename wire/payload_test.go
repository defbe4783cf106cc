package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST017: Strings are null-terminated on the wire
func TestStringPayload(t *testing.T) {
	encoded := EncodeString("window.plugview.ready()")
	assert.Equal(t, byte(0), encoded[len(encoded)-1])

	s, err := DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "window.plugview.ready()", s)

	empty, err := DecodeString(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	s, err = DecodeString([]byte("no-terminator"))
	assert.ErrorIs(t, err, ErrMissingTerminator)
	assert.Equal(t, "no-terminator", s)
}

// TEST018: CBOR structured payloads roundtrip
func TestNavigationPayload(t *testing.T) {
	nav := Navigation{Session: "3b8c", URL: "http://127.0.0.1:9000/index.html"}
	encoded, err := EncodeCBOR(nav)
	require.NoError(t, err)

	var decoded Navigation
	require.NoError(t, DecodeCBOR(encoded, &decoded))
	assert.Equal(t, nav, decoded)

	assert.Error(t, DecodeCBOR(nil, &decoded))
}

// TEST019: RESIZE payload is exactly 8 bytes, width then height
func TestSizePayload(t *testing.T) {
	encoded := EncodeSize(Size{Width: 800, Height: -1})
	require.Len(t, encoded, 8)
	assert.Equal(t, []byte{0x20, 0x03, 0x00, 0x00}, encoded[0:4])

	decoded, err := DecodeSize(encoded)
	require.NoError(t, err)
	assert.Equal(t, int32(800), decoded.Width)
	assert.Equal(t, int32(-1), decoded.Height)

	_, err = DecodeSize(encoded[:7])
	assert.Error(t, err)
}

package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMissingTerminator is returned when a string payload has no trailing null byte.
var ErrMissingTerminator = errors.New("string payload is not null-terminated")

// EncodeString encodes s as a single null-terminated byte string.
func EncodeString(s string) []byte {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return buf
}

// DecodeString decodes a null-terminated byte string.
// Bytes after the first null are ignored. An empty payload decodes to "".
func DecodeString(p []byte) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		return string(p), ErrMissingTerminator
	}
	return string(p[:i]), nil
}

// Navigation is the payload of NAVIGATE and NAVIGATION_COMPLETED frames
type Navigation struct {
	Session string `cbor:"session"`
	URL     string `cbor:"url"`
}

// HelperInfo is the payload of the HELLO frame sent by a helper once it is ready
type HelperInfo struct {
	PID     int    `cbor:"pid"`
	Engine  string `cbor:"engine"`
	Version string `cbor:"version"`
}

// LogRecord is the payload of a LOG frame forwarded from the helper
type LogRecord struct {
	Level   string                 `cbor:"level"`
	Logger  string                 `cbor:"logger,omitempty"`
	Message string                 `cbor:"message"`
	Fields  map[string]interface{} `cbor:"fields,omitempty"`
}

// Size is the payload of a RESIZE frame: a fixed 8-byte struct,
// width then height, each a little-endian int32.
type Size struct {
	Width  int32
	Height int32
}

// EncodeCBOR encodes a structured payload
func EncodeCBOR(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodeCBOR decodes a structured payload
func DecodeCBOR(p []byte, v interface{}) error {
	if len(p) == 0 {
		return errors.New("empty CBOR payload")
	}
	return cbor.Unmarshal(p, v)
}

// EncodeSize encodes a Size as its fixed layout
func EncodeSize(s Size) []byte {
	buf := make([]byte, 8)
	byteOrder.PutUint32(buf[0:4], uint32(s.Width))
	byteOrder.PutUint32(buf[4:8], uint32(s.Height))
	return buf
}

// DecodeSize decodes the fixed layout of a Size
func DecodeSize(p []byte) (Size, error) {
	if len(p) != 8 {
		return Size{}, fmt.Errorf("size payload must be 8 bytes, got %d", len(p))
	}
	return Size{
		Width:  int32(byteOrder.Uint32(p[0:4])),
		Height: int32(byteOrder.Uint32(p[4:8])),
	}, nil
}

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrIncomplete is returned by the Decoder while a frame is only partially buffered.
// It is not a failure: feed more bytes and retry.
var ErrIncomplete = errors.New("incomplete frame")

// ErrPayloadTooLarge is returned when a payload does not fit the length field or the limits.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrNegativeLength is returned when a decoded length field is negative.
var ErrNegativeLength = errors.New("negative frame length")

// byteOrder is the fixed layout agreed by both ends
var byteOrder = binary.LittleEndian

// putHeader writes tag and length into a HeaderSize buffer
func putHeader(buf []byte, tag Tag, length int) {
	byteOrder.PutUint16(buf[0:2], uint16(tag))
	byteOrder.PutUint32(buf[2:6], uint32(int32(length)))
}

// parseHeader reads tag and length from a HeaderSize buffer
func parseHeader(buf []byte) (Tag, int) {
	tag := Tag(int16(byteOrder.Uint16(buf[0:2])))
	length := int(int32(byteOrder.Uint32(buf[2:6])))
	return tag, length
}

// checkLength validates a payload length against the hard limit and the given limits
func checkLength(length int, limits Limits) error {
	if length < 0 {
		return ErrNegativeLength
	}
	if length > MaxFrameHardLimit {
		return fmt.Errorf("%w: %d bytes exceeds hard limit %d", ErrPayloadTooLarge, length, MaxFrameHardLimit)
	}
	if limit := limits.effectiveMax(); length > limit {
		return fmt.Errorf("%w: %d bytes exceeds max_frame limit %d", ErrPayloadTooLarge, length, limit)
	}
	return nil
}

// Encode encodes tag and payload into a single frame buffer: tag, then length, then payload.
// Only the hard limit applies; MaxFrame policy belongs to readers and writers.
func Encode(tag Tag, payload []byte) ([]byte, error) {
	return EncodeWithLimits(tag, payload, Limits{MaxFrame: MaxFrameHardLimit})
}

// EncodeWithLimits is Encode with explicit limits
func EncodeWithLimits(tag Tag, payload []byte, limits Limits) ([]byte, error) {
	if err := checkLength(len(payload), limits); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, tag, len(payload))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeFrame encodes a Frame
func EncodeFrame(frame *Frame) ([]byte, error) {
	return Encode(frame.Tag, frame.Value)
}

// Decoder is a resumable frame decoder. Bytes may arrive in arbitrary chunks;
// a frame is only returned once all of its bytes are buffered.
type Decoder struct {
	buf     []byte
	limits  Limits
	readBuf []byte
}

// NewDecoder creates a new Decoder with default limits
func NewDecoder() *Decoder {
	return &Decoder{limits: DefaultLimits()}
}

// SetLimits updates the decoder's limits
func (d *Decoder) SetLimits(limits Limits) {
	d.limits = limits
}

// Feed appends bytes to the decoder's buffer
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held but not yet returned as a frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame, or ErrIncomplete if more bytes are needed.
// Any other error means the stream is corrupt and the decoder must be discarded.
func (d *Decoder) Next() (*Frame, error) {
	if len(d.buf) < HeaderSize {
		return nil, ErrIncomplete
	}
	tag, length := parseHeader(d.buf)
	if err := checkLength(length, d.limits); err != nil {
		return nil, err
	}
	if len(d.buf) < HeaderSize+length {
		return nil, ErrIncomplete
	}

	var value []byte
	if length > 0 {
		value = make([]byte, length)
		copy(value, d.buf[HeaderSize:HeaderSize+length])
	}

	// Compact so the buffer never grows without bound across frames
	rest := copy(d.buf, d.buf[HeaderSize+length:])
	d.buf = d.buf[:rest]

	return &Frame{Tag: tag, Value: value}, nil
}

// Decode performs a single Read on src, feeds what it got and returns the next frame.
// It returns ErrIncomplete when the source yielded fewer bytes than a full frame.
// io.EOF is returned only when the source is exhausted and no partial frame is held;
// a source that ends mid-frame yields io.ErrUnexpectedEOF.
func (d *Decoder) Decode(src io.Reader) (*Frame, error) {
	if frame, err := d.Next(); err != ErrIncomplete {
		return frame, err
	}
	if d.readBuf == nil {
		d.readBuf = make([]byte, 32*1024)
	}
	n, err := src.Read(d.readBuf)
	if n > 0 {
		d.Feed(d.readBuf[:n])
	}
	frame, nextErr := d.Next()
	if nextErr != ErrIncomplete {
		return frame, nextErr
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(d.buf) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return nil, ErrIncomplete
}

package wire

import (
	"fmt"
	"io"
)

// FrameReader reads tag + length prefixed frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame blocks until a whole frame has been read.
// A stream that ends inside a frame returns io.ErrUnexpectedEOF, never a partial frame.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(fr.reader, header[:]); err != nil {
		return nil, err
	}

	tag, length := parseHeader(header[:])
	if err := checkLength(length, fr.limits); err != nil {
		return nil, fmt.Errorf("frame %s: %w", tag, err)
	}

	if length == 0 {
		return &Frame{Tag: tag}, nil
	}

	value := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, value); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Frame{Tag: tag, Value: value}, nil
}

// FrameWriter writes tag + length prefixed frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// WriteFrame writes tag, length and payload as three sequential writes.
// A failure on any of them fails the whole frame; the stream is then unusable
// because the peer may have seen a partial header.
func (fw *FrameWriter) WriteFrame(tag Tag, payload []byte) error {
	if err := checkLength(len(payload), fw.limits); err != nil {
		return fmt.Errorf("frame %s: %w", tag, err)
	}

	var header [HeaderSize]byte
	putHeader(header[:], tag, len(payload))

	if _, err := fw.writer.Write(header[0:2]); err != nil {
		return fmt.Errorf("write tag: %w", err)
	}
	if _, err := fw.writer.Write(header[2:6]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if len(payload) > 0 {
		if _, err := fw.writer.Write(payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

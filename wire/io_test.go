package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST011: FrameWriter/FrameReader roundtrip several frames over one stream
func TestFrameReaderWriterRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	writer := NewFrameWriter(&buf)

	require.NoError(t, writer.WriteFrame(TagHello, []byte{0xA0}))
	require.NoError(t, writer.WriteFrame(TagTerminate, nil))
	require.NoError(t, writer.WriteFrame(TagDocumentMessage, EncodeString(`{"type":"x"}`)))

	reader := NewFrameReader(&buf)

	f1, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TagHello, f1.Tag)
	assert.Equal(t, []byte{0xA0}, f1.Value)

	f2, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f2.IsTerminate())
	assert.Equal(t, 0, f2.Len())

	f3, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"x"}`, f3.String())

	_, err = reader.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

// TEST012: WriteFrame issues exactly three writes: tag, length, payload
func TestFrameWriterThreeWrites(t *testing.T) {
	rec := &recordingWriter{}
	writer := NewFrameWriter(rec)

	require.NoError(t, writer.WriteFrame(TagRunScript, []byte("x()")))
	require.Len(t, rec.writes, 3)
	assert.Len(t, rec.writes[0], 2)
	assert.Len(t, rec.writes[1], 4)
	assert.Equal(t, []byte("x()"), rec.writes[2])

	rec.writes = nil
	require.NoError(t, writer.WriteFrame(TagTerminate, nil))
	assert.Len(t, rec.writes, 2, "no payload write for a zero-length frame")
}

// TEST013: A failed partial write fails the whole frame
func TestFrameWriterPartialFailure(t *testing.T) {
	writer := NewFrameWriter(&failingWriter{failAt: 2})
	err := writer.WriteFrame(TagRunScript, []byte("x()"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write length")
}

// TEST014: A stream truncated inside the payload is an unexpected EOF
func TestFrameReaderTruncatedPayload(t *testing.T) {
	encoded, err := Encode(TagRunScript, []byte("longer payload"))
	require.NoError(t, err)

	reader := NewFrameReader(bytes.NewReader(encoded[:HeaderSize+3]))
	frame, err := reader.ReadFrame()
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TEST015: A stream truncated inside the header is an unexpected EOF
func TestFrameReaderTruncatedHeader(t *testing.T) {
	reader := NewFrameReader(bytes.NewReader([]byte{0x03, 0x00, 0x01}))
	_, err := reader.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TEST016: Reader and writer enforce limits
func TestFrameReaderWriterLimits(t *testing.T) {
	var buf bytes.Buffer
	writer := NewFrameWriter(&buf)
	writer.SetLimits(Limits{MaxFrame: 4})
	err := writer.WriteFrame(TagRunScript, []byte("12345"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, 0, buf.Len(), "nothing is written for a rejected frame")

	encoded, err := Encode(TagRunScript, []byte("12345"))
	require.NoError(t, err)
	reader := NewFrameReader(bytes.NewReader(encoded))
	reader.SetLimits(Limits{MaxFrame: 4})
	_, err = reader.ReadFrame()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	w.writes = append(w.writes, cp)
	return len(p), nil
}

type failingWriter struct {
	calls  int
	failAt int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls == w.failAt {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

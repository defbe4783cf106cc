package transport

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/plugview-go/wire"
)

func newTestPair(t *testing.T, opts ...Option) (*Channel, *Channel) {
	t.Helper()
	host, child, err := NewPipePair(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		host.Close()
		child.Close()
	})
	return host, child
}

// TEST020: A read poll with no data returns ErrTimeout after the timeout, not before
func TestReadPollTimeout(t *testing.T) {
	host, _ := newTestPair(t)
	require.NotNil(t, host.deadline, "os.Pipe endpoints support deadlines")

	start := time.Now()
	frame, err := host.read(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Nil(t, frame)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.NoError(t, host.Broken(), "a timeout does not break the channel")
}

// TEST021: Frames written on one side are read whole on the other
func TestChannelWriteRead(t *testing.T) {
	host, child := newTestPair(t)

	require.NoError(t, host.Write(wire.TagRunScript, wire.EncodeString("init()")))
	require.NoError(t, host.WriteFrame(wire.NewTerminate()))

	frame, err := child.read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.TagRunScript, frame.Tag)
	assert.Equal(t, "init()", frame.String())

	frame, err = child.read(time.Second)
	require.NoError(t, err)
	assert.True(t, frame.IsTerminate())

	_, err = child.read(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

// TEST022: A peer that dies mid-frame breaks the channel with a truncation error
func TestChannelTruncatedFrame(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	out, outW, err := os.Pipe()
	require.NoError(t, err)
	defer out.Close()

	ch := NewChannel(r, outW)
	defer ch.Close()

	encoded, err := wire.Encode(wire.TagDocumentMessage, []byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write(encoded[:wire.HeaderSize+3])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	frame, err := ch.read(time.Second)
	assert.Nil(t, frame)
	require.ErrorIs(t, err, ErrBroken)

	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, ErrorTypeTruncated, chErr.Type)
	assert.Equal(t, "read", chErr.Op)

	// Broken in both directions
	assert.ErrorIs(t, ch.Write(wire.TagRunScript, nil), ErrBroken)
	assert.Equal(t, err, ch.Broken())
}

// TEST023: Peer closing at a frame boundary is a closed-endpoint error
func TestChannelPeerClosed(t *testing.T) {
	host, child := newTestPair(t)
	require.NoError(t, child.Close())

	_, err := host.read(time.Second)
	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, ErrorTypeClosed, chErr.Type)
}

// TEST024: Close is idempotent and every later read or write is an error
func TestChannelCloseIdempotent(t *testing.T) {
	host, _ := newTestPair(t)

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())

	_, err := host.read(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrBroken)
	assert.ErrorIs(t, host.Write(wire.TagRunScript, wire.EncodeString("x")), ErrBroken)
}

// TEST025: Encode overflow on write is a transport error and nothing reaches the peer
func TestChannelWriteOverflow(t *testing.T) {
	host, child := newTestPair(t, WithLimits(wire.Limits{MaxFrame: 8}))

	err := host.Write(wire.TagRunScript, make([]byte, 9))
	require.ErrorIs(t, err, ErrBroken)
	assert.ErrorIs(t, err, wire.ErrPayloadTooLarge)

	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, ErrorTypeEncode, chErr.Type)

	_, err = child.read(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

// TEST026: Endpoints without read deadlines poll through the pump and still time out
func TestChannelPumpMode(t *testing.T) {
	pr, pw := io.Pipe()
	rr, rw := io.Pipe()
	reader := NewChannel(pr, rw)
	writer := NewChannel(rr, pw)
	defer reader.Close()
	defer writer.Close()
	require.Nil(t, reader.deadline)

	start := time.Now()
	_, err := reader.read(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	go writer.Write(wire.TagDocumentMessage, wire.EncodeString(`{"type":"ping"}`))

	frame, err := reader.read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.TagDocumentMessage, frame.Tag)
	assert.Equal(t, `{"type":"ping"}`, frame.String())
}

// TEST027: ChannelError renders its type and operation
func TestChannelErrorMessage(t *testing.T) {
	err := &ChannelError{Type: ErrorTypeTruncated, Op: "read", Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "channel read: partial frame: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrBroken)
	assert.Equal(t, "truncated", ErrorTypeTruncated.String())
}

package transport

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/wire"
)

// readDeadliner is implemented by endpoints that support poll-style reads (*os.File, net.Conn)
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Option configures a Channel
type Option func(*Channel)

// WithLimits sets the frame size limits for both directions
func WithLimits(limits wire.Limits) Option {
	return func(c *Channel) {
		c.limits = limits
	}
}

// WithLogger sets the channel logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type pumpResult struct {
	frame *wire.Frame
	err   error
}

// Channel owns one read endpoint and one write endpoint for its whole lifetime.
//
// Reading is unexported: only the Dispatcher reads, so there is exactly one reader
// per channel by construction. Write may be called from any goroutine.
type Channel struct {
	rc io.ReadCloser
	wc io.WriteCloser

	limits wire.Limits
	logger *zap.Logger

	br       *bufio.Reader
	reader   *wire.FrameReader
	deadline readDeadliner

	// Pump mode, for endpoints without read deadlines
	pumpOnce sync.Once
	pump     chan pumpResult

	wmu    sync.Mutex
	writer *wire.FrameWriter

	mu     sync.Mutex
	broken *ChannelError

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

// NewChannel takes ownership of a read endpoint and a write endpoint.
func NewChannel(r io.ReadCloser, w io.WriteCloser, opts ...Option) *Channel {
	c := &Channel{
		rc:     r,
		wc:     w,
		limits: wire.DefaultLimits(),
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.br = bufio.NewReader(r)
	c.reader = wire.NewFrameReader(c.br)
	c.reader.SetLimits(c.limits)
	c.writer = wire.NewFrameWriter(w)
	c.writer.SetLimits(c.limits)

	// Clearing the deadline doubles as the capability probe: pipes opened in
	// blocking mode report os.ErrNoDeadline.
	if d, ok := r.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Time{}); err == nil {
			c.deadline = d
		}
	}
	if c.deadline == nil {
		c.logger.Debug("read endpoint has no deadline support, using pump reader")
	}
	return c
}

// read polls the read endpoint for up to timeout. It returns ErrTimeout when no data
// arrived. Once the first byte is available it blocks until a whole frame has been read;
// a short read or closed endpoint in that phase breaks the channel.
func (c *Channel) read(timeout time.Duration) (*wire.Frame, error) {
	if err := c.Broken(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, c.fail(ErrorTypeClosed, "read", os.ErrClosed)
	}
	if c.deadline == nil {
		return c.readPumped(timeout)
	}

	if err := c.deadline.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, c.fail(classify(err), "read", err)
	}
	if _, err := c.br.Peek(1); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, c.fail(classify(err), "read", err)
	}
	if err := c.deadline.SetReadDeadline(time.Time{}); err != nil {
		return nil, c.fail(classify(err), "read", err)
	}

	frame, err := c.reader.ReadFrame()
	if err != nil {
		// Data was already available: EOF here means the peer went away mid-frame
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.fail(classify(err), "read", err)
	}
	return frame, nil
}

func (c *Channel) readPumped(timeout time.Duration) (*wire.Frame, error) {
	c.pumpOnce.Do(c.startPump)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-c.pump:
		if res.err != nil {
			return nil, c.fail(classify(res.err), "read", res.err)
		}
		return res.frame, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.done:
		return nil, c.fail(ErrorTypeClosed, "read", os.ErrClosed)
	}
}

// startPump runs the single blocking reader. It only ever hands whole frames to read.
func (c *Channel) startPump() {
	c.pump = make(chan pumpResult)
	go func() {
		for {
			frame, err := c.reader.ReadFrame()
			select {
			case c.pump <- pumpResult{frame: frame, err: err}:
			case <-c.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// Write sends one frame as three sequential writes: tag, length, payload.
// Any failure breaks the channel; no partial-frame recovery is attempted.
func (c *Channel) Write(tag wire.Tag, payload []byte) error {
	if err := c.Broken(); err != nil {
		return err
	}
	if c.isClosed() {
		return c.fail(ErrorTypeClosed, "write", os.ErrClosed)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.writer.WriteFrame(tag, payload); err != nil {
		return c.fail(classify(err), "write", err)
	}
	return nil
}

// WriteFrame sends a frame value
func (c *Channel) WriteFrame(frame *wire.Frame) error {
	return c.Write(frame.Tag, frame.Value)
}

// Broken returns the terminal error once the channel has failed, nil while it is usable.
func (c *Channel) Broken() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		return nil
	}
	return c.broken
}

// fail records the first terminal error; later failures return the first one.
func (c *Channel) fail(t ErrorType, op string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = &ChannelError{Type: t, Op: op, Err: err}
		if t != ErrorTypeClosed || !c.isClosed() {
			c.logger.Warn("channel broken",
				zap.String("op", op),
				zap.Stringer("type", t),
				zap.Error(err))
		}
	}
	return c.broken
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes both endpoints. It is idempotent; later calls return the first result.
// Stop the dispatcher before closing so the worker never observes a closed handle mid-read.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = errors.Join(c.wc.Close(), c.rc.Close())
	})
	return c.closeErr
}

package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/wire"
)

// DefaultPollInterval bounds how long the worker takes to notice a stop request.
const DefaultPollInterval = 50 * time.Millisecond

var ErrAlreadyStarted = errors.New("dispatcher already started")

// Handler handles one inbound frame on the dispatcher worker.
// Handlers must return promptly; they run on the receive path.
type Handler func(frame *wire.Frame) error

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets the read poll timeout used by the worker
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithDispatcherLogger sets the dispatcher logger
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher owns the receive loop of a Channel. It is the only reader of the channel.
//
// The reserved TERMINATE tag is handled by the dispatcher itself: it stops the loop even
// when no handler is registered. A handler registered for TERMINATE is only notified.
type Dispatcher struct {
	ch       *Channel
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[wire.Tag]Handler
	onExit   []func(error)

	started atomic.Bool
	stop    atomic.Bool
	done    chan struct{}
	err     error
}

// NewDispatcher creates a dispatcher for ch. Register handlers before Start.
func NewDispatcher(ch *Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ch:       ch,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		handlers: make(map[wire.Tag]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle registers the handler for a tag, replacing any previous one
func (d *Dispatcher) Handle(tag wire.Tag, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, tag)
		return
	}
	d.handlers[tag] = fn
}

// OnExit registers a callback run on the worker after the loop exits.
// err is nil for a clean stop and a *ChannelError when the channel broke.
func (d *Dispatcher) OnExit(fn func(err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onExit = append(d.onExit, fn)
}

// Start launches the worker goroutine
func (d *Dispatcher) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go d.run()
	return nil
}

// Stop requests a cooperative stop. It returns immediately; the worker notices the
// request within one poll interval, after any in-flight handler returns.
// Stop is idempotent and safe after the worker has exited.
func (d *Dispatcher) Stop() {
	d.stop.Store(true)
}

// Done is closed when the worker has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stopping reports whether a stop was requested or the loop has exited
func (d *Dispatcher) Stopping() bool {
	return d.stop.Load()
}

// Err returns the terminal channel error once Done is closed, nil for a clean stop
func (d *Dispatcher) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

func (d *Dispatcher) run() {
	defer d.exit()

	for !d.stop.Load() {
		frame, err := d.ch.read(d.interval)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			if !d.stop.Swap(true) {
				d.err = err
				d.logger.Warn("receive loop stopped on channel error", zap.Error(err))
			}
			return
		}
		if frame.IsTerminate() {
			d.stop.Store(true)
			d.logger.Debug("terminate received")
			d.dispatch(frame)
			return
		}
		d.dispatch(frame)
	}
	d.logger.Debug("receive loop stopped")
}

func (d *Dispatcher) exit() {
	close(d.done)

	d.mu.RLock()
	callbacks := append([]func(error){}, d.onExit...)
	d.mu.RUnlock()
	for _, fn := range callbacks {
		fn(d.err)
	}
}

// dispatch invokes the handler for one frame. Handler errors and panics are
// contained to this frame.
func (d *Dispatcher) dispatch(frame *wire.Frame) {
	d.mu.RLock()
	fn, ok := d.handlers[frame.Tag]
	d.mu.RUnlock()
	if !ok {
		if !frame.IsTerminate() {
			d.logger.Debug("no handler for frame", zap.Stringer("tag", frame.Tag), zap.Int("len", frame.Len()))
		}
		return
	}

	if err := d.invoke(fn, frame); err != nil {
		d.logger.Error("handler failed", zap.Stringer("tag", frame.Tag), zap.Error(err))
	}
}

func (d *Dispatcher) invoke(fn Handler, frame *wire.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(frame)
}

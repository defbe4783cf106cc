// Package gate guards script execution in a hosted document until the document
// signals readiness.
//
// A Gate is one readiness session: NotReady, then Ready, never back. Operations that
// depend on the document are rejected with ErrNotReady before the transition, except
// script injection which is queued and flushed, in order, exactly once on transition.
// A new navigation needs a new Gate.
package gate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotReady is returned for document-dependent calls made before the document is ready.
// It is recoverable: retry after Ready, or queue the work with Inject instead.
var ErrNotReady = errors.New("document not ready")

// State is the readiness state of one session
type State int32

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type options struct {
	session string
	logger  *zap.Logger
}

// Option configures a Gate
type Option func(*options)

// WithSession sets the session id instead of generating one
func WithSession(id string) Option {
	return func(o *options) {
		o.session = id
	}
}

// WithLogger sets the gate logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Gate is the readiness state machine for one document session.
// All methods are safe to call from any goroutine.
type Gate[T any] struct {
	session string
	exec    func(T) error
	logger  *zap.Logger

	// ready is set only after the queue has been flushed, under mu
	ready atomic.Bool

	mu      sync.Mutex
	queue   *Queue[T]
	readyCh chan struct{}
}

// New creates a NotReady gate. exec runs injected items; it must not call back into the gate.
func New[T any](exec func(item T) error, opts ...Option) *Gate[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.session == "" {
		o.session = uuid.NewString()
	}
	return &Gate[T]{
		session: o.session,
		exec:    exec,
		logger:  o.logger.With(zap.String("session", o.session)),
		queue:   NewQueue[T](),
		readyCh: make(chan struct{}),
	}
}

// Session returns the session id this gate belongs to
func (g *Gate[T]) Session() string {
	return g.session
}

// State returns the current state
func (g *Gate[T]) State() State {
	if g.ready.Load() {
		return Ready
	}
	return NotReady
}

// IsReady reports whether the gate is Ready
func (g *Gate[T]) IsReady() bool {
	return g.ready.Load()
}

// Ready is closed once the gate is Ready and the queue has been flushed
func (g *Gate[T]) Ready() <-chan struct{} {
	return g.readyCh
}

// Pending returns the number of queued items
func (g *Gate[T]) Pending() int {
	return g.queue.Len()
}

// Run executes op if the document is ready and returns ErrNotReady otherwise, without
// running op. A call that races with the transition waits for the flush and then runs,
// so queued items always execute before it.
func (g *Gate[T]) Run(op func() error) error {
	if g.ready.Load() {
		return op()
	}

	g.mu.Lock()
	ready := g.ready.Load()
	g.mu.Unlock()

	if !ready {
		return ErrNotReady
	}
	return op()
}

// Inject queues item for execution right after the transition, or executes it
// immediately when the gate is already Ready.
func (g *Gate[T]) Inject(item T) error {
	if g.ready.Load() {
		return g.exec(item)
	}

	g.mu.Lock()
	if g.ready.Load() {
		g.mu.Unlock()
		return g.exec(item)
	}
	err := g.queue.Enqueue(item)
	g.mu.Unlock()
	return err
}

// MarkReady performs the NotReady to Ready transition: the queue is flushed first, then
// the gate opens. Later calls are no-ops. The returned error joins the failures of
// individual queued items; the transition happens regardless.
func (g *Gate[T]) MarkReady() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready.Load() {
		return nil
	}

	pending := g.queue.Len()
	err := g.queue.FlushInOrder(g.exec)
	g.ready.Store(true)
	close(g.readyCh)

	if err != nil {
		g.logger.Warn("queued items failed during flush", zap.Int("pending", pending), zap.Error(err))
	} else {
		g.logger.Debug("document ready", zap.Int("flushed", pending))
	}
	return err
}

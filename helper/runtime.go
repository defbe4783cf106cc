package helper

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/transport"
	"github.com/machinefabric/plugview-go/wire"
)

// Engine is the browser engine hosted by the helper process
type Engine interface {
	// Navigate starts loading url as the document of session. Completion is reported
	// to the sink with the same session.
	Navigate(session, url string) error
	RunScript(src string) error
	// InjectScript registers src to run before page scripts in every new document
	InjectScript(src string) error
	Resize(width, height int) error
	Close() error
}

// EventSink receives engine events; Runtime forwards them to the plugin process.
// Methods may be called from any goroutine.
type EventSink interface {
	NavigationCompleted(session, url string)
	DocumentMessage(payload string)
	WindowClosed()
	ScriptError(message string)
}

// EngineFactory creates the engine once the runtime can receive its events
type EngineFactory func(sink EventSink) (Engine, error)

// RuntimeOption configures a Runtime
type RuntimeOption func(*Runtime)

// WithRuntimeLogger sets the runtime logger
func WithRuntimeLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithInfo sets what the runtime announces in HELLO
func WithInfo(info wire.HelperInfo) RuntimeOption {
	return func(r *Runtime) {
		r.info = info
	}
}

// WithRuntimePollInterval sets the read poll timeout of the runtime's dispatcher
func WithRuntimePollInterval(interval time.Duration) RuntimeOption {
	return func(r *Runtime) {
		r.interval = interval
	}
}

// Runtime is the helper side of the bridge: it executes the plugin's requests on the
// engine and reports engine events back. It runs until TERMINATE, a broken channel,
// or context cancellation.
type Runtime struct {
	ch       *transport.Channel
	disp     *transport.Dispatcher
	engine   Engine
	logger   *zap.Logger
	info     wire.HelperInfo
	interval time.Duration

	mu      sync.Mutex
	session string
	url     string
}

// NewRuntime creates the runtime around an inherited channel
func NewRuntime(ch *transport.Channel, factory EngineFactory, opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{
		ch:       ch,
		logger:   zap.NewNop(),
		info:     wire.HelperInfo{PID: os.Getpid()},
		interval: transport.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}

	engine, err := factory(r)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	r.engine = engine

	r.disp = transport.NewDispatcher(ch,
		transport.WithPollInterval(r.interval),
		transport.WithDispatcherLogger(r.logger.Named("dispatcher")),
	)
	r.disp.Handle(wire.TagNavigate, r.handleNavigate)
	r.disp.Handle(wire.TagRunScript, r.handleRunScript)
	r.disp.Handle(wire.TagInjectScript, r.handleInjectScript)
	r.disp.Handle(wire.TagResize, r.handleResize)
	return r, nil
}

// Run announces the helper with HELLO and serves requests until stopped.
// It closes the engine and the channel before returning.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.disp.Start(); err != nil {
		return err
	}

	hello, err := wire.EncodeCBOR(r.info)
	if err == nil {
		err = r.ch.Write(wire.TagHello, hello)
	}
	if err != nil {
		r.disp.Stop()
		<-r.disp.Done()
		r.shutdown()
		return fmt.Errorf("send HELLO: %w", err)
	}
	r.logger.Debug("hello sent", zap.Int("pid", r.info.PID))

	select {
	case <-r.disp.Done():
	case <-ctx.Done():
		r.disp.Stop()
		<-r.disp.Done()
	}

	r.shutdown()
	return r.disp.Err()
}

func (r *Runtime) shutdown() {
	if err := r.engine.Close(); err != nil {
		r.logger.Warn("close engine", zap.Error(err))
	}
	r.ch.Close()
}

func (r *Runtime) handleNavigate(frame *wire.Frame) error {
	var nav wire.Navigation
	if err := wire.DecodeCBOR(frame.Value, &nav); err != nil {
		return fmt.Errorf("decode NAVIGATE: %w", err)
	}
	r.mu.Lock()
	r.session = nav.Session
	r.url = nav.URL
	r.mu.Unlock()

	r.logger.Debug("navigate", zap.String("session", nav.Session), zap.String("url", nav.URL))
	if err := r.engine.Navigate(nav.Session, nav.URL); err != nil {
		r.ScriptError(fmt.Sprintf("navigate %s: %v", nav.URL, err))
		return err
	}
	return nil
}

func (r *Runtime) handleRunScript(frame *wire.Frame) error {
	src, err := wire.DecodeString(frame.Value)
	if err != nil {
		return err
	}
	if err := r.engine.RunScript(src); err != nil {
		r.ScriptError(err.Error())
		return err
	}
	return nil
}

func (r *Runtime) handleInjectScript(frame *wire.Frame) error {
	src, err := wire.DecodeString(frame.Value)
	if err != nil {
		return err
	}
	return r.engine.InjectScript(src)
}

func (r *Runtime) handleResize(frame *wire.Frame) error {
	size, err := wire.DecodeSize(frame.Value)
	if err != nil {
		return err
	}
	return r.engine.Resize(int(size.Width), int(size.Height))
}

// NavigationCompleted reports the document of session as ready. Completions of a
// superseded session are still reported; the plugin side ignores them.
func (r *Runtime) NavigationCompleted(session, url string) {
	r.mu.Lock()
	if url == "" && session == r.session {
		url = r.url
	}
	current := r.session
	r.mu.Unlock()

	if session != current {
		r.logger.Debug("navigation of superseded session completed",
			zap.String("session", session), zap.String("current", current))
	}
	nav := wire.Navigation{Session: session, URL: url}

	payload, err := wire.EncodeCBOR(nav)
	if err != nil {
		r.logger.Error("encode navigation", zap.Error(err))
		return
	}
	r.send(wire.TagNavigationCompleted, payload)
}

func (r *Runtime) DocumentMessage(payload string) {
	r.send(wire.TagDocumentMessage, wire.EncodeString(payload))
}

func (r *Runtime) WindowClosed() {
	r.send(wire.TagWindowClosed, nil)
}

func (r *Runtime) ScriptError(message string) {
	r.send(wire.TagScriptError, wire.EncodeString(message))
}

func (r *Runtime) send(tag wire.Tag, payload []byte) {
	if err := r.ch.Write(tag, payload); err != nil {
		r.logger.Warn("event not delivered", zap.Stringer("tag", tag), zap.Error(err))
	}
}

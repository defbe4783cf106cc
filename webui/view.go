package webui

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/gate"
	"github.com/machinefabric/plugview-go/keyroute"
)

//go:embed bootstrap.js
var bootstrapScript string

// BootstrapScript returns the script that installs window.plugview in every document
func BootstrapScript() string {
	return bootstrapScript
}

var (
	ErrClosed        = errors.New("view closed")
	ErrNoDocument    = errors.New("no document has been loaded")
	ErrInvalidMethod = errors.New("invalid method name")
)

var methodName = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// MessageHandler handles one document message; it runs on the backend's event goroutine
type MessageHandler func(msg *Message) error

type route struct {
	fn     MessageHandler
	schema *messageSchema
}

// Option configures a View
type Option func(*View)

// WithLogger sets the view logger
func WithLogger(logger *zap.Logger) Option {
	return func(v *View) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// View is the plugin-side handle of one hosted document.
//
// Every navigation starts a new readiness session with its own gate. Script execution and
// mapped-method calls are rejected with gate.ErrNotReady until the current session's
// document is ready; InjectScript queues until then.
type View struct {
	backend Backend
	logger  *zap.Logger

	// transition serializes a gate's readiness transition with its replacement, so a
	// superseded gate never flushes into the next document
	transition sync.Mutex

	mu        sync.Mutex
	gate      *gate.Gate[string]
	navigated bool
	url       string
	closed    bool
	onReady   []func(session string)

	routesMu sync.RWMutex
	routes   map[string]route
}

// NewView binds a backend. The bootstrap script is registered for every document.
func NewView(backend Backend, opts ...Option) (*View, error) {
	v := &View{
		backend: backend,
		logger:  zap.NewNop(),
		routes:  make(map[string]route),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.gate = v.newGate()

	backend.SetObserver(v)
	if err := backend.InjectScript(bootstrapScript); err != nil {
		return nil, fmt.Errorf("register bootstrap script: %w", err)
	}
	return v, nil
}

func (v *View) newGate() *gate.Gate[string] {
	return gate.New(v.backend.RunScript, gate.WithLogger(v.logger.Named("gate")))
}

func (v *View) current() *gate.Gate[string] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gate
}

// Navigate loads url in a new readiness session. Items injected before the first
// navigation belong to its session; a later navigation discards the pending items of
// a session that never became ready.
func (v *View) Navigate(url string) error {
	v.transition.Lock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.transition.Unlock()
		return ErrClosed
	}
	g := v.gate
	if v.navigated {
		if pending := g.Pending(); pending > 0 && !g.IsReady() {
			v.logger.Warn("navigation superseded a session that never became ready",
				zap.String("session", g.Session()),
				zap.Int("dropped", pending))
		}
		g = v.newGate()
		v.gate = g
	}
	v.navigated = true
	v.url = url
	v.mu.Unlock()
	v.transition.Unlock()

	v.logger.Debug("navigate", zap.String("session", g.Session()), zap.String("url", url))
	return v.backend.Load(g.Session(), url)
}

// Reload navigates to the current URL again. It starts a fresh session like any navigation.
func (v *View) Reload() error {
	v.mu.Lock()
	url := v.url
	v.mu.Unlock()
	if url == "" {
		return ErrNoDocument
	}
	return v.Navigate(url)
}

// URL returns the URL of the latest navigation
func (v *View) URL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.url
}

// Session returns the id of the current readiness session
func (v *View) Session() string {
	return v.current().Session()
}

// IsReady reports whether the current session's document is ready
func (v *View) IsReady() bool {
	return v.current().IsReady()
}

// Ready is closed when the current session's document becomes ready
func (v *View) Ready() <-chan struct{} {
	return v.current().Ready()
}

// OnReady registers a callback run after each session becomes ready and its queue is flushed
func (v *View) OnReady(fn func(session string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onReady = append(v.onReady, fn)
}

// RunScript evaluates src in the document. It fails with gate.ErrNotReady before ready.
func (v *View) RunScript(src string) error {
	if v.isClosed() {
		return ErrClosed
	}
	return v.current().Run(func() error {
		return v.backend.RunScript(src)
	})
}

// InjectScript queues src to run right after the document becomes ready, or runs it
// immediately when it already is.
func (v *View) InjectScript(src string) error {
	if v.isClosed() {
		return ErrClosed
	}
	return v.current().Inject(src)
}

// Call invokes a global function of the document with JSON-encoded arguments.
// It is a mapped method: it fails with gate.ErrNotReady before ready.
func (v *View) Call(method string, args ...interface{}) error {
	if !methodName.MatchString(method) {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	encoded := make([]byte, 0, 64)
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("encode argument %d of %s: %w", i, method, err)
		}
		if i > 0 {
			encoded = append(encoded, ',')
		}
		encoded = append(encoded, b...)
	}
	return v.RunScript(fmt.Sprintf("%s(%s);", method, encoded))
}

// PostMessage delivers a message to the document's plugview.on handlers.
// It is a mapped method: it fails with gate.ErrNotReady before ready.
func (v *View) PostMessage(messageType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", messageType, err)
	}
	env, err := json.Marshal(Message{Type: messageType, Data: raw})
	if err != nil {
		return fmt.Errorf("encode message %s: %w", messageType, err)
	}
	return v.RunScript(fmt.Sprintf("window.plugview.__dispatch(%s);", env))
}

// HandleKey forwards a routed key event to the document. It reports whether the event
// was delivered.
func (v *View) HandleKey(ev keyroute.KeyEvent) bool {
	err := v.PostMessage("key", ev)
	if err != nil && !errors.Is(err, gate.ErrNotReady) {
		v.logger.Debug("key event not delivered", zap.Error(err))
	}
	return err == nil
}

// HandleMessage routes document messages of one type to fn, replacing any previous route
func (v *View) HandleMessage(messageType string, fn MessageHandler) {
	v.routesMu.Lock()
	defer v.routesMu.Unlock()
	v.routes[messageType] = route{fn: fn}
}

// HandleMessageWithSchema routes messages of one type to fn after validating their data
// against a JSON schema. Invalid messages are logged and dropped.
func (v *View) HandleMessageWithSchema(messageType, schemaJSON string, fn MessageHandler) error {
	schema, err := compileSchema(messageType, schemaJSON)
	if err != nil {
		return err
	}
	v.routesMu.Lock()
	defer v.routesMu.Unlock()
	v.routes[messageType] = route{fn: fn, schema: schema}
	return nil
}

// OnDocumentReady drives the current gate to Ready. Events for a superseded session are ignored.
func (v *View) OnDocumentReady(session string) {
	if !v.markReady(session) {
		return
	}
	v.mu.Lock()
	hooks := append([]func(string){}, v.onReady...)
	v.mu.Unlock()
	for _, fn := range hooks {
		fn(session)
	}
}

func (v *View) markReady(session string) bool {
	v.transition.Lock()
	defer v.transition.Unlock()

	v.mu.Lock()
	g := v.gate
	closed := v.closed
	v.mu.Unlock()

	if closed {
		return false
	}
	if g.Session() != session {
		v.logger.Debug("ignoring ready event for stale session",
			zap.String("session", session),
			zap.String("current", g.Session()))
		return false
	}
	if g.IsReady() {
		return false
	}

	if err := g.MarkReady(); err != nil {
		v.logger.Warn("injected scripts failed", zap.String("session", session), zap.Error(err))
	}
	return true
}

// OnMessageReceived parses a document message and invokes its route.
// Unroutable or invalid messages are logged and dropped.
func (v *View) OnMessageReceived(payload string) {
	msg, err := ParseMessage(payload)
	if err != nil {
		v.logger.Warn("dropping document message", zap.Error(err))
		return
	}

	v.routesMu.RLock()
	r, ok := v.routes[msg.Type]
	v.routesMu.RUnlock()
	if !ok {
		v.logger.Debug("no route for document message", zap.String("type", msg.Type))
		return
	}

	if r.schema != nil {
		if err := r.schema.validate(msg.Data); err != nil {
			v.logger.Warn("dropping invalid document message", zap.String("type", msg.Type), zap.Error(err))
			return
		}
	}
	if err := r.fn(msg); err != nil {
		v.logger.Error("message handler failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close closes the backend. It is idempotent.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()
	return v.backend.Close()
}

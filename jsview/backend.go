// Package jsview is an in-process webui.Backend on the goja script engine. Each
// navigation evaluates the page script in a fresh runtime with a window global, a
// console and the native message binding; there is no DOM. It hosts headless editors
// and drives the bridge in tests.
package jsview

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/machinefabric/plugview-go/webui"
)

var (
	ErrClosed        = errors.New("script view closed")
	ErrNoDocument    = errors.New("no document loaded")
	ErrScriptTimeout = errors.New("script timed out")
)

// ScriptError is a script that threw or was interrupted
type ScriptError struct {
	Source string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Source, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// PageSource resolves a URL to the script that makes up its document
type PageSource func(url string) (string, error)

// Pages serves documents from a fixed map of URL to script
func Pages(pages map[string]string) PageSource {
	return func(url string) (string, error) {
		src, ok := pages[url]
		if !ok {
			return "", fmt.Errorf("no page for %q", url)
		}
		return src, nil
	}
}

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the backend logger; console output goes to its "console" child
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithScriptTimeout interrupts scripts that run longer than d. Zero disables the limit.
func WithScriptTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// Backend evaluates documents in goja runtimes. Scripts run one at a time; events are
// delivered to the observer on a separate goroutine in the order they occurred.
type Backend struct {
	source  PageSource
	logger  *zap.Logger
	timeout time.Duration
	events  *webui.EventLoop

	mu      sync.Mutex
	vm      *goja.Runtime
	session string
	url     string
	preload []string
	closed  bool
}

// New creates a backend that loads documents from source
func New(source PageSource, opts ...Option) *Backend {
	b := &Backend{
		source: source,
		logger: zap.NewNop(),
		events: webui.NewEventLoop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load evaluates the registered scripts and then the page in a new runtime, and reports
// the document of session ready. A page that throws is still reported ready, the way a
// browser completes a navigation whose scripts fail.
func (b *Backend) Load(session, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	src, err := b.source(url)
	if err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}

	vm := b.newRuntime(url)
	for i, script := range b.preload {
		if err := b.eval(vm, fmt.Sprintf("injected-%d.js", i), script); err != nil {
			b.logger.Warn("injected script failed", zap.String("url", url), zap.Error(err))
		}
	}
	if err := b.eval(vm, url, src); err != nil {
		b.logger.Warn("page script failed", zap.String("url", url), zap.Error(err))
	}

	b.vm = vm
	b.session = session
	b.url = url
	b.logger.Debug("document loaded", zap.String("session", session), zap.String("url", url))

	b.events.Post(func(obs webui.Observer) {
		obs.OnDocumentReady(session)
	})
	return nil
}

// RunScript evaluates src in the current document
func (b *Backend) RunScript(src string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.vm == nil {
		return ErrNoDocument
	}
	return b.eval(b.vm, "script.js", src)
}

// Evaluate runs src in the current document and exports its completion value
func (b *Backend) Evaluate(src string) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.vm == nil {
		return nil, ErrNoDocument
	}
	v, err := b.run(b.vm, "evaluate.js", src)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// InjectScript registers src for every document loaded afterwards
func (b *Backend) InjectScript(src string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.preload = append(b.preload, src)
	return nil
}

func (b *Backend) SetObserver(obs webui.Observer) {
	b.events.SetObserver(obs)
}

// Session returns the session of the loaded document
func (b *Backend) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Close discards the document and pending events. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.vm = nil
	b.events.Stop()
	return nil
}

func (b *Backend) eval(vm *goja.Runtime, name, src string) error {
	_, err := b.run(vm, name, src)
	return err
}

func (b *Backend) run(vm *goja.Runtime, name, src string) (goja.Value, error) {
	if b.timeout > 0 {
		timer := time.AfterFunc(b.timeout, func() {
			vm.Interrupt(ErrScriptTimeout)
		})
		defer vm.ClearInterrupt()
		defer timer.Stop()
	}

	v, err := vm.RunScript(name, src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			err = ErrScriptTimeout
		}
		return nil, &ScriptError{Source: name, Err: err}
	}
	return v, nil
}

func (b *Backend) newRuntime(url string) *goja.Runtime {
	vm := goja.New()
	global := vm.GlobalObject()
	if err := global.Set("window", global); err != nil {
		b.logger.Error("failed to set 'window' global", zap.Error(err))
	}
	if err := global.Set("self", global); err != nil {
		b.logger.Error("failed to set 'self' global", zap.Error(err))
	}

	location := vm.NewObject()
	location.Set("href", url)
	global.Set("location", location)

	global.Set(webui.NativeBinding, func(call goja.FunctionCall) goja.Value {
		payload := call.Argument(0).String()
		b.events.Post(func(obs webui.Observer) {
			obs.OnMessageReceived(payload)
		})
		return goja.Undefined()
	})

	b.initConsole(vm)
	return vm
}

func (b *Backend) initConsole(vm *goja.Runtime) {
	logger := b.logger.Named("console")
	console := vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = stringify(vm, arg)
			}
			logger.Log(level, strings.Join(args, " "))
			return goja.Undefined()
		}
	}

	console.Set("log", logFunc(zapcore.InfoLevel))
	console.Set("info", logFunc(zapcore.InfoLevel))
	console.Set("warn", logFunc(zapcore.WarnLevel))
	console.Set("error", logFunc(zapcore.ErrorLevel))
	console.Set("debug", logFunc(zapcore.DebugLevel))
	vm.GlobalObject().Set("console", console)
}

// stringify renders objects as JSON and everything else with String
func stringify(vm *goja.Runtime, v goja.Value) string {
	if _, ok := v.(*goja.Object); ok {
		if json := vm.Get("JSON"); json != nil {
			if fn, ok := goja.AssertFunction(json.ToObject(vm).Get("stringify")); ok {
				if out, err := fn(goja.Undefined(), v); err == nil && !goja.IsUndefined(out) {
					return out.String()
				}
			}
		}
	}
	return v.String()
}

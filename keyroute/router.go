// Package keyroute routes low-level key events to the right view when several plugin
// instances are loaded in one host process.
package keyroute

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrDuplicateTarget = errors.New("target already registered")
	ErrUnknownTarget   = errors.New("unknown target")
)

// Modifier is a bit set of held modifier keys
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModMeta
)

// KeyEvent is one key transition captured by the OS hook
type KeyEvent struct {
	Code      int      `json:"code"`
	Key       string   `json:"key"`
	Down      bool     `json:"down"`
	Modifiers Modifier `json:"modifiers"`
}

// Target receives the key events routed to it and reports whether it consumed them
type Target interface {
	HandleKey(ev KeyEvent) bool
}

// Hook is the process-wide OS key hook
type Hook interface {
	Install(deliver func(KeyEvent)) error
	Uninstall() error
}

// Router is an explicit registry of key targets keyed by window or helper id.
// The hook is installed with the first registration and removed with the last release.
type Router struct {
	hook   Hook
	logger *zap.Logger

	mu        sync.Mutex
	targets   map[string]Target
	focus     string
	installed bool
}

// NewRouter creates a router around hook
func NewRouter(hook Hook, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		hook:    hook,
		logger:  logger,
		targets: make(map[string]Target),
	}
}

// Register adds a target. The returned release func unregisters it and is safe to call twice.
func (r *Router) Register(id string, target Target) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTarget, id)
	}
	if len(r.targets) == 0 && !r.installed {
		if err := r.hook.Install(r.deliver); err != nil {
			return nil, fmt.Errorf("install key hook: %w", err)
		}
		r.installed = true
		r.logger.Debug("key hook installed")
	}
	r.targets[id] = target

	var once sync.Once
	return func() {
		once.Do(func() { r.release(id) })
	}, nil
}

func (r *Router) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.targets, id)
	if r.focus == id {
		r.focus = ""
	}
	if len(r.targets) == 0 && r.installed {
		if err := r.hook.Uninstall(); err != nil {
			r.logger.Warn("uninstall key hook", zap.Error(err))
		}
		r.installed = false
		r.logger.Debug("key hook uninstalled")
	}
}

// Focus makes id the receiver of subsequent key events
func (r *Router) Focus(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	r.focus = id
	return nil
}

// Installed reports whether the OS hook is currently installed
func (r *Router) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed
}

// Len returns the number of registered targets
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

// Dispatch routes ev to the focused target. It reports whether the event was consumed.
func (r *Router) Dispatch(ev KeyEvent) bool {
	r.mu.Lock()
	target := r.targets[r.focus]
	r.mu.Unlock()

	if target == nil {
		return false
	}
	return target.HandleKey(ev)
}

func (r *Router) deliver(ev KeyEvent) {
	r.Dispatch(ev)
}

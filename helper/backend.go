package helper

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/webui"
	"github.com/machinefabric/plugview-go/wire"
)

// Backend exposes a helper process as a webui.Backend. The supervisor must be Running
// before the backend is used; requests are sent as frames.
//
// Helper events reach the observer in order on the backend's own event goroutine, never
// on the dispatcher. Readiness flushes and parameter pushes write to the helper from
// observer callbacks; the dispatcher keeps reading meanwhile, so a helper blocked
// writing to the plugin cannot stall them.
type Backend struct {
	sup    *Supervisor
	logger *zap.Logger
	events *webui.EventLoop
}

// NewBackend registers the event handlers on sup. Call it before sup.Start.
func NewBackend(sup *Supervisor, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{sup: sup, logger: logger, events: webui.NewEventLoop()}
	sup.Handle(wire.TagNavigationCompleted, b.handleNavigationCompleted)
	sup.Handle(wire.TagDocumentMessage, b.handleDocumentMessage)
	sup.Handle(wire.TagScriptError, b.handleScriptError)
	return b
}

func (b *Backend) Load(session, url string) error {
	payload, err := wire.EncodeCBOR(wire.Navigation{Session: session, URL: url})
	if err != nil {
		return fmt.Errorf("encode navigation: %w", err)
	}
	return b.sup.Send(wire.TagNavigate, payload)
}

func (b *Backend) RunScript(src string) error {
	return b.sup.Send(wire.TagRunScript, wire.EncodeString(src))
}

func (b *Backend) InjectScript(src string) error {
	return b.sup.Send(wire.TagInjectScript, wire.EncodeString(src))
}

// Resize asks the helper to resize its window
func (b *Backend) Resize(width, height int) error {
	return b.sup.Send(wire.TagResize, wire.EncodeSize(wire.Size{Width: int32(width), Height: int32(height)}))
}

func (b *Backend) SetObserver(obs webui.Observer) {
	b.events.SetObserver(obs)
}

// Close stops the helper and drops undelivered events
func (b *Backend) Close() error {
	b.sup.Stop()
	b.events.Stop()
	return nil
}

func (b *Backend) handleNavigationCompleted(frame *wire.Frame) error {
	var nav wire.Navigation
	if err := wire.DecodeCBOR(frame.Value, &nav); err != nil {
		return fmt.Errorf("decode NAVIGATION_COMPLETED: %w", err)
	}
	b.events.Post(func(obs webui.Observer) {
		obs.OnDocumentReady(nav.Session)
	})
	return nil
}

func (b *Backend) handleDocumentMessage(frame *wire.Frame) error {
	payload, err := wire.DecodeString(frame.Value)
	if err != nil {
		return err
	}
	b.events.Post(func(obs webui.Observer) {
		obs.OnMessageReceived(payload)
	})
	return nil
}

func (b *Backend) handleScriptError(frame *wire.Frame) error {
	b.logger.Warn("script error in helper", zap.String("error", frame.String()))
	return nil
}

package processor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/machinefabric/plugview-go/webui"
)

// Message types exchanged with the document
const (
	MsgParamSet     = "param.set"
	MsgParamList    = "param.list"
	MsgParamChanged = "param.changed"
)

const paramSetSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "integer", "minimum": 0},
		"value": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["id", "value"],
	"additionalProperties": false
}`

// View is the part of webui.View the controller drives
type View interface {
	HandleMessage(messageType string, fn webui.MessageHandler)
	HandleMessageWithSchema(messageType, schemaJSON string, fn webui.MessageHandler) error
	PostMessage(messageType string, data interface{}) error
	OnReady(fn func(session string))
}

// Controller connects an AudioProcessor to its document: the document sets parameters,
// the plugin pushes parameter changes and the full list on every ready document.
type Controller struct {
	proc   AudioProcessor
	view   View
	logger *zap.Logger
}

// NewController registers the parameter routes on view
func NewController(proc AudioProcessor, view View, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{proc: proc, view: view, logger: logger}

	if err := view.HandleMessageWithSchema(MsgParamSet, paramSetSchema, c.handleSet); err != nil {
		return nil, fmt.Errorf("register %s: %w", MsgParamSet, err)
	}
	view.HandleMessage(MsgParamList, func(*webui.Message) error {
		return c.PushAll()
	})
	view.OnReady(func(session string) {
		if err := c.PushAll(); err != nil {
			c.logger.Warn("initial parameter push failed", zap.String("session", session), zap.Error(err))
		}
	})
	return c, nil
}

func (c *Controller) handleSet(msg *webui.Message) error {
	var req struct {
		ID    uint32  `json:"id"`
		Value float64 `json:"value"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := c.proc.SetParam(req.ID, req.Value); err != nil {
		return err
	}
	c.logger.Debug("parameter set from document", zap.Uint32("id", req.ID), zap.Float64("value", req.Value))
	return nil
}

// PushParam tells the document about a parameter change made on the plugin side.
// It fails with gate.ErrNotReady before the document is ready.
func (c *Controller) PushParam(id uint32) error {
	p := c.proc.Parameters().Get(id)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownParam, id)
	}
	return c.view.PostMessage(MsgParamChanged, p.Snapshot())
}

// PushAll sends the state of every parameter
func (c *Controller) PushAll() error {
	params := c.proc.Parameters().All()
	states := make([]State, len(params))
	for i, p := range params {
		states[i] = p.Snapshot()
	}
	return c.view.PostMessage(MsgParamList, states)
}

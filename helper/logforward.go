package helper

import (
	"go.uber.org/zap/zapcore"

	"github.com/machinefabric/plugview-go/wire"
)

// FrameWriter is the write side of a channel
type FrameWriter interface {
	Write(tag wire.Tag, payload []byte) error
}

// forwardCore is a zapcore.Core that ships entries to the plugin process as LOG frames
type forwardCore struct {
	zapcore.LevelEnabler
	w      FrameWriter
	fields []zapcore.Field
}

// NewForwardCore creates a core that forwards log entries over w. The channel behind w
// must not log through this core.
func NewForwardCore(w FrameWriter, enab zapcore.LevelEnabler) zapcore.Core {
	return &forwardCore{LevelEnabler: enab, w: w}
}

func (c *forwardCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &forwardCore{LevelEnabler: c.LevelEnabler, w: c.w}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *forwardCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *forwardCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	rec := wire.LogRecord{
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		rec.Fields = enc.Fields
	}
	payload, err := wire.EncodeCBOR(rec)
	if err != nil {
		return err
	}
	return c.w.Write(wire.TagLog, payload)
}

func (c *forwardCore) Sync() error {
	return nil
}

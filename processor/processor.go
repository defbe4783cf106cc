// Package processor defines the capability interface a plugin variant implements to be
// driven by its web UI, plus a reference gain processor.
package processor

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownParam is returned for parameter ids the processor does not have
var ErrUnknownParam = errors.New("unknown parameter")

// AudioProcessor is the capability set the UI layer needs from a plugin:
// parameter access and block processing. Variants compose it rather than inherit.
type AudioProcessor interface {
	Parameters() *Params
	// SetParam sets a normalized value
	SetParam(id uint32, normalized float64) error
	// ProcessBlock processes one block; in and out are per-channel buffers of equal length
	ProcessBlock(in, out [][]float32)
}

const GainParamID uint32 = 0

// Gain is a stereo-agnostic gain stage with one dB parameter
type Gain struct {
	params *Params
	gain   *Param
}

// NewGain creates a gain processor ranging from -60 dB to +12 dB, default 0 dB
func NewGain() *Gain {
	gain := NewParam(GainParamID, "Gain", "dB", -60, 12, 0)
	params, _ := NewParams(gain)
	return &Gain{params: params, gain: gain}
}

func (g *Gain) Parameters() *Params {
	return g.params
}

func (g *Gain) SetParam(id uint32, normalized float64) error {
	p := g.params.Get(id)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownParam, id)
	}
	p.SetValue(normalized)
	return nil
}

// ProcessBlock applies the current gain. It does not allocate.
func (g *Gain) ProcessBlock(in, out [][]float32) {
	factor := float32(dbToLinear(g.gain.Plain()))
	channels := len(in)
	if len(out) < channels {
		channels = len(out)
	}
	for ch := 0; ch < channels; ch++ {
		src, dst := in[ch], out[ch]
		n := len(src)
		if len(dst) < n {
			n = len(dst)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] * factor
		}
	}
}

func dbToLinear(db float64) float64 {
	if db <= -60 {
		return 0
	}
	return math.Pow(10, db/20)
}

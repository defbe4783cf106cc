package wire

import "math"

// Default maximum payload size (16 MB). Large enough for bundled page scripts.
const DefaultMaxFrame int = 16_777_216

// Hard limit on payload size - the length field is a signed 32-bit integer
const MaxFrameHardLimit int = math.MaxInt32

// Limits bounds the payload sizes a reader or writer accepts
type Limits struct {
	MaxFrame int `cbor:"max_frame" yaml:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
	}
}

// effectiveMax clamps the configured limit to the hard limit
func (l Limits) effectiveMax() int {
	if l.MaxFrame <= 0 || l.MaxFrame > MaxFrameHardLimit {
		return MaxFrameHardLimit
	}
	return l.MaxFrame
}

package processor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Param is one automatable plugin parameter. Its value is stored normalized (0-1)
// and is safe to read from the audio goroutine without locks.
type Param struct {
	ID      uint32  `json:"id"`
	Name    string  `json:"name"`
	Unit    string  `json:"unit,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`

	value atomic.Uint64
}

// NewParam creates a parameter set to its default plain value
func NewParam(id uint32, name, unit string, min, max, def float64) *Param {
	p := &Param{ID: id, Name: name, Unit: unit, Min: min, Max: max, Default: def}
	p.SetPlain(def)
	return p
}

// Value returns the normalized value
func (p *Param) Value() float64 {
	return math.Float64frombits(p.value.Load())
}

// SetValue sets the normalized value, clamped to 0-1
func (p *Param) SetValue(normalized float64) {
	if normalized < 0 || math.IsNaN(normalized) {
		normalized = 0
	} else if normalized > 1 {
		normalized = 1
	}
	p.value.Store(math.Float64bits(normalized))
}

// Plain returns the value in the parameter's unit
func (p *Param) Plain() float64 {
	return p.Denormalize(p.Value())
}

// SetPlain sets the value from the parameter's unit
func (p *Param) SetPlain(plain float64) {
	p.SetValue(p.Normalize(plain))
}

// Normalize converts plain value to normalized (0-1)
func (p *Param) Normalize(plain float64) float64 {
	if p.Max <= p.Min {
		return 0
	}
	normalized := (plain - p.Min) / (p.Max - p.Min)
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

// Denormalize converts normalized (0-1) to plain value
func (p *Param) Denormalize(normalized float64) float64 {
	return p.Min + normalized*(p.Max-p.Min)
}

// State is a snapshot of a parameter for the document
type State struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Value float64 `json:"value"`
	Plain float64 `json:"plain"`
}

// Snapshot returns the current state of the parameter
func (p *Param) Snapshot() State {
	v := p.Value()
	return State{ID: p.ID, Name: p.Name, Unit: p.Unit, Value: v, Plain: p.Denormalize(v)}
}

// Params is an ordered parameter registry
type Params struct {
	mu     sync.RWMutex
	params map[uint32]*Param
	order  []uint32
}

// NewParams creates a registry
func NewParams(params ...*Param) (*Params, error) {
	r := &Params{params: make(map[uint32]*Param)}
	for _, p := range params {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a parameter
func (r *Params) Add(p *Param) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.params[p.ID]; exists {
		return fmt.Errorf("duplicate parameter id %d", p.ID)
	}
	r.params[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Get returns a parameter by id, nil when unknown
func (r *Params) Get(id uint32) *Param {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params[id]
}

// All returns all parameters in registration order
func (r *Params) All() []*Param {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Param, len(r.order))
	for i, id := range r.order {
		result[i] = r.params[id]
	}
	return result
}

// Count returns the number of parameters
func (r *Params) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

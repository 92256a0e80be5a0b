package core

import (
	"encoding/gob"
)

// Observation is a flat numeric view of an environment state.
type Observation []float64

// Action is whatever the environment's action space accepts.
type Action any

// Info carries auxiliary per-step data.
type Info map[string]any

type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        Info
}

// Clone returns a copy that does not share the observation's backing array.
func (o Observation) Clone() Observation {
	if o == nil {
		return nil
	}
	out := make(Observation, len(o))
	copy(out, o)
	return out
}

func init() {
	gob.Register(Observation{})
	gob.Register(StepResult{})
	gob.Register(Info{})
	gob.Register(Discrete{})
	gob.Register(Box{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

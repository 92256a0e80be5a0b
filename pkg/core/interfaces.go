package core

import (
	"context"
	"math/rand"
)

// Env is a single simulated environment instance owned by one worker.
type Env interface {
	// Reset starts a new episode and returns the initial observation
	Reset(ctx context.Context) (Observation, error)
	// Step advances the environment by one timestep
	Step(ctx context.Context, action Action) (StepResult, error)
	// Seed reseeds the environment's random source
	Seed(seed int64) error
	// ActionSpace describes the valid actions
	ActionSpace() Space
	// ObservationSpace describes the observations returned by Reset and Step
	ObservationSpace() Space
	// Close releases any resources held by the environment
	Close() error
}

// Wrapper is an Env that delegates to an inner Env.
type Wrapper interface {
	Env
	Unwrap() Env
}

// AttrStore holds attributes that are not fields or methods of the env.
// It is the last place attribute writes land when no wrapper has the name.
type AttrStore interface {
	GetAttr(name string) (any, bool)
	SetAttr(name string, value any)
}

// Space describes a set of actions or observations.
type Space interface {
	// Sample draws a random element of the space
	Sample(rng *rand.Rand) Action
	// Contains reports whether a belongs to the space
	Contains(a Action) bool
	// Shape is the dimensions of one element
	Shape() []int
}

// Factory builds a fresh Env. Each worker calls its factory exactly once.
type Factory func() (Env, error)

package core

import (
	"fmt"
	"math/rand"
)

// Discrete is the space {0, 1, ..., N-1}.
type Discrete struct {
	N int
}

func (d Discrete) Sample(rng *rand.Rand) Action {
	return rng.Intn(d.N)
}

func (d Discrete) Contains(a Action) bool {
	var v int
	switch x := a.(type) {
	case int:
		v = x
	case int64:
		v = int(x)
	case int32:
		v = int(x)
	default:
		return false
	}
	return v >= 0 && v < d.N
}

func (d Discrete) Shape() []int { return nil }

func (d Discrete) String() string { return fmt.Sprintf("Discrete(%d)", d.N) }

// Box is a bounded region of R^n. Low and High must have the same length.
type Box struct {
	Low  []float64
	High []float64
}

// NewBox returns a box of dimension n with the same bounds on every axis.
func NewBox(n int, low, high float64) Box {
	b := Box{Low: make([]float64, n), High: make([]float64, n)}
	for i := 0; i < n; i++ {
		b.Low[i] = low
		b.High[i] = high
	}
	return b
}

func (b Box) Sample(rng *rand.Rand) Action {
	out := make([]float64, len(b.Low))
	for i := range out {
		out[i] = b.Low[i] + rng.Float64()*(b.High[i]-b.Low[i])
	}
	return out
}

func (b Box) Contains(a Action) bool {
	var v []float64
	switch x := a.(type) {
	case []float64:
		v = x
	case Observation:
		v = x
	default:
		return false
	}
	if len(v) != len(b.Low) {
		return false
	}
	for i := range v {
		if v[i] < b.Low[i] || v[i] > b.High[i] {
			return false
		}
	}
	return true
}

func (b Box) Shape() []int { return []int{len(b.Low)} }

func (b Box) String() string { return fmt.Sprintf("Box(%d)", len(b.Low)) }

// Size is the number of scalars in one element of s.
func Size(s Space) int {
	n := 1
	for _, d := range s.Shape() {
		n *= d
	}
	return n
}

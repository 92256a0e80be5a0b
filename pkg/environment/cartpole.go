package environment

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/boristopalov/vecenv/pkg/core"
)

// CartPole balances a pole on a cart that moves along a frictionless track.
// Action 0 pushes the cart left, 1 pushes it right. The observation is
// [x, x_dot, theta, theta_dot]. Every step the pole stays up earns 1.
type CartPole struct {
	core.Attrs

	Gravity  float64
	MassCart float64
	MassPole float64
	// Length is half the pole's length
	Length   float64
	ForceMag float64
	// Tau is the integration step in seconds
	Tau float64
	// ThetaThreshold is the angle in radians past which the episode ends
	ThetaThreshold float64
	XThreshold     float64

	state [4]float64
	done  bool
	rng   *rand.Rand
}

func NewCartPole() *CartPole {
	return &CartPole{
		Gravity:        9.8,
		MassCart:       1.0,
		MassPole:       0.1,
		Length:         0.5,
		ForceMag:       10.0,
		Tau:            0.02,
		ThetaThreshold: 12 * 2 * math.Pi / 360,
		XThreshold:     2.4,
		rng:            rand.New(rand.NewSource(rand.Int63())),
	}
}

func (c *CartPole) ActionSpace() core.Space { return core.Discrete{N: 2} }

func (c *CartPole) ObservationSpace() core.Space {
	inf := math.Inf(1)
	return core.Box{
		Low:  []float64{-2 * c.XThreshold, -inf, -2 * c.ThetaThreshold, -inf},
		High: []float64{2 * c.XThreshold, inf, 2 * c.ThetaThreshold, inf},
	}
}

func (c *CartPole) Seed(seed int64) error {
	c.rng = rand.New(rand.NewSource(seed))
	return nil
}

func (c *CartPole) Reset(ctx context.Context) (core.Observation, error) {
	for i := range c.state {
		c.state[i] = c.rng.Float64()*0.1 - 0.05
	}
	c.done = false
	return c.observation(), nil
}

func (c *CartPole) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if c.done {
		return core.StepResult{}, fmt.Errorf("cartpole: step after episode end; call Reset")
	}
	if !c.ActionSpace().Contains(action) {
		return core.StepResult{}, fmt.Errorf("cartpole: invalid action %v (%T)", action, action)
	}

	force := c.ForceMag
	if !pushRight(action) {
		force = -c.ForceMag
	}

	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]
	cos, sin := math.Cos(theta), math.Sin(theta)
	totalMass := c.MassPole + c.MassCart
	poleMassLength := c.MassPole * c.Length

	temp := (force + poleMassLength*thetaDot*thetaDot*sin) / totalMass
	thetaAcc := (c.Gravity*sin - cos*temp) /
		(c.Length * (4.0/3.0 - c.MassPole*cos*cos/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cos/totalMass

	// explicit Euler
	x += c.Tau * xDot
	xDot += c.Tau * xAcc
	theta += c.Tau * thetaDot
	thetaDot += c.Tau * thetaAcc
	c.state = [4]float64{x, xDot, theta, thetaDot}

	c.done = x < -c.XThreshold || x > c.XThreshold ||
		theta < -c.ThetaThreshold || theta > c.ThetaThreshold

	return core.StepResult{
		Observation: c.observation(),
		Reward:      1,
		Done:        c.done,
	}, nil
}

func (c *CartPole) Close() error { return nil }

func pushRight(action core.Action) bool {
	switch a := action.(type) {
	case int:
		return a == 1
	case int64:
		return a == 1
	case int32:
		return a == 1
	}
	return false
}

func (c *CartPole) observation() core.Observation {
	return core.Observation{c.state[0], c.state[1], c.state[2], c.state[3]}
}

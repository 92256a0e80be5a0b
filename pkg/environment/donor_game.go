package environment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/boristopalov/vecenv/pkg/agent"
	"github.com/boristopalov/vecenv/pkg/core"
)

// LearnerID names the learning player in partner prompts and memories.
const LearnerID = "learner"

// historyRounds is how many of the learner's past donations a partner sees.
const historyRounds = 3

// DonorGame is a repeated donor game between the learner and one partner.
// Each round the learner gives up a fraction of its resources and the
// partner receives Multiplier times that amount. The partner then donates
// back according to its own policy, with the same multiplier.
//
// The action is the fraction donated, in [0, 1]. The observation is
// [learner resources, partner resources, round / Rounds, fraction the
// partner returned last round]. The reward is the change in the learner's
// resources over the round.
type DonorGame struct {
	core.Attrs

	Endowment  float64
	Multiplier float64
	Rounds     int

	// state of the running episode
	Round             int
	LearnerResources  float64
	PartnerResources  float64
	LastPartnerReturn float64
	// SuccessfulDonations and FailedDonations count partner decisions
	SuccessfulDonations int
	FailedDonations     int

	partner agent.Partner
	history []string
	seed    int64
}

func NewDonorGame(partner agent.Partner) *DonorGame {
	return &DonorGame{
		Endowment:  10,
		Multiplier: 2,
		Rounds:     10,
		partner:    partner,
	}
}

func (g *DonorGame) ActionSpace() core.Space { return core.NewBox(1, 0, 1) }

func (g *DonorGame) ObservationSpace() core.Space {
	inf := math.Inf(1)
	return core.Box{
		Low:  []float64{0, 0, 0, 0},
		High: []float64{inf, inf, 1, 1},
	}
}

// PartnerID names the partner this game is played against.
func (g *DonorGame) PartnerID() string { return g.partner.GetID() }

// Seed is recorded; the game itself has no randomness.
func (g *DonorGame) Seed(seed int64) error {
	g.seed = seed
	return nil
}

func (g *DonorGame) Reset(ctx context.Context) (core.Observation, error) {
	if g.Rounds <= 0 {
		return nil, fmt.Errorf("donor game: rounds must be positive, got %d", g.Rounds)
	}
	g.Round = 0
	g.LearnerResources = g.Endowment
	g.PartnerResources = g.Endowment
	g.LastPartnerReturn = 0
	g.SuccessfulDonations = 0
	g.FailedDonations = 0
	g.history = g.history[:0]
	g.partner.Reset()
	return g.observation(), nil
}

func (g *DonorGame) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if g.Round >= g.Rounds {
		return core.StepResult{}, fmt.Errorf("donor game: step after round %d of %d; call Reset", g.Round, g.Rounds)
	}
	fraction, err := donationFraction(action)
	if err != nil {
		return core.StepResult{}, err
	}

	before := g.LearnerResources
	given := fraction * g.LearnerResources
	g.LearnerResources -= given
	g.PartnerResources += given * g.Multiplier

	g.Round++
	situation := agent.Situation{
		Round:              g.Round,
		TotalRounds:        g.Rounds,
		RecipientID:        LearnerID,
		Resources:          g.PartnerResources,
		RecipientResources: g.LearnerResources,
		LastReceived:       fraction,
		History:            strings.Join(g.history, "\n"),
	}

	returned, err := g.partner.Donate(ctx, situation)
	if err != nil {
		// a partner that cannot decide gives nothing this round
		g.FailedDonations++
		returned = 0
	} else {
		g.SuccessfulDonations++
	}
	returned = math.Max(0, math.Min(returned, g.PartnerResources))

	partnerBefore := g.PartnerResources
	g.PartnerResources -= returned
	g.LearnerResources += returned * g.Multiplier
	g.LastPartnerReturn = 0
	if partnerBefore > 0 {
		g.LastPartnerReturn = returned / partnerBefore
	}

	g.remember(fmt.Sprintf("Round %d: %s donated %.2f%% (%.2f) of their resources to %s",
		g.Round, LearnerID, fraction*100, given, g.partner.GetID()))
	g.partner.Observe(fmt.Sprintf("Round %d: I received %.2f (multiplied to %.2f) from %s and gave back %.2f, leaving me with %.2f resources",
		g.Round, given, given*g.Multiplier, LearnerID, returned, g.PartnerResources))

	info := core.Info{
		"donated":  given,
		"returned": returned,
	}
	if err != nil {
		info["partner_error"] = err.Error()
	}
	return core.StepResult{
		Observation: g.observation(),
		Reward:      g.LearnerResources - before,
		Done:        g.Round >= g.Rounds,
		Info:        info,
	}, nil
}

func (g *DonorGame) Close() error { return nil }

func (g *DonorGame) remember(event string) {
	g.history = append(g.history, event)
	if len(g.history) > historyRounds {
		g.history = g.history[len(g.history)-historyRounds:]
	}
}

func (g *DonorGame) observation() core.Observation {
	return core.Observation{
		g.LearnerResources,
		g.PartnerResources,
		float64(g.Round) / float64(g.Rounds),
		g.LastPartnerReturn,
	}
}

func donationFraction(action core.Action) (float64, error) {
	var f float64
	switch a := action.(type) {
	case float64:
		f = a
	case []float64:
		if len(a) != 1 {
			return 0, fmt.Errorf("donor game: action needs 1 value, got %d", len(a))
		}
		f = a[0]
	case core.Observation:
		if len(a) != 1 {
			return 0, fmt.Errorf("donor game: action needs 1 value, got %d", len(a))
		}
		f = a[0]
	default:
		return 0, fmt.Errorf("donor game: invalid action %v (%T)", action, action)
	}
	if f < 0 || f > 1 || math.IsNaN(f) {
		return 0, fmt.Errorf("donor game: donation fraction %v outside [0, 1]", f)
	}
	return f, nil
}

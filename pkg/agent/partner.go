package agent

import (
	"context"
	"math"
)

// Situation is what a partner knows when deciding how much to give back.
type Situation struct {
	Round       int
	TotalRounds int
	// RecipientID names the player receiving this donation
	RecipientID string
	// Resources is the partner's own balance
	Resources          float64
	RecipientResources float64
	// LastReceived is what the recipient gave the partner this round,
	// as a fraction of the recipient's balance at the time
	LastReceived float64
	// History describes the recipient's recent donations, newest last
	History string
}

// Partner plays the other side of a donor game against the learner.
type Partner interface {
	GetID() string
	// Donate returns how many units to give the recipient
	Donate(ctx context.Context, s Situation) (float64, error)
	// Observe records the outcome of a round
	Observe(event string)
	// Reset forgets everything from the previous episode
	Reset()
}

// ReciprocalPartner returns the fraction it was given, blended with its own
// generosity.
type ReciprocalPartner struct {
	ID string
	// Generosity is the fraction donated regardless of the recipient
	Generosity float64
	// Reciprocity weights how much of the last received fraction is returned
	Reciprocity float64
}

func NewReciprocalPartner(id string) *ReciprocalPartner {
	return &ReciprocalPartner{ID: id, Generosity: 0.1, Reciprocity: 0.9}
}

func (p *ReciprocalPartner) GetID() string { return p.ID }

func (p *ReciprocalPartner) Donate(ctx context.Context, s Situation) (float64, error) {
	fraction := p.Generosity + p.Reciprocity*s.LastReceived
	fraction = math.Max(0, math.Min(1, fraction))
	return fraction * s.Resources, nil
}

func (p *ReciprocalPartner) Observe(string) {}
func (p *ReciprocalPartner) Reset()         {}

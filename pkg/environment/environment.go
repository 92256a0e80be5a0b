// Package environment holds the environments vecenv workers can build by
// name. Importing it registers them.
package environment

import (
	"context"
	"fmt"
	"os"

	"github.com/boristopalov/vecenv/pkg/agent"
	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/providers"
)

const (
	CartPoleV1    = "CartPole-v1"
	DonorGameV0   = "DonorGame-v0"
	DonorGameLLM0 = "DonorGameLLM-v0"

	cartPoleMaxSteps = 500
)

// Environment variables read by the LLM donor game factory. Subprocess
// workers inherit them from the controller.
const (
	EnvDonorProvider = "VECENV_DONOR_PROVIDER"
	EnvDonorModel    = "VECENV_DONOR_MODEL"
)

func init() {
	core.Register(CartPoleV1, func() (core.Env, error) {
		return NewEpisodeStats(NewTimeLimit(NewCartPole(), cartPoleMaxSteps)), nil
	})
	core.Register(DonorGameV0, func() (core.Env, error) {
		return NewEpisodeStats(NewDonorGame(agent.NewReciprocalPartner("partner"))), nil
	})
	core.Register(DonorGameLLM0, NewLLMDonorGame)
}

// NewLLMDonorGame builds a donor game whose partner is a language model.
// The provider and model come from VECENV_DONOR_PROVIDER and
// VECENV_DONOR_MODEL; API keys from the provider's usual variables.
func NewLLMDonorGame() (core.Env, error) {
	client, err := providers.New(context.Background(), os.Getenv(EnvDonorProvider))
	if err != nil {
		return nil, fmt.Errorf("donor game partner: %w", err)
	}

	game := NewDonorGame(nil)
	opts := []agent.PartnerOption{agent.WithClient(client)}
	if model := os.Getenv(EnvDonorModel); model != "" {
		opts = append(opts, agent.WithModel(agent.ModelInfo{Id: model, Config: make(map[string]any)}))
	}
	partner, err := agent.NewLLMPartner(game.Endowment, game.Multiplier, opts...)
	if err != nil {
		return nil, err
	}
	game.partner = partner
	return NewEpisodeStats(game), nil
}

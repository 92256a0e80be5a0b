package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/boristopalov/vecenv/pkg/memory"
)

const (
	SYSTEM_PROMPT = `Each player is given an initial endowment of %.0f units of a resource. In each round, you are paired with another player. One of you is a donor, and the other is a recipient. The donor decides to give up some amount of the resource. The recipient receives %.0fx the number of units that the donor gave up. You and your partner take turns: your partner donates to you, then you donate to your partner. Your goal is to maximize the number of units you have after the final round.`

	STRATEGY_PROMPT_TEMPLATE = `Your name is %s.
%s
As a donor, you will see what your partner gave you in the current round and a short history of their recent donations.

Before formulating your strategy, briefly think step by step about what would be a successful strategy in this game. Then describe your strategy briefly without explanation in one sentence that starts: My strategy will be.`

	DONATION_PROMPT_TEMPLATE = `Your name is %s. As you will recall, here is the strategy you decided to follow: "%s"

It is now round %d of %d. In this round, you have been paired with %s. They currently have %.2f units of the valuable resource.

%s

You currently have %.2f units of the valuable resource.
How many units do you give up? Very briefly think step by step about how you apply your strategy in this situation and then provide your answer. Your answer should follow the string "ANSWER" like so: ANSWER:`

	RETRY_STRATEGY_TEMPLATE = `Your previous response did not include the required format. Here was your response:

%s

Please reformulate your strategy so that it starts with exactly "My strategy will be". For example: "My strategy will be to donate 50%% initially and adjust based on reciprocity."`
)

type LLMClient interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
}

// LLMPartner asks a language model how much to donate, following a strategy
// the model wrote for itself.
type LLMPartner struct {
	id         string
	strategy   string
	memory     *memory.Memory
	client     LLMClient
	model      ModelInfo
	endowment  float64
	multiplier float64
}

// NewLLMPartner creates a partner for a game with the given endowment and
// donation multiplier. A client is required.
func NewLLMPartner(endowment, multiplier float64, opts ...PartnerOption) (*LLMPartner, error) {
	params := defaultPartnerParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.Client == nil {
		return nil, errors.New("llm partner needs a client")
	}

	return &LLMPartner{
		id:         params.PartnerID,
		memory:     memory.NewMemory(params.MemoryCapacity),
		client:     params.Client,
		model:      params.Model,
		endowment:  endowment,
		multiplier: multiplier,
	}, nil
}

func (p *LLMPartner) GetID() string {
	return p.id
}

func (p *LLMPartner) GetMemory() *memory.Memory {
	return p.memory
}

func (p *LLMPartner) GetStrategy() string {
	return p.strategy
}

func (p *LLMPartner) GetModel() ModelInfo {
	return p.model
}

func (p *LLMPartner) Observe(event string) {
	if err := p.memory.Store(event); err != nil {
		log.Printf("Warning: Failed to store memory for partner %s: %v", p.id, err)
	}
}

// Reset clears memory; the strategy survives across episodes.
func (p *LLMPartner) Reset() {
	p.memory.Clear()
}

func (p *LLMPartner) systemPrompt() string {
	return fmt.Sprintf(SYSTEM_PROMPT, p.endowment, p.multiplier)
}

// complete prefixes prompt with the game rules and the partner's memory.
func (p *LLMPartner) complete(ctx context.Context, prompt string, withMemory bool) (string, error) {
	var b strings.Builder
	b.WriteString(p.systemPrompt())
	b.WriteString("\n\n")
	if withMemory {
		if past := p.memory.GetAllMessages(); len(past) > 0 {
			b.WriteString("What happened so far:\n")
			b.WriteString(strings.Join(past, "\n"))
			b.WriteString("\n\n")
		}
	}
	b.WriteString(prompt)
	return p.client.Complete(ctx, p.model.Id, b.String())
}

// Donate asks the model how much to give back. The answer is clamped to
// the partner's resources.
func (p *LLMPartner) Donate(ctx context.Context, s Situation) (float64, error) {
	if p.strategy == "" {
		if err := p.GenerateStrategy(ctx, ""); err != nil {
			return 0, err
		}
	}

	history := s.History
	if history == "" {
		history = "This is the first round, so there is no history of previous interactions."
	}
	prompt := fmt.Sprintf(DONATION_PROMPT_TEMPLATE,
		p.id,
		p.strategy,
		s.Round,
		s.TotalRounds,
		s.RecipientID,
		s.RecipientResources,
		history,
		s.Resources,
	)

	response, err := p.complete(ctx, prompt, true)
	if err != nil {
		return 0, fmt.Errorf("failed to generate response: %v", err)
	}
	log.Printf("Donation Response for partner %s: %s", p.id, response)

	donationAmount, err := parseDonationResponse(response)
	if err != nil {
		return 0, err
	}
	if donationAmount > s.Resources {
		return s.Resources, nil
	}
	return donationAmount, nil
}

// GenerateStrategy asks the model for a strategy, optionally seeded with
// advice from earlier players.
func (p *LLMPartner) GenerateStrategy(ctx context.Context, advice string) error {
	instruction := "Based on the description of the game, create a strategy that you will follow in the game."
	if advice != "" {
		instruction = fmt.Sprintf("How would you approach the game?\nHere is the advice of the best-performing players so far:\n%s\nModify this advice to create your own strategy.", advice)
	}
	strategyPrompt := fmt.Sprintf(STRATEGY_PROMPT_TEMPLATE, p.id, instruction)

	response, err := p.complete(ctx, strategyPrompt, false)
	if err != nil {
		return fmt.Errorf("failed to generate strategy: %v", err)
	}

	strategy := extractStrategy(response)
	if strategy == "" {
		response, err = p.complete(ctx, fmt.Sprintf(RETRY_STRATEGY_TEMPLATE, response), false)
		if err != nil {
			return fmt.Errorf("failed to generate strategy on retry: %v", err)
		}
		strategy = extractStrategy(response)
		if strategy == "" {
			return fmt.Errorf("no strategy found in response even after retry: %s", response)
		}
	}

	p.strategy = strategy
	log.Printf("strategy for partner %s: %s", p.id, p.strategy)
	return nil
}

var answerPattern = regexp.MustCompile(`ANSWER:\s*(\d*\.?\d+)`)

// parseDonationResponse finds the amount after "ANSWER:".
func parseDonationResponse(response string) (float64, error) {
	matches := answerPattern.FindStringSubmatch(response)
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not find answer in response: %s", response)
	}

	donation, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse donation amount: %v", err)
	}
	return donation, nil
}

// extractStrategy returns the text after "My strategy will be" on the first
// line that starts with it, ignoring case.
func extractStrategy(response string) string {
	const prefix = "my strategy will be"
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

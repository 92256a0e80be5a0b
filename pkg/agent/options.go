package agent

import (
	"github.com/google/uuid"
)

type ModelInfo struct {
	Id     string         // e.g. "gpt-4o-mini"
	Config map[string]any // model-specific configuration
}

type PartnerParams struct {
	PartnerID      string
	Model          ModelInfo
	Client         LLMClient
	MemoryCapacity int
}

type PartnerOption func(*PartnerParams)

func WithModel(model ModelInfo) PartnerOption {
	return func(p *PartnerParams) {
		p.Model = model
	}
}

func WithPartnerID(id string) PartnerOption {
	return func(p *PartnerParams) {
		p.PartnerID = id
	}
}

func WithClient(client LLMClient) PartnerOption {
	return func(p *PartnerParams) {
		p.Client = client
	}
}

// WithMemoryCapacity bounds how many past rounds the partner remembers.
func WithMemoryCapacity(capacity int) PartnerOption {
	return func(p *PartnerParams) {
		p.MemoryCapacity = capacity
	}
}

func defaultPartnerParams() *PartnerParams {
	return &PartnerParams{
		PartnerID: "partner-" + uuid.New().String(),
		Model: ModelInfo{
			Id:     "gpt-4o-mini",
			Config: make(map[string]any),
		},
		MemoryCapacity: 100,
	}
}

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// MockLLMClient replays canned responses and records prompts.
type MockLLMClient struct {
	responses []string
	prompts   []string
	err       error
}

func (m *MockLLMClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "mock response", nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func TestReciprocalPartner(t *testing.T) {
	p := NewReciprocalPartner("r")
	got, err := p.Donate(context.Background(), Situation{Resources: 10, LastReceived: 0.5})
	if err != nil {
		t.Fatalf("Donate failed: %v", err)
	}
	// 0.1 + 0.9*0.5 = 0.55 of 10
	if got < 5.49 || got > 5.51 {
		t.Errorf("Donate() = %v, want 5.5", got)
	}

	got, _ = p.Donate(context.Background(), Situation{Resources: 10, LastReceived: 5})
	if got != 10 {
		t.Errorf("Donate() = %v, want all 10 units", got)
	}
}

func TestLLMPartner(t *testing.T) {
	t.Run("test requires client", func(t *testing.T) {
		if _, err := NewLLMPartner(10, 2); err == nil {
			t.Error("Expected error without client")
		}
	})

	t.Run("test strategy then donation", func(t *testing.T) {
		client := &MockLLMClient{responses: []string{
			"Thinking...\nMy strategy will be to match what I receive.",
			"They gave me 3, so I return 3. ANSWER: 3",
		}}
		p, err := NewLLMPartner(10, 2,
			WithPartnerID("partner-1"),
			WithModel(ModelInfo{Id: "mock-model", Config: make(map[string]any)}),
			WithClient(client),
		)
		if err != nil {
			t.Fatalf("Failed to create partner: %v", err)
		}
		p.Observe("Round 1: learner gave me 3.00")

		got, err := p.Donate(context.Background(), Situation{
			Round: 1, TotalRounds: 5, RecipientID: "learner", Resources: 16, RecipientResources: 7,
		})
		if err != nil {
			t.Fatalf("Donate failed: %v", err)
		}
		if got != 3 {
			t.Errorf("Donate() = %v, want 3", got)
		}
		if p.GetStrategy() != "to match what I receive." {
			t.Errorf("GetStrategy() = %q", p.GetStrategy())
		}
		if len(client.prompts) != 2 {
			t.Fatalf("Expected 2 prompts, got %d", len(client.prompts))
		}
		donation := client.prompts[1]
		for _, want := range []string{"partner-1", "round 1 of 5", "learner gave me 3.00", "no history"} {
			if !strings.Contains(donation, want) {
				t.Errorf("Donation prompt missing %q:\n%s", want, donation)
			}
		}
	})

	t.Run("test donation is clamped", func(t *testing.T) {
		client := &MockLLMClient{responses: []string{"ANSWER: 50"}}
		p, _ := NewLLMPartner(10, 2, WithClient(client))
		p.strategy = "give everything"

		got, err := p.Donate(context.Background(), Situation{Resources: 8})
		if err != nil {
			t.Fatalf("Donate failed: %v", err)
		}
		if got != 8 {
			t.Errorf("Donate() = %v, want 8", got)
		}
	})

	t.Run("test strategy retry", func(t *testing.T) {
		client := &MockLLMClient{responses: []string{"I will be nice.", "My strategy will be nice."}}
		p, _ := NewLLMPartner(10, 2, WithClient(client))
		if err := p.GenerateStrategy(context.Background(), "donate half"); err != nil {
			t.Fatalf("GenerateStrategy failed: %v", err)
		}
		if p.GetStrategy() != "nice." {
			t.Errorf("GetStrategy() = %q", p.GetStrategy())
		}
		if !strings.Contains(client.prompts[0], "donate half") {
			t.Error("Advice missing from strategy prompt")
		}
	})

	t.Run("test client error", func(t *testing.T) {
		p, _ := NewLLMPartner(10, 2, WithClient(&MockLLMClient{err: errors.New("rate limited")}))
		if _, err := p.Donate(context.Background(), Situation{Resources: 5}); err == nil {
			t.Error("Expected error from client")
		}
	})

	t.Run("test reset clears memory", func(t *testing.T) {
		p, _ := NewLLMPartner(10, 2, WithClient(&MockLLMClient{}))
		p.Observe("something")
		p.Reset()
		if p.GetMemory().Len() != 0 {
			t.Error("Memory not cleared")
		}
	})
}

func TestParseDonationResponse(t *testing.T) {
	tests := []struct {
		response string
		want     float64
		wantErr  bool
	}{
		{"ANSWER: 5", 5, false},
		{"thinking... ANSWER:2.75", 2.75, false},
		{"ANSWER: .5", 0.5, false},
		{"I give nothing", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDonationResponse(tt.response)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDonationResponse(%q) error = %v", tt.response, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDonationResponse(%q) = %v, want %v", tt.response, got, tt.want)
		}
	}
}

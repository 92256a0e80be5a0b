package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/genai"
)

func TestOpenAIComplete(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) > 0 {
			gotPrompt = messageText(t, req.Messages[0].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cmpl-1","object":"chat.completion","created":0,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ANSWER: 2.5"}}]}`)
	}))
	defer srv.Close()

	client := OpenAi(context.Background(), WithBaseURL(srv.URL+"/"), WithAPIKey("test-key"))
	got, err := client.Complete(context.Background(), "test-model", "How many units?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ANSWER: 2.5" {
		t.Errorf("Complete() = %q", got)
	}
	if gotModel != "test-model" || gotPrompt != "How many units?" {
		t.Errorf("Server saw model %q prompt %q", gotModel, gotPrompt)
	}
}

// messageText accepts a message content sent either as a plain string or as
// an array of text parts.
func messageText(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		t.Errorf("Failed to decode message content %s: %v", raw, err)
		return ""
	}
	for _, part := range parts {
		if part.Type == "text" {
			text += part.Text
		}
	}
	return text
}

func TestMessageText(t *testing.T) {
	if got := messageText(t, json.RawMessage(`"hi"`)); got != "hi" {
		t.Errorf("messageText(string) = %q", got)
	}
	if got := messageText(t, json.RawMessage(`[{"type":"text","text":"hi"}]`)); got != "hi" {
		t.Errorf("messageText(parts) = %q", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("test unknown provider", func(t *testing.T) {
		if _, err := New(context.Background(), "carrier-pigeon"); err == nil {
			t.Error("Expected error for unknown provider")
		}
	})

	t.Run("test gemini needs a key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		if _, err := New(context.Background(), "gemini"); err == nil {
			t.Error("Expected error without GEMINI_API_KEY")
		}
	})

	t.Run("test openai", func(t *testing.T) {
		client, err := New(context.Background(), "openai", WithBaseURL("http://localhost:1/"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := client.(*OpenAIClient); !ok {
			t.Errorf("New returned %T", client)
		}
	})
}

func TestGeminiResponseText(t *testing.T) {
	text, err := responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "My strategy "}, {Text: "will be kind."}}},
		}},
	})
	if err != nil {
		t.Fatalf("responseText failed: %v", err)
	}
	if text != "My strategy will be kind." {
		t.Errorf("responseText() = %q", text)
	}

	if _, err := responseText(&genai.GenerateContentResponse{}); err == nil {
		t.Error("Expected error for empty response")
	}
}

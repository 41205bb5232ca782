package ai

import (
	"context"
	"encoding/json"
	"sync"
)

// mockJSONReply answers every JSON prompt: it parses both as a suggestion
// and as market reports.
var mockJSONReply = struct {
	Suggestion
	MarketReports
}{
	Suggestion: FallbackSuggestion,
	MarketReports: MarketReports{
		MiddayReport:  "Market reports are mocked in this environment.",
		ClosingReport: "Market reports are mocked in this environment.",
	},
}

// MockGenerator returns canned text without calling a model.
type MockGenerator struct {
	// Reply overrides the generated text when set.
	Reply string
	// Err, when set, is returned instead of a reply.
	Err error

	mu   sync.Mutex
	last Prompt
}

// Generate implements Generator
func (m *MockGenerator) Generate(_ context.Context, prompt Prompt) (string, error) {
	m.mu.Lock()
	m.last = prompt
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	if prompt.JSON {
		out, err := json.Marshal(mockJSONReply)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return "AI responses are mocked in this environment.", nil
}

// LastPrompt returns the most recent prompt passed to Generate.
func (m *MockGenerator) LastPrompt() Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

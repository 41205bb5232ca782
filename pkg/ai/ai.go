// Package ai defines the text-generation capability behind the quota-gated
// assistant endpoints and the request shaping shared by every backend.
package ai

import (
	"context"
	"errors"
	"strings"
)

// Input limits applied before a prompt reaches a model.
const (
	MaxMessageChars     = 2500
	MaxHistoryTurns     = 8
	MaxHistoryTurnChars = 1000
	MaxScreenTextChars  = 7000
	MaxSymbolChars      = 12
)

// Roles accepted in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a backend produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// Turn is one prior exchange in a chat history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a backend-neutral generation request.
type Prompt struct {
	System      string
	History     []Turn
	User        string
	Temperature float32
	MaxTokens   int
	// JSON asks the backend for a JSON object response.
	JSON bool
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// TrimMessage trims whitespace and caps the message length.
func TrimMessage(message string) string {
	return truncate(strings.TrimSpace(message), MaxMessageChars)
}

// TrimHistory keeps the last MaxHistoryTurns turns, drops turns with an
// unknown role and caps each turn's content.
func TrimHistory(history []Turn) []Turn {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		out = append(out, Turn{Role: t.Role, Content: truncate(t.Content, MaxHistoryTurnChars)})
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

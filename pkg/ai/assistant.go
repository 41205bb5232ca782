package ai

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const chatSystemPrompt = "You are xTract AI, a professional stock-market assistant inside a stock analytics app. " +
	"Prioritize on-screen context when relevant, but you can also answer broader stock, investing, " +
	"portfolio, and market-structure questions even when context is limited. " +
	"If real-time data is unavailable or uncertain, clearly say that and provide the best practical guidance. " +
	"Keep answers concise and actionable, and avoid false certainty."

const suggestionSystemPrompt = "You are an equity research assistant. Provide one informational suggestion label " +
	"from this exact set: Strong Buy, Buy, Hold, Sell, Strong Sell. " +
	"Use only provided data and avoid certainty language. " +
	"Return strict JSON with keys label and reason. No markdown."

// ScreenContext describes what the user was looking at when asking.
type ScreenContext struct {
	Pathname   string `json:"pathname,omitempty"`
	Title      string `json:"title,omitempty"`
	ScreenText string `json:"screenText,omitempty"`
}

// ChatPrompt builds the prompt for an assistant chat turn. Inputs are trimmed.
func ChatPrompt(message string, history []Turn, screen ScreenContext) Prompt {
	text := screen.ScreenText
	if text == "" {
		text = "No context provided."
	}
	block := strings.Join([]string{
		"Path: " + orUnknown(screen.Pathname),
		"Title: " + orUnknown(screen.Title),
		"",
		"Visible content snapshot:",
		truncate(text, MaxScreenTextChars),
	}, "\n")

	return Prompt{
		System:      chatSystemPrompt,
		History:     TrimHistory(history),
		User:        fmt.Sprintf("On-screen context:\n%s\n\nUser question:\n%s", block, TrimMessage(message)),
		Temperature: 0.25,
		MaxTokens:   550,
	}
}

// NormalizeSymbol upper-cases and caps a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return truncate(strings.ToUpper(strings.TrimSpace(symbol)), MaxSymbolChars)
}

// SuggestionPrompt builds the prompt for a one-label stock suggestion.
func SuggestionPrompt(symbol string, stock json.RawMessage) Prompt {
	if len(stock) == 0 || string(stock) == "null" {
		stock = json.RawMessage("{}")
	}
	return Prompt{
		System: suggestionSystemPrompt,
		User: fmt.Sprintf("Symbol: %s\nStock data JSON:\n%s\n\nReturn JSON like: "+
			`{"label":"Hold","reason":"One short reason under 220 chars. Mention this is informational."}`,
			NormalizeSymbol(symbol), stock),
		Temperature: 0.2,
		MaxTokens:   220,
		JSON:        true,
	}
}

// Suggestion labels, strongest buy first.
var SuggestionLabels = []string{"Strong Buy", "Buy", "Hold", "Sell", "Strong Sell"}

const maxReasonChars = 220

// Suggestion is a parsed model recommendation.
type Suggestion struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// FallbackSuggestion is returned when model output cannot be used.
var FallbackSuggestion = Suggestion{
	Label:  "Hold",
	Reason: "Not enough confidence from current metrics. This is informational, not financial advice.",
}

// ParseSuggestion decodes model output, falling back to FallbackSuggestion
// when the JSON is malformed, the label is unknown or the reason is empty.
func ParseSuggestion(text string) Suggestion {
	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return FallbackSuggestion
	}
	s.Reason = strings.TrimSpace(s.Reason)
	if !slices.Contains(SuggestionLabels, s.Label) || s.Reason == "" {
		return FallbackSuggestion
	}
	s.Reason = truncate(s.Reason, maxReasonChars)
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

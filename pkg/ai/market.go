package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxSummaryRows caps how many index rows reach the market-summary prompt.
const MaxSummaryRows = 10

const maxReportChars = 900

const marketSummarySystemPrompt = "You are a senior market strategist. Generate two concise reports for a stock app. " +
	"Use only provided index data. No markdown. Avoid certainty claims and include risk context."

// ErrInvalidReport is returned when model output lacks either report.
var ErrInvalidReport = errors.New("invalid market summary response")

// IndexQuote is one row of the index snapshot sent by the client.
type IndexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// indexQuoteRow uses pointers so absent fields can be told apart from zero.
type indexQuoteRow struct {
	Symbol        *string  `json:"symbol"`
	Name          *string  `json:"name"`
	Price         *float64 `json:"price"`
	Change        *float64 `json:"change"`
	ChangePercent *float64 `json:"changePercent"`
}

// ParseIndexQuotes keeps the rows that carry every field with the right type
// and returns at most MaxSummaryRows of them, in input order.
func ParseIndexQuotes(raw []json.RawMessage) []IndexQuote {
	quotes := make([]IndexQuote, 0, min(len(raw), MaxSummaryRows))
	for _, r := range raw {
		if len(quotes) == MaxSummaryRows {
			break
		}
		var row indexQuoteRow
		if err := json.Unmarshal(r, &row); err != nil {
			continue
		}
		if row.Symbol == nil || row.Name == nil || row.Price == nil || row.Change == nil || row.ChangePercent == nil {
			continue
		}
		quotes = append(quotes, IndexQuote{
			Symbol:        *row.Symbol,
			Name:          *row.Name,
			Price:         *row.Price,
			Change:        *row.Change,
			ChangePercent: *row.ChangePercent,
		})
	}
	return quotes
}

// MarketSummaryPrompt builds the prompt for the midday and closing reports.
// Only the first MaxSummaryRows quotes are included.
func MarketSummaryPrompt(quotes []IndexQuote) Prompt {
	if len(quotes) > MaxSummaryRows {
		quotes = quotes[:MaxSummaryRows]
	}
	if quotes == nil {
		quotes = []IndexQuote{}
	}
	snapshot, _ := json.MarshalIndent(quotes, "", "  ")

	return Prompt{
		System: marketSummarySystemPrompt,
		User: fmt.Sprintf("Current index snapshot JSON:\n%s\n\n"+
			"Return strict JSON with keys middayReport and closingReport. "+
			"Each report should be 2-4 sentences in plain English for retail investors.", snapshot),
		Temperature: 0.25,
		MaxTokens:   520,
		JSON:        true,
	}
}

// MarketReports is the parsed market-summary output.
type MarketReports struct {
	MiddayReport  string `json:"middayReport"`
	ClosingReport string `json:"closingReport"`
}

// ParseMarketReports decodes model output. Both reports must be non-empty;
// each is trimmed and capped.
func ParseMarketReports(text string) (MarketReports, error) {
	var r MarketReports
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return MarketReports{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	r.MiddayReport = strings.TrimSpace(r.MiddayReport)
	r.ClosingReport = strings.TrimSpace(r.ClosingReport)
	if r.MiddayReport == "" || r.ClosingReport == "" {
		return MarketReports{}, ErrInvalidReport
	}
	r.MiddayReport = truncate(r.MiddayReport, maxReportChars)
	r.ClosingReport = truncate(r.ClosingReport, maxReportChars)
	return r, nil
}

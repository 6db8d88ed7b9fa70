// Package pollen holds the cost model for the generation API: heuristic token
// estimates, pollen cost computation from model pricing, and the admission
// check used before every send.
package pollen

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"nectar/internal/models"
)

const (
	// MinPollenPerPrompt is the floor charged for any generation, priced or not.
	MinPollenPerPrompt = 1.0 / 25000.0

	// Epsilon absorbs binary floating-point rounding in balance comparisons so
	// a mathematically equal balance is never rejected.
	Epsilon = 1e-10

	// Per-message role/formatting overhead and flat reply priming, in tokens.
	messageOverheadTokens = 4
	replyPrimingTokens    = 2

	// Fixed duration assumptions for per-second output pricing.
	videoSecondsEstimate = 5
	audioSecondsEstimate = 10
)

// EstimateTokens approximates the token count of a text. It is a deliberate
// heuristic (chars/4 vs a word-weighted count, whichever is larger) and makes
// no attempt to match any provider's tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	byChars := (len(text) + 3) / 4

	words := len(strings.Fields(text))
	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	byWords := int(math.Ceil(float64(words)*1.3 + float64(special)*0.5))

	est := byChars
	if byWords > est {
		est = byWords
	}
	if est < 1 {
		est = 1
	}
	return est
}

// EstimateMessages approximates the prompt token count for a conversation:
// per-message content plus role/formatting overhead, plus a flat priming
// constant for the reply.
func EstimateMessages(msgs []models.Message) int {
	total := replyPrimingTokens
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + messageOverheadTokens
	}
	return total
}

// ComputeCost converts a token estimate into pollen using the model's pricing.
// A nil pricing yields the flat floor. Output cost comes from exactly one
// pricing field, in precedence order: text per token, image per unit, video
// per second, video per token, audio per token, audio per second. The result
// never drops below MinPollenPerPrompt.
func ComputeCost(p *models.Pricing, inputTokens, outputTokens int) float64 {
	if p == nil {
		return MinPollenPerPrompt
	}

	cost := p.PromptTextTokens * float64(inputTokens)
	if p.PromptAudioTokens > 0 {
		cost += p.PromptAudioTokens * float64(inputTokens)
	}

	switch {
	case p.CompletionTextTokens > 0:
		cost += p.CompletionTextTokens * float64(outputTokens)
	case p.CompletionImageUnits > 0:
		cost += p.CompletionImageUnits
	case p.CompletionVideoSeconds > 0:
		cost += p.CompletionVideoSeconds * videoSecondsEstimate
	case p.CompletionVideoTokens > 0:
		cost += p.CompletionVideoTokens * float64(outputTokens)
	case p.CompletionAudioTokens > 0:
		cost += p.CompletionAudioTokens * float64(outputTokens)
	case p.CompletionAudioSeconds > 0:
		cost += p.CompletionAudioSeconds * audioSecondsEstimate
	}

	if cost < MinPollenPerPrompt {
		return MinPollenPerPrompt
	}
	return cost
}

// HasSufficient reports whether the balance covers the required pollen,
// tolerating float representation error.
func HasSufficient(balance, required float64) bool {
	return balance+Epsilon >= required
}

// Format renders a pollen amount with precision scaled to its magnitude.
func Format(v float64) string {
	switch {
	case v >= 1:
		return fmt.Sprintf("%.2f", v)
	case v >= 0.01:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.5f", v)
	}
}

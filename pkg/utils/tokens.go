// Package utils provides token counting, identifier, and fingerprint helpers.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for bounded task context construction.
// All supported capability models are approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter. The model name is accepted for
// future per-model encodings; every current model maps to GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return EstimateTokens(text)
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return count
}

// TruncateToTokens returns text truncated to at most maxTokens tokens. When the
// text is cut, a marker with the omitted token count is appended so the agent
// sees that the payload was bounded.
func (tc *TokenCounter) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	total := tc.CountTokens(text)
	if total <= maxTokens {
		return text
	}

	// Binary search the longest rune prefix that fits the budget. Count is
	// the only tokenizer operation we rely on; encode/decode round-trips are
	// not needed for truncation.
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tc.CountTokens(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return string(runes[:lo]) + fmt.Sprintf("\n...[truncated, %d tokens omitted]", total-maxTokens)
}

// EstimateTokens provides a cheap estimation without a tokenizer codec. The
// counter falls back to it when no codec is available.
func EstimateTokens(text string) int {
	// Whitespace-split words ≈ 0.75 tokens/word underestimates code-like text,
	// so take the larger of word-based and char-based estimates.
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if words > chars {
		return words
	}
	return chars
}

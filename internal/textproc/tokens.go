package textproc

import (
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer of the OpenAI embedding models
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens with a tiktoken encoding
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenCounter{encoding: enc}, nil
}

// NewTokenCounterOrEstimate returns a tiktoken counter, falling back to the
// character estimate when the encoding cannot be loaded.
func NewTokenCounterOrEstimate(encoding string) *TokenCounter {
	tc, err := NewTokenCounter(encoding)
	if err != nil {
		slog.Warn("token counter falls back to estimates", "error", err)
		return &TokenCounter{}
	}
	return tc
}

// Count returns the token length of text
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateTokens approximates the token length at four characters per token.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

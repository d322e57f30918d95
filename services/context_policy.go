package services

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/utils"
)

// ContextPolicy decides which stored turns are replayed on the next request.
// Policies only ever drop the oldest turns; the system text is never cut.
type ContextPolicy interface {
	Apply(history []models.Turn, system, prompt string) []models.Turn
}

// Unbounded replays the whole conversation every time.
type Unbounded struct{}

func (Unbounded) Apply(history []models.Turn, _, _ string) []models.Turn {
	return history
}

// SlidingWindow keeps the most recent MaxTurns turns.
type SlidingWindow struct {
	MaxTurns int
}

func (w SlidingWindow) Apply(history []models.Turn, _, _ string) []models.Turn {
	if w.MaxTurns <= 0 || len(history) <= w.MaxTurns {
		return history
	}
	return history[len(history)-w.MaxTurns:]
}

type TokenCounter interface {
	Count(text string) int
}

// TokenBudget drops the oldest turns until system, history and prompt fit in
// MaxTokens. If system and prompt alone exceed the budget, no history is sent.
type TokenBudget struct {
	MaxTokens int
	Counter   TokenCounter
}

func (b TokenBudget) Apply(history []models.Turn, system, prompt string) []models.Turn {
	if b.MaxTokens <= 0 || b.Counter == nil {
		return history
	}

	total := b.Counter.Count(system) + b.Counter.Count(prompt)
	costs := make([]int, len(history))
	for i, turn := range history {
		costs[i] = b.Counter.Count(turn.User) + b.Counter.Count(turn.Assistant)
		total += costs[i]
	}

	start := 0
	for start < len(history) && total > b.MaxTokens {
		total -= costs[start]
		start++
	}

	return history[start:]
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter counts cl100k_base tokens.
func NewTiktokenCounter() (TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return tiktokenCounter{codec: codec}, nil
}

func (c tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// rough fallback of four bytes per token
		return len(text)/4 + 1
	}
	return len(ids)
}

func NewContextPolicy(cfg utils.ContextConfig) (ContextPolicy, error) {
	switch cfg.Policy {
	case "", utils.ContextPolicyUnbounded:
		return Unbounded{}, nil
	case utils.ContextPolicyWindow:
		return SlidingWindow{MaxTurns: cfg.MaxTurns}, nil
	case utils.ContextPolicyTokens:
		counter, err := NewTiktokenCounter()
		if err != nil {
			return nil, err
		}
		return TokenBudget{MaxTokens: cfg.MaxTokens, Counter: counter}, nil
	default:
		return nil, fmt.Errorf("unknown context policy %q", cfg.Policy)
	}
}

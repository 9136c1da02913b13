package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"triage-ai/internal/domain"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}

func TestCountMessages(t *testing.T) {
	assert.Zero(t, countMessages(nil, estimateTokens))

	msgs := []domain.Message{
		{Role: "user", Content: "plan a wedding"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "tavily_search", Arguments: json.RawMessage(`{"query":"x"}`)}}},
	}
	byLen := func(s string) int { return len(s) }

	want := tokensPerReply +
		tokensPerMessage + len("user") + len("plan a wedding") +
		tokensPerMessage + len("assistant") + len("tavily_search") + len(`{"query":"x"}`)
	assert.Equal(t, want, countMessages(msgs, byLen))
}

func TestTiktokenCounter_FallbackEstimate(t *testing.T) {
	c := NewTiktokenCounter(nopLogger())
	c.once.Do(func() {}) // encoding never loaded

	short := []domain.Message{{Role: "user", Content: "hi"}}
	long := append(short, domain.Message{Role: "assistant", Content: "Here are five event planners in Lahore."})

	assert.Equal(t, countMessages(short, estimateTokens), c.CountMessages(short))
	assert.Greater(t, c.CountMessages(long), c.CountMessages(short))
}

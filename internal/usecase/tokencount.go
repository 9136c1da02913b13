package usecase

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"triage-ai/internal/domain"
)

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// TiktokenCounter counts tokens with the cl100k_base encoding. The encoding
// is loaded on first use; if it cannot be loaded the counter falls back to
// a four-characters-per-token estimate.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
}

// NewTiktokenCounter creates a counter. Loading is deferred to first use.
func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	return &TiktokenCounter{logger: logger}
}

func (c *TiktokenCounter) load() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, estimating tokens", "error", err)
			return
		}
		c.enc = enc
	})
}

// CountMessages returns the token footprint of msgs.
func (c *TiktokenCounter) CountMessages(msgs []domain.Message) int {
	c.load()
	count := func(s string) int {
		if c.enc == nil {
			return estimateTokens(s)
		}
		return len(c.enc.Encode(s, nil, nil))
	}
	return countMessages(msgs, count)
}

func countMessages(msgs []domain.Message, count func(string) int) int {
	if len(msgs) == 0 {
		return 0
	}
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage + count(m.Role) + count(m.Content)
		for _, tc := range m.ToolCalls {
			total += count(tc.Name) + count(string(tc.Arguments))
		}
	}
	return total
}

// estimateTokens approximates the token count as one token per four bytes.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

var _ domain.TokenCounter = (*TiktokenCounter)(nil)

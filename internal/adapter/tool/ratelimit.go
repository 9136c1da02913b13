package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"triage-ai/internal/domain"
)

// RateLimitedTool delays calls to the wrapped tool so that all tools
// sharing the limiter stay under a token-bucket rate.
type RateLimitedTool struct {
	domain.Tool
	limiter *rate.Limiter
}

// NewLimiter returns a token-bucket limiter for perSecond calls, or nil when
// perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// WithRateLimit wraps t so Execute waits on limiter first. A nil limiter
// returns t unchanged.
func WithRateLimit(t domain.Tool, limiter *rate.Limiter) domain.Tool {
	if limiter == nil {
		return t
	}
	return &RateLimitedTool{Tool: t, limiter: limiter}
}

func (r *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w: %w", r.Name(), domain.ErrToolFailure, err)
	}
	return r.Tool.Execute(ctx, params)
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("sheets.append", ErrPersistence, "Sheet1")
	want := "sheets.append: Sheet1: row persistence failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("runner.run", ErrMaxIterations, "")
	want := "runner.run: agent reached max iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("graph.build", ErrUnknownAgent, "Sheets Agent")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Error("errors.Is should match ErrUnknownAgent")
	}
}

func TestDomainErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("turn: %w", NewDomainError("mcp.call_tool", ErrToolFailure, "tavily_search"))
	var de *DomainError
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "mcp.call_tool", de.Op)
	assert.Equal(t, CodeToolFailure, de.Code())
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("noop", nil))

	err := WrapOp("initialize", ErrBridgeConnect)
	assert.EqualError(t, err, "initialize: tool bridge connection failed")
	assert.ErrorIs(t, err, ErrBridgeConnect)
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct", ErrMaxHandoffs, CodeMaxHandoffs},
		{"wrapped", fmt.Errorf("ctx: %w", ErrRateLimit), CodeRateLimit},
		{"domain error", NewDomainError("op", ErrInvalidRecord, ""), CodeInvalidRecord},
		{"category", fmt.Errorf("agent %q: %w", "x", ErrDuplicate), CodeDuplicate},
		{"unknown", errors.New("boom"), CodeUnknown},
		{"missing credentials", fmt.Errorf("config: %w", ErrMissingCredentials), CodeMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_MostSpecificWins(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrToolFailure, ErrTimeout)
	assert.Equal(t, CodeToolFailure, ErrorCodeOf(err))
}

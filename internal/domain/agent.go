package domain

import (
	"context"
	"time"
)

// Agent is a named role bound to a policy, a tool set and outgoing handoffs.
// Agents are built once at startup and referenced by name afterwards.
type Agent struct {
	Name         string    `json:"name"                yaml:"name"`
	Instructions string    `json:"instructions"        yaml:"instructions"`
	Model        string    `json:"model,omitempty"     yaml:"model,omitempty"`
	Tools        []string  `json:"tools,omitempty"     yaml:"tools,omitempty"`
	Handoffs     []Handoff `json:"handoffs,omitempty"  yaml:"handoffs,omitempty"`
}

// Handoff is a directed edge transferring control to Target.
type Handoff struct {
	Target      string `json:"target"                yaml:"target"`
	ToolName    string `json:"tool_name,omitempty"   yaml:"tool_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// OnHandoff runs synchronously once per transfer. It cannot veto the
	// transfer; panics are recovered by the runner.
	OnHandoff HandoffObserver `json:"-" yaml:"-"`
}

// HandoffObserver is a side-effect-only callback fired at transfer time.
type HandoffObserver func(ctx context.Context, ev HandoffEvent)

// HandoffEvent describes one transfer of control between agents.
type HandoffEvent struct {
	SessionID  string
	From       string
	To         string
	ToolCallID string
	History    []Message
	At         time.Time
}

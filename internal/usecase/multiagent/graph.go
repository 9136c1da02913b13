// Package multiagent builds the immutable agent graph: agents keyed by name
// and the handoff edges between them.
package multiagent

import (
	"fmt"
	"sort"

	"github.com/stoewer/go-strcase"

	"triage-ai/internal/domain"
)

// handoffParams is the parameter schema of every handoff tool.
var handoffParams = []byte(`{"type":"object","properties":{}}`)

// Graph holds the agents and their outgoing handoffs. It is safe for
// concurrent reads and never changes after NewGraph returns.
type Graph struct {
	entry    string
	agents   map[string]domain.Agent
	handoffs map[string]map[string]domain.Handoff // agent -> tool name -> edge
}

// NewGraph validates agents and their edges and returns the graph rooted at
// entry. Handoffs without a ToolName get "transfer_to_<snake_case(target)>";
// handoffs without a Description get a generic one.
func NewGraph(entry string, agents ...domain.Agent) (*Graph, error) {
	g := &Graph{
		entry:    entry,
		agents:   make(map[string]domain.Agent, len(agents)),
		handoffs: make(map[string]map[string]domain.Handoff, len(agents)),
	}

	for _, a := range agents {
		if a.Name == "" {
			return nil, domain.NewDomainError("multiagent.NewGraph", domain.ErrInvalidInput, "agent name is empty")
		}
		if _, dup := g.agents[a.Name]; dup {
			return nil, domain.NewDomainError("multiagent.NewGraph", domain.ErrDuplicate, fmt.Sprintf("agent %q", a.Name))
		}
		g.agents[a.Name] = a
	}

	if _, ok := g.agents[entry]; !ok {
		return nil, domain.NewDomainError("multiagent.NewGraph", domain.ErrUnknownAgent, fmt.Sprintf("entry %q", entry))
	}

	for name, a := range g.agents {
		edges := make(map[string]domain.Handoff, len(a.Handoffs))
		filled := make([]domain.Handoff, 0, len(a.Handoffs))
		for _, h := range a.Handoffs {
			if _, ok := g.agents[h.Target]; !ok {
				return nil, domain.NewDomainError("multiagent.NewGraph", domain.ErrUnknownAgent,
					fmt.Sprintf("%q hands off to %q", name, h.Target))
			}
			if h.ToolName == "" {
				h.ToolName = DefaultToolName(h.Target)
			}
			if h.Description == "" {
				h.Description = DefaultDescription(h.Target)
			}
			if _, dup := edges[h.ToolName]; dup {
				return nil, domain.NewDomainError("multiagent.NewGraph", domain.ErrDuplicate,
					fmt.Sprintf("%q has two handoffs named %q", name, h.ToolName))
			}
			edges[h.ToolName] = h
			filled = append(filled, h)
		}
		a.Handoffs = filled
		g.agents[name] = a
		g.handoffs[name] = edges
	}

	return g, nil
}

// DefaultToolName returns the handoff tool name for target,
// e.g. "Event Planner Agent" -> "transfer_to_event_planner_agent".
func DefaultToolName(target string) string {
	return "transfer_to_" + strcase.SnakeCase(target)
}

// DefaultDescription returns the handoff tool description for target.
func DefaultDescription(target string) string {
	return "Handoff to the " + target + " agent to handle the request."
}

// Entry returns the name of the agent every session starts with.
func (g *Graph) Entry() string { return g.entry }

// Get returns the agent called name.
func (g *Graph) Get(name string) (domain.Agent, error) {
	a, ok := g.agents[name]
	if !ok {
		return domain.Agent{}, domain.NewDomainError("multiagent.Get", domain.ErrUnknownAgent, name)
	}
	return a, nil
}

// List returns all agent names, sorted.
func (g *Graph) List() []string {
	names := make([]string, 0, len(g.agents))
	for name := range g.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandoffFor resolves a tool call made by agent to one of its handoff edges.
func (g *Graph) HandoffFor(agent, toolName string) (domain.Handoff, bool) {
	h, ok := g.handoffs[agent][toolName]
	return h, ok
}

// HandoffSchemas returns one parameterless function schema per outgoing
// edge of agent, in declaration order.
func (g *Graph) HandoffSchemas(agent string) []domain.ToolSchema {
	a, ok := g.agents[agent]
	if !ok {
		return nil
	}
	schemas := make([]domain.ToolSchema, len(a.Handoffs))
	for i, h := range a.Handoffs {
		schemas[i] = domain.ToolSchema{
			Name:        h.ToolName,
			Description: h.Description,
			Parameters:  handoffParams,
		}
	}
	return schemas
}

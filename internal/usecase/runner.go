package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel/trace"

	"triage-ai/internal/domain"
	"triage-ai/internal/infra/tracer"
)

// Content of the tool result given to calls that follow a handoff in the
// same oracle response.
const handoffIgnored = "Handoff already performed; call ignored."

// AgentGraph resolves agents and their handoff edges. Implemented by
// multiagent.Graph.
type AgentGraph interface {
	Get(name string) (domain.Agent, error)
	HandoffFor(agent, toolName string) (domain.Handoff, bool)
	HandoffSchemas(agent string) []domain.ToolSchema
}

// RunnerDeps holds injected dependencies for the runner.
type RunnerDeps struct {
	LLM              domain.LLMProvider
	Graph            AgentGraph
	Tools            domain.ToolExecutor
	Counter          domain.TokenCounter // optional, required when HistoryMaxTokens > 0
	Logger           *slog.Logger
	Model            string // default model; an agent's Model overrides it
	Temperature      float64
	MaxTurns         int           // oracle calls per user turn, default 10
	MaxHandoffs      int           // handoffs per user turn, default 5
	HistoryMaxTokens int           // 0 = unbounded
	TurnTimeout      time.Duration // 0 = no deadline beyond the caller's
}

// RunResult is the outcome of one user turn.
type RunResult struct {
	FinalOutput string
	LastAgent   string
	Path        []string // agents that handled the turn, in order
	Handoffs    int
	ToolCalls   int
}

// Runner drives the turn loop: it asks the active agent's oracle for a
// response, executes tool calls and handoffs, and repeats until an agent
// answers with plain text.
type Runner struct {
	deps RunnerDeps
}

// NewRunner creates a runner with the given dependencies.
func NewRunner(deps RunnerDeps) *Runner {
	if deps.MaxTurns <= 0 {
		deps.MaxTurns = 10
	}
	if deps.MaxHandoffs <= 0 {
		deps.MaxHandoffs = 5
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{deps: deps}
}

// Run processes one user input against sess. The session's active agent is
// updated in place when a handoff occurs. A tool or oracle error ends the
// turn and is returned.
func (r *Runner) Run(ctx context.Context, sess *Session, input string) (*RunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "runner.run",
		trace.WithAttributes(
			tracer.StringAttr("session.id", sess.ID),
			tracer.StringAttr("agent.start", sess.Active()),
		),
	)
	defer span.End()

	if r.deps.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deps.TurnTimeout)
		defer cancel()
	}

	sess.Append(domain.Message{Role: domain.RoleUser, Content: input})

	if r.deps.HistoryMaxTokens > 0 {
		if dropped := sess.Trim(r.deps.Counter, r.deps.HistoryMaxTokens); dropped > 0 {
			r.deps.Logger.Info("history trimmed", "session_id", sess.ID, "dropped", dropped)
		}
	}

	result := &RunResult{Path: []string{sess.Active()}}

	for i := 0; i < r.deps.MaxTurns; i++ {
		agent, err := r.deps.Graph.Get(sess.Active())
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("runner.run", err)
		}
		span.AddEvent("runner.iteration", trace.WithAttributes(
			tracer.IntAttr("iteration", i),
			tracer.StringAttr("agent", agent.Name),
		))

		msg, err := r.callLLM(ctx, agent, sess)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, fmt.Errorf("%s: %w", agent.Name, err)
		}
		sess.Append(msg)

		if len(msg.ToolCalls) == 0 {
			result.FinalOutput = msg.Content
			result.LastAgent = agent.Name
			span.SetAttributes(
				tracer.StringAttr("agent.last", agent.Name),
				tracer.IntAttr("handoffs", result.Handoffs),
				tracer.IntAttr("tool_calls", result.ToolCalls),
			)
			tracer.SetOK(span)
			r.deps.Logger.Info("turn completed",
				"session_id", sess.ID,
				"agent", agent.Name,
				"iterations", i+1,
				"handoffs", result.Handoffs,
				"tool_calls", result.ToolCalls)
			return result, nil
		}

		handedOff := false
		for _, call := range msg.ToolCalls {
			if handedOff {
				sess.Append(toolMessage(agent.Name, call, handoffIgnored))
				continue
			}

			if h, ok := r.deps.Graph.HandoffFor(agent.Name, call.Name); ok {
				if result.Handoffs >= r.deps.MaxHandoffs {
					err := domain.NewDomainError("runner.run", domain.ErrMaxHandoffs,
						fmt.Sprintf("%d handoffs", result.Handoffs))
					tracer.RecordError(span, err)
					return nil, err
				}
				r.handoff(ctx, sess, agent.Name, h, call)
				handedOff = true
				result.Handoffs++
				result.Path = append(result.Path, h.Target)
				continue
			}

			toolMsg, err := r.executeTool(ctx, agent, call)
			if err != nil {
				tracer.RecordError(span, err)
				return nil, fmt.Errorf("%s: tool %s: %w", agent.Name, call.Name, err)
			}
			sess.Append(toolMsg)
			result.ToolCalls++
		}
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	return nil, domain.NewDomainError("runner.run", domain.ErrMaxIterations,
		fmt.Sprintf("%d oracle calls", r.deps.MaxTurns))
}

// callLLM sends the active agent's view of the session to the oracle.
func (r *Runner) callLLM(ctx context.Context, agent domain.Agent, sess *Session) (domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "runner.llm_call",
		trace.WithAttributes(tracer.StringAttr("agent", agent.Name)),
	)
	defer span.End()

	req := r.buildRequest(agent, sess.Messages())
	resp, err := r.deps.LLM.Chat(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		r.deps.Logger.Error("llm call failed",
			"agent", agent.Name,
			"error", err,
			"code", domain.ErrorCodeOf(err))
		return domain.Message{}, err
	}

	msg := resp.Message
	msg.Role = domain.RoleAssistant
	msg.Agent = agent.Name
	msg.Timestamp = time.Now()

	span.SetAttributes(
		tracer.IntAttr("tool_calls", len(msg.ToolCalls)),
		tracer.IntAttr("tokens", resp.Usage.TotalTokens),
	)
	tracer.SetOK(span)
	r.deps.Logger.Debug("llm response",
		"agent", agent.Name,
		"tool_calls", len(msg.ToolCalls),
		"tokens", resp.Usage.TotalTokens)
	return msg, nil
}

// buildRequest prepends the agent's instructions to the history and offers
// the agent's tools followed by its handoffs.
func (r *Runner) buildRequest(agent domain.Agent, history []domain.Message) domain.ChatRequest {
	msgs := make([]domain.Message, 0, len(history)+1)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: agent.Instructions})
	msgs = append(msgs, history...)

	var tools []domain.ToolSchema
	if len(agent.Tools) > 0 {
		tools = append(tools, r.deps.Tools.Schemas(agent.Tools...)...)
	}
	tools = append(tools, r.deps.Graph.HandoffSchemas(agent.Name)...)

	model := agent.Model
	if model == "" {
		model = r.deps.Model
	}
	return domain.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: r.deps.Temperature,
	}
}

// handoff transfers control to h.Target and fires the edge observer once.
func (r *Runner) handoff(ctx context.Context, sess *Session, from string, h domain.Handoff, call domain.ToolCall) {
	ctx, span := tracer.StartSpan(ctx, "runner.handoff",
		trace.WithAttributes(
			tracer.StringAttr("handoff.from", from),
			tracer.StringAttr("handoff.to", h.Target),
		),
	)
	defer span.End()

	content, _ := json.Marshal(map[string]string{"assistant": h.Target})
	sess.Append(toolMessage(from, call, string(content)))
	sess.SetActive(h.Target)

	r.deps.Logger.Info("handoff", "session_id", sess.ID, "from", from, "to", h.Target, "tool", call.Name)

	if h.OnHandoff != nil {
		r.notify(ctx, h.OnHandoff, domain.HandoffEvent{
			SessionID:  sess.ID,
			From:       from,
			To:         h.Target,
			ToolCallID: call.ID,
			History:    sess.Messages(),
			At:         time.Now(),
		})
	}
	tracer.SetOK(span)
}

// notify runs an observer, recovering from panics so a faulty observer
// cannot undo or fail the transfer.
func (r *Runner) notify(ctx context.Context, observer domain.HandoffObserver, ev domain.HandoffEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Logger.Error("handoff observer panicked", "from", ev.From, "to", ev.To, "panic", rec)
		}
	}()
	observer(ctx, ev)
}

// executeTool runs one ordinary tool call. Lookup failures and IsError
// results become tool messages for the oracle; an error from the tool
// itself is returned.
func (r *Runner) executeTool(ctx context.Context, agent domain.Agent, call domain.ToolCall) (domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "runner.tool",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("agent", agent.Name),
		),
	)
	defer span.End()

	if !allowed(agent.Tools, call.Name) {
		err := domain.NewDomainError("runner.tool", domain.ErrToolNotFound, call.Name)
		tracer.RecordError(span, err)
		r.deps.Logger.Warn("unknown tool requested", "agent", agent.Name, "tool", call.Name)
		return toolMessage(agent.Name, call, err.Error()), nil
	}

	t, err := r.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		r.deps.Logger.Warn("unknown tool requested", "agent", agent.Name, "tool", call.Name)
		return toolMessage(agent.Name, call, err.Error()), nil
	}

	start := time.Now()
	res, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		r.deps.Logger.Error("tool failed",
			"agent", agent.Name,
			"tool", call.Name,
			"duration", time.Since(start),
			"error", err,
			"code", domain.ErrorCodeOf(err))
		return domain.Message{}, err
	}

	if res.IsError {
		span.SetAttributes(tracer.BoolAttr("tool.is_error", true))
	} else {
		tracer.SetOK(span)
	}
	r.deps.Logger.Info("tool executed",
		"agent", agent.Name,
		"tool", call.Name,
		"duration", time.Since(start),
		"is_error", res.IsError)
	return toolMessage(agent.Name, call, res.Content), nil
}

func toolMessage(agent string, call domain.ToolCall, content string) domain.Message {
	return domain.Message{
		Role:       domain.RoleTool,
		Name:       call.Name,
		Agent:      agent,
		Content:    content,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}
}

// allowed reports whether name matches one of the agent's tool patterns.
func allowed(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

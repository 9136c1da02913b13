package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage-ai/internal/domain"
	"triage-ai/internal/usecase/multiagent"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

// scriptedLLM replays responses in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []func(domain.ChatRequest) (*domain.ChatResponse, error)
	requests  []domain.ChatRequest
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.requests) > len(m.responses) {
		return nil, fmt.Errorf("unexpected oracle call %d", len(m.requests))
	}
	return m.responses[len(m.requests)-1](req)
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func say(text string) func(domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}, nil
	}
}

func call(calls ...domain.ToolCall) func(domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}, nil
	}
}

func tc(id, name, args string) domain.ToolCall {
	if args == "" {
		args = "{}"
	}
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// fakeTool returns a fixed result or error and counts its calls.
type fakeTool struct {
	name   string
	result *domain.ToolResult
	err    error
	calls  []string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Description: f.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (f *fakeTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	f.calls = append(f.calls, string(params))
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeTools map[string]domain.Tool

func (f fakeTools) Get(name string) (domain.Tool, error) {
	t, ok := f[name]
	if !ok {
		return nil, domain.NewDomainError("fakeTools.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (f fakeTools) Schemas(patterns ...string) []domain.ToolSchema {
	var names []string
	for name := range f {
		for _, p := range patterns {
			if ok, _ := path.Match(p, name); ok {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	out := make([]domain.ToolSchema, len(names))
	for i, n := range names {
		out[i] = f[n].Schema()
	}
	return out
}

// observerLog counts observer firings per target.
type observerLog struct {
	mu     sync.Mutex
	fired  map[string]int
	events []domain.HandoffEvent
}

func (o *observerLog) observer() domain.HandoffObserver {
	return func(_ context.Context, ev domain.HandoffEvent) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.fired[ev.To]++
		o.events = append(o.events, ev)
	}
}

// standardGraph mirrors multiagent.Default with counting observers on
// every edge.
func standardGraph(t *testing.T) (*multiagent.Graph, *observerLog) {
	t.Helper()
	obs := &observerLog{fired: make(map[string]int)}
	toSheets := domain.Handoff{Target: multiagent.SheetsAgent, OnHandoff: obs.observer()}
	g, err := multiagent.NewGraph(multiagent.TriageAgent,
		domain.Agent{
			Name:         multiagent.TriageAgent,
			Instructions: "triage policy",
			Handoffs: []domain.Handoff{
				{Target: multiagent.EventPlannerAgent, OnHandoff: obs.observer()},
				{Target: multiagent.HealthCareAgent, OnHandoff: obs.observer()},
			},
		},
		domain.Agent{Name: multiagent.EventPlannerAgent, Instructions: "event policy", Tools: []string{multiagent.SearchTools}, Handoffs: []domain.Handoff{toSheets}},
		domain.Agent{Name: multiagent.HealthCareAgent, Instructions: "health policy", Tools: []string{multiagent.SearchTools}, Handoffs: []domain.Handoff{toSheets}},
		domain.Agent{Name: multiagent.SheetsAgent, Instructions: "sheets policy", Tools: []string{multiagent.AppendEventTool, multiagent.AppendHealthTool}},
	)
	require.NoError(t, err)
	return g, obs
}

type fixture struct {
	llm    *scriptedLLM
	graph  *multiagent.Graph
	obs    *observerLog
	search *fakeTool
	sheet  *fakeTool
	runner *Runner
	sess   *Session
}

func newFixture(t *testing.T, responses ...func(domain.ChatRequest) (*domain.ChatResponse, error)) *fixture {
	t.Helper()
	g, obs := standardGraph(t)
	f := &fixture{
		llm:    &scriptedLLM{responses: responses},
		graph:  g,
		obs:    obs,
		search: &fakeTool{name: "tavily_search", result: &domain.ToolResult{Content: "1. Royal Events 2. Lahore Weddings 3. Dream Decor 4. Elite Planners 5. Grand Occasions"}},
		sheet:  &fakeTool{name: multiagent.AppendEventTool, result: &domain.ToolResult{Content: "Event added to sheet successfully."}},
	}
	f.runner = NewRunner(RunnerDeps{
		LLM:    f.llm,
		Graph:  g,
		Tools:  fakeTools{"tavily_search": f.search, multiagent.AppendEventTool: f.sheet},
		Logger: nopLogger(),
		Model:  "gemini-2.0-flash",
	})
	f.sess = NewSession(g.Entry())
	return f
}

// --- Routing ---

func TestRunner_TriageToEventPlanner(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_event_planner_agent", "")),
		say("Which city is the wedding in?"),
	)

	res, err := f.runner.Run(context.Background(), f.sess, "I want to plan a wedding for 150 guests")
	require.NoError(t, err)

	assert.Equal(t, "Which city is the wedding in?", res.FinalOutput)
	assert.Equal(t, multiagent.EventPlannerAgent, res.LastAgent)
	assert.Equal(t, multiagent.EventPlannerAgent, f.sess.Active())
	assert.Equal(t, 1, res.Handoffs)
	assert.Equal(t, []string{multiagent.TriageAgent, multiagent.EventPlannerAgent}, res.Path)
	assert.Equal(t, map[string]int{multiagent.EventPlannerAgent: 1}, f.obs.fired)

	msgs := f.sess.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, multiagent.TriageAgent, msgs[1].Agent)
	assert.Equal(t, domain.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.JSONEq(t, `{"assistant":"Event Planner Agent"}`, msgs[2].Content)
	assert.Equal(t, multiagent.EventPlannerAgent, msgs[3].Agent)

	ev := f.obs.events[0]
	assert.Equal(t, f.sess.ID, ev.SessionID)
	assert.Equal(t, multiagent.TriageAgent, ev.From)
	assert.Equal(t, "c1", ev.ToolCallID)
	assert.Len(t, ev.History, 3)
}

func TestRunner_TriageToHealthCare(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_health_care_agent", "")),
		say("May I have the patient's name?"),
	)

	res, err := f.runner.Run(context.Background(), f.sess, "I need a lung specialist")
	require.NoError(t, err)
	assert.Equal(t, multiagent.HealthCareAgent, res.LastAgent)
	assert.Equal(t, map[string]int{multiagent.HealthCareAgent: 1}, f.obs.fired)
}

func TestRunner_OutOfScopeStaysInTriage(t *testing.T) {
	f := newFixture(t, say("I will not entertain this query: it is about stock trading."))

	res, err := f.runner.Run(context.Background(), f.sess, "Which stock should I buy?")
	require.NoError(t, err)
	assert.Equal(t, multiagent.TriageAgent, res.LastAgent)
	assert.Equal(t, multiagent.TriageAgent, f.sess.Active())
	assert.Zero(t, res.Handoffs)
	assert.Empty(t, f.obs.fired)
	assert.Equal(t, 2, f.sess.Len())
}

func TestRunner_NextTurnStartsAtLastAgent(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_event_planner_agent", "")),
		say("Which city?"),
		say("Noted, Lahore."),
	)

	_, err := f.runner.Run(context.Background(), f.sess, "plan a wedding")
	require.NoError(t, err)
	res, err := f.runner.Run(context.Background(), f.sess, "Lahore")
	require.NoError(t, err)

	assert.Equal(t, multiagent.EventPlannerAgent, res.LastAgent)
	assert.Equal(t, "event policy", f.llm.requests[2].Messages[0].Content)
	assert.Equal(t, 1, f.obs.fired[multiagent.EventPlannerAgent])
}

// --- End to end ---

func TestRunner_LahoreEventQueryListsPlannersWithoutPersisting(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_event_planner_agent", "")),
		call(tc("c2", "tavily_search", `{"query":"event planners in Lahore"}`)),
		func(req domain.ChatRequest) (*domain.ChatResponse, error) {
			last := req.Messages[len(req.Messages)-1]
			return &domain.ChatResponse{Message: domain.Message{
				Content: "Here are five event planners:\n" + last.Content + "\nWhich one would you like?",
			}}, nil
		},
	)

	res, err := f.runner.Run(context.Background(), f.sess, "I want to plan a birthday party in Lahore for 50 guests")
	require.NoError(t, err)

	assert.Equal(t, multiagent.EventPlannerAgent, res.LastAgent)
	assert.Equal(t, 1, res.ToolCalls)
	require.Len(t, f.search.calls, 1)
	assert.JSONEq(t, `{"query":"event planners in Lahore"}`, f.search.calls[0])
	for _, name := range []string{"Royal Events", "Lahore Weddings", "Dream Decor", "Elite Planners", "Grand Occasions"} {
		assert.Contains(t, res.FinalOutput, name)
	}
	assert.Empty(t, f.sheet.calls, "nothing is persisted before the user selects a planner")
	assert.Zero(t, f.obs.fired[multiagent.SheetsAgent])
}

func TestRunner_MultiEdgeTraversalInOneTurn(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_sheets_agent", "")),
		call(tc("c2", multiagent.AppendEventTool, `{"user_name":"Ali","event_planner_name":"Royal Events"}`)),
		say("Event added to sheet successfully."),
	)
	f.sess.SetActive(multiagent.EventPlannerAgent)

	res, err := f.runner.Run(context.Background(), f.sess, "I choose Royal Events")
	require.NoError(t, err)

	assert.Equal(t, multiagent.SheetsAgent, res.LastAgent)
	assert.Equal(t, "Event added to sheet successfully.", res.FinalOutput)
	assert.Len(t, f.sheet.calls, 1)
	assert.Equal(t, 1, f.obs.fired[multiagent.SheetsAgent])
}

func TestRunner_TriageToEventToSheets(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_event_planner_agent", "")),
		call(tc("c2", "transfer_to_sheets_agent", "")),
		call(tc("c3", multiagent.AppendEventTool, `{"user_name":"Ali"}`)),
		say("Event added to sheet successfully."),
	)

	res, err := f.runner.Run(context.Background(), f.sess, "Book Royal Events for my wedding")
	require.NoError(t, err)
	assert.Equal(t, []string{multiagent.TriageAgent, multiagent.EventPlannerAgent, multiagent.SheetsAgent}, res.Path)
	assert.Equal(t, 2, res.Handoffs)
	assert.Equal(t, 1, f.obs.fired[multiagent.EventPlannerAgent])
	assert.Equal(t, 1, f.obs.fired[multiagent.SheetsAgent])
}

// --- Handoff edge cases ---

func TestRunner_OnlyFirstHandoffPerResponse(t *testing.T) {
	f := newFixture(t,
		call(
			tc("c1", "transfer_to_event_planner_agent", ""),
			tc("c2", "transfer_to_health_care_agent", ""),
		),
		say("Event planner here."),
	)

	res, err := f.runner.Run(context.Background(), f.sess, "wedding and a doctor")
	require.NoError(t, err)
	assert.Equal(t, multiagent.EventPlannerAgent, res.LastAgent)
	assert.Equal(t, map[string]int{multiagent.EventPlannerAgent: 1}, f.obs.fired)

	msgs := f.sess.Messages()
	assert.Equal(t, "c2", msgs[3].ToolCallID)
	assert.Equal(t, handoffIgnored, msgs[3].Content)
}

func TestRunner_ObserverPanicDoesNotBlockTransfer(t *testing.T) {
	g, err := multiagent.NewGraph("A",
		domain.Agent{Name: "A", Handoffs: []domain.Handoff{{
			Target:    "B",
			OnHandoff: func(context.Context, domain.HandoffEvent) { panic("observer bug") },
		}}},
		domain.Agent{Name: "B"},
	)
	require.NoError(t, err)

	llm := &scriptedLLM{responses: []func(domain.ChatRequest) (*domain.ChatResponse, error){
		call(tc("c1", "transfer_to_b", "")),
		say("B here"),
	}}
	r := NewRunner(RunnerDeps{LLM: llm, Graph: g, Tools: fakeTools{}, Logger: nopLogger()})
	sess := NewSession("A")

	res, err := r.Run(context.Background(), sess, "hi")
	require.NoError(t, err)
	assert.Equal(t, "B", res.LastAgent)
	assert.Equal(t, "B", sess.Active())
}

func TestRunner_MaxHandoffs(t *testing.T) {
	g, err := multiagent.NewGraph("A",
		domain.Agent{Name: "A", Handoffs: []domain.Handoff{{Target: "B"}}},
		domain.Agent{Name: "B", Handoffs: []domain.Handoff{{Target: "A"}}},
	)
	require.NoError(t, err)

	pingPong := func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Message: domain.Message{ToolCalls: []domain.ToolCall{
			tc("c", req.Tools[0].Name, ""),
		}}}, nil
	}
	llm := &scriptedLLM{}
	for i := 0; i < 10; i++ {
		llm.responses = append(llm.responses, pingPong)
	}
	r := NewRunner(RunnerDeps{LLM: llm, Graph: g, Tools: fakeTools{}, Logger: nopLogger(), MaxHandoffs: 2})

	_, err = r.Run(context.Background(), NewSession("A"), "loop")
	assert.True(t, errors.Is(err, domain.ErrMaxHandoffs), "got %v", err)
	assert.Equal(t, 3, llm.calls())
}

// --- Tool calls ---

func TestRunner_MaxTurns(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.llm.responses = append(f.llm.responses, call(tc(fmt.Sprintf("c%d", i), "tavily_search", `{"query":"q"}`)))
	}
	f.runner.deps.MaxTurns = 3
	f.sess.SetActive(multiagent.EventPlannerAgent)

	_, err := f.runner.Run(context.Background(), f.sess, "search forever")
	assert.True(t, errors.Is(err, domain.ErrMaxIterations), "got %v", err)
	assert.Len(t, f.search.calls, 3)
}

func TestRunner_ToolTransportErrorEndsTurn(t *testing.T) {
	f := newFixture(t,
		call(
			tc("c1", "tavily_search", `{"query":"q"}`),
			tc("c2", "tavily_search", `{"query":"again"}`),
		),
		say("never reached"),
	)
	f.search.err = fmt.Errorf("mcp tavily/tavily-search: %w: broken pipe", domain.ErrToolFailure)
	f.sess.SetActive(multiagent.EventPlannerAgent)

	_, err := f.runner.Run(context.Background(), f.sess, "find planners")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolFailure))
	assert.Equal(t, 1, f.llm.calls())
	assert.Len(t, f.search.calls, 1, "calls after a failure are not executed")
}

func TestRunner_PersistenceErrorEndsTurn(t *testing.T) {
	f := newFixture(t, call(tc("c1", multiagent.AppendEventTool, `{}`)))
	f.sheet.err = domain.NewDomainError("sheets.append", domain.ErrPersistence, "append row")
	f.sess.SetActive(multiagent.SheetsAgent)

	_, err := f.runner.Run(context.Background(), f.sess, "save it")
	assert.True(t, errors.Is(err, domain.ErrPersistence))
}

func TestRunner_ToolErrorResultGoesToOracle(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "tavily_search", `{"query":"q"}`)),
		say("The search failed, please try again later."),
	)
	f.search.result = &domain.ToolResult{Content: "invalid api key", IsError: true}
	f.sess.SetActive(multiagent.EventPlannerAgent)

	res, err := f.runner.Run(context.Background(), f.sess, "find planners")
	require.NoError(t, err)
	assert.Equal(t, "The search failed, please try again later.", res.FinalOutput)

	second := f.llm.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, domain.RoleTool, last.Role)
	assert.Equal(t, "invalid api key", last.Content)
	assert.Equal(t, "c1", last.ToolCallID)
}

func TestRunner_UnknownToolBecomesErrorResult(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "delete_everything", "")),
		call(tc("c2", multiagent.AppendEventTool, "")),
		say("Sorry, I cannot do that."),
	)

	res, err := f.runner.Run(context.Background(), f.sess, "do something odd")
	require.NoError(t, err)
	assert.Equal(t, multiagent.TriageAgent, res.LastAgent)
	assert.Empty(t, f.sheet.calls, "tools outside the agent's set are not executed")

	msgs := f.sess.Messages()
	assert.Contains(t, msgs[2].Content, "tool not found")
	assert.Contains(t, msgs[4].Content, "tool not found")
}

func TestRunner_LLMErrorIsReturned(t *testing.T) {
	f := newFixture(t, func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, fmt.Errorf("gemini: %w", domain.ErrRateLimit)
	})

	_, err := f.runner.Run(context.Background(), f.sess, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimit))
	assert.True(t, strings.HasPrefix(err.Error(), multiagent.TriageAgent))
}

// --- Request shape ---

func TestRunner_RequestCarriesPolicyToolsAndHandoffs(t *testing.T) {
	f := newFixture(t,
		call(tc("c1", "transfer_to_event_planner_agent", "")),
		say("ok"),
	)

	_, err := f.runner.Run(context.Background(), f.sess, "wedding")
	require.NoError(t, err)
	require.Len(t, f.llm.requests, 2)

	triageReq := f.llm.requests[0]
	assert.Equal(t, "gemini-2.0-flash", triageReq.Model)
	assert.Equal(t, domain.RoleSystem, triageReq.Messages[0].Role)
	assert.Equal(t, "triage policy", triageReq.Messages[0].Content)
	assert.Equal(t, []string{"transfer_to_event_planner_agent", "transfer_to_health_care_agent"}, toolNames(triageReq.Tools))

	eventReq := f.llm.requests[1]
	assert.Equal(t, "event policy", eventReq.Messages[0].Content)
	assert.Equal(t, []string{"tavily_search", "transfer_to_sheets_agent"}, toolNames(eventReq.Tools))
	for _, m := range eventReq.Messages[1:] {
		assert.NotEqual(t, domain.RoleSystem, m.Role, "system text is never stored in history")
	}
}

func TestRunner_TrimsHistory(t *testing.T) {
	f := newFixture(t, say("one"), say("two"), say("three"))
	f.runner.deps.Counter = perMessageCounter{}
	f.runner.deps.HistoryMaxTokens = 3

	for _, in := range []string{"a", "b", "c"} {
		_, err := f.runner.Run(context.Background(), f.sess, in)
		require.NoError(t, err)
	}
	// Third request sees only the second turn and the new input.
	assert.Equal(t, []string{"b", "two", "c"}, contents(f.llm.requests[2].Messages[1:]))
}

func toolNames(schemas []domain.ToolSchema) []string {
	out := make([]string, len(schemas))
	for i, s := range schemas {
		out[i] = s.Name
	}
	return out
}

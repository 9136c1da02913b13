package multiagent

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"triage-ai/internal/domain"
	"triage-ai/internal/infra/config"
)

// Standard agent names.
const (
	TriageAgent       = "Triage Agent"
	EventPlannerAgent = "Event Planner Agent"
	HealthCareAgent   = "Health Care Agent"
	SheetsAgent       = "Sheets Agent"
)

// SearchTools matches every tool discovered from the Tavily bridge.
const SearchTools = "tavily_*"

// Sheet tool names registered by the persistence adapter.
const (
	AppendEventTool  = "append_event_to_sheet"
	AppendHealthTool = "append_health_to_sheet"
)

const triageInstructions = `You are a "Triage expert" assistant and act as a friendly and professional receptionist.
Analyze the user's query, then categorize it as either related to event planning or healthcare.
If it is related to event planning, hand off to the Event Planner Agent.
If it is related to healthcare, hand off to the Health Care Agent.
If the query is not related to event planning or healthcare, tell the user you will not entertain the query and state the reason.`

const eventPlannerInstructions = `Use the Tavily search, extract, map and crawl tools to find venues, vendors, event details and contact details.
Search at least five event planners. For each include: Event Planner Name, Contact Details, Location, Theme, Date and Budget.
Present the five event planners to the user in a structured format and ask the user to select one.
Only after the user selects an event planner, hand off to the Sheets Agent to append the event details.
If the user does not provide a detail (for example the budget), leave it out so it is recorded as NONE.`

const healthCareInstructions = `Ask the patient for their name, disease and location (the city where they live).
Use the Tavily search, extract, map and crawl tools to find at least five hospitals in that city. For each include:
Hospital Name, Doctor Name (specialized in that disease) and Hospital Contact Details.
Present them in a structured format and ask the patient to select one.
Only after the patient selects a hospital, hand off to the Sheets Agent to append the health care details.
If the patient does not provide a detail, leave it out so it is recorded as NONE.`

const sheetsInstructions = `You add the details collected in this conversation to the Google Sheet.
Decide whether the data is an event booking or a health care record.
For event data call append_event_to_sheet with user_name, no_of_guests, event_planner_name,
company_contact_details, location, theme, date and budget.
For health care data call append_health_to_sheet with patient_name, disease, location,
hospital_name, doctor_name and hospital_contact_details.
Omit any field the user did not provide. After the tool succeeds, reply with its confirmation message.`

// DefaultInstructions returns the built-in policy text keyed by agent name.
func DefaultInstructions() map[string]string {
	return map[string]string{
		TriageAgent:       triageInstructions,
		EventPlannerAgent: eventPlannerInstructions,
		HealthCareAgent:   healthCareInstructions,
		SheetsAgent:       sheetsInstructions,
	}
}

// Default builds the standard graph: Triage hands off to Event Planner or
// Health Care, and both specialists hand off to Sheets. cfg.Instructions
// replaces the built-in policy of the agents it names. Triage handoffs are
// announced on out when it is non-nil.
func Default(cfg config.AgentConfig, logger *slog.Logger, out io.Writer) (*Graph, error) {
	instructions := DefaultInstructions()
	for name, text := range cfg.Instructions {
		if text != "" {
			instructions[name] = text
		}
	}

	toSheets := domain.Handoff{Target: SheetsAgent}

	return NewGraph(TriageAgent,
		domain.Agent{
			Name:         TriageAgent,
			Instructions: instructions[TriageAgent],
			Handoffs: []domain.Handoff{
				{Target: EventPlannerAgent, OnHandoff: LogHandoff(logger, out)},
				{Target: HealthCareAgent, OnHandoff: LogHandoff(logger, out)},
			},
		},
		domain.Agent{
			Name:         EventPlannerAgent,
			Instructions: instructions[EventPlannerAgent],
			Tools:        []string{SearchTools},
			Handoffs:     []domain.Handoff{toSheets},
		},
		domain.Agent{
			Name:         HealthCareAgent,
			Instructions: instructions[HealthCareAgent],
			Tools:        []string{SearchTools},
			Handoffs:     []domain.Handoff{toSheets},
		},
		domain.Agent{
			Name:         SheetsAgent,
			Instructions: instructions[SheetsAgent],
			Tools:        []string{AppendEventTool, AppendHealthTool},
		},
	)
}

// LogHandoff returns an observer that records the transfer and, when out is
// non-nil, prints the same notice for the user.
func LogHandoff(logger *slog.Logger, out io.Writer) domain.HandoffObserver {
	return func(_ context.Context, ev domain.HandoffEvent) {
		msg := "Checking handoff conditions... to " + ev.To
		if out != nil {
			fmt.Fprintln(out, msg)
		}
		logger.Info(msg,
			"session_id", ev.SessionID,
			"from", ev.From,
			"history", len(ev.History))
	}
}

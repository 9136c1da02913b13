package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stoewer/go-strcase"
	"go.opentelemetry.io/otel/trace"

	"triage-ai/internal/domain"
	"triage-ai/internal/infra/tracer"
)

// RowAppender persists one record row. Implemented by sheets.Store.
type RowAppender interface {
	AppendRecord(ctx context.Context, spreadsheetID string, schema domain.RecordSchema, values []any) (*domain.AppendConfirmation, error)
}

// AppendRowTool exposes a RowAppender for one fixed schema. Parameters are
// named after the schema headers in snake case, e.g. "No. of Guests"
// becomes "no_of_guests".
type AppendRowTool struct {
	name          string
	description   string
	subject       string
	schema        domain.RecordSchema
	fields        []string
	store         RowAppender
	spreadsheetID string
	logger        *slog.Logger
}

// NewAppendEventTool returns the append_event_to_sheet tool.
func NewAppendEventTool(store RowAppender, spreadsheetID string, logger *slog.Logger) *AppendRowTool {
	return newAppendRowTool("append_event_to_sheet",
		"Append the selected event planner and the user's event details as one row to the events sheet.",
		"Event", domain.EventSchema, store, spreadsheetID, logger)
}

// NewAppendHealthTool returns the append_health_to_sheet tool.
func NewAppendHealthTool(store RowAppender, spreadsheetID string, logger *slog.Logger) *AppendRowTool {
	return newAppendRowTool("append_health_to_sheet",
		"Append the selected hospital and doctor with the patient's details as one row to the health sheet.",
		"Health record", domain.HealthSchema, store, spreadsheetID, logger)
}

func newAppendRowTool(name, desc, subject string, schema domain.RecordSchema, store RowAppender, spreadsheetID string, logger *slog.Logger) *AppendRowTool {
	fields := make([]string, len(schema.Headers))
	for i, h := range schema.Headers {
		fields[i] = fieldName(h)
	}
	return &AppendRowTool{
		name:          name,
		description:   desc,
		subject:       subject,
		schema:        schema,
		fields:        fields,
		store:         store,
		spreadsheetID: spreadsheetID,
		logger:        logger,
	}
}

// fieldName turns a sheet header into a parameter name.
func fieldName(header string) string {
	return strcase.SnakeCase(sanitizeName(header))
}

func (t *AppendRowTool) Name() string        { return t.name }
func (t *AppendRowTool) Description() string { return t.description }

func (t *AppendRowTool) Schema() domain.ToolSchema {
	props := make(map[string]any, len(t.fields))
	for i, f := range t.fields {
		props[f] = map[string]any{
			"type":        "string",
			"description": t.schema.Headers[i] + ". Omit or null when unknown.",
		}
	}
	params, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	})
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  params,
	}
}

// Execute appends the row. Missing fields are written as NONE. A storage
// failure is returned as an error and ends the turn.
func (t *AppendRowTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool."+t.name, t.logger, params,
		func(ctx context.Context, span trace.Span, p map[string]any) (any, error) {
			values := make([]any, len(t.fields))
			for i, f := range t.fields {
				values[i] = p[f]
			}

			conf, err := t.store.AppendRecord(ctx, t.spreadsheetID, t.schema, values)
			if err != nil {
				return nil, err
			}

			span.SetAttributes(tracer.StringAttr("sheets.updated_range", conf.UpdatedRange))
			return fmt.Sprintf("%s added to sheet successfully.", t.subject), nil
		})
}

// Package sheets appends normalized records to a Google spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"triage-ai/internal/domain"
	"triage-ai/internal/infra/config"
	"triage-ai/internal/infra/tracer"
)

const (
	inputRaw         = "RAW"
	inputUserEntered = "USER_ENTERED"
	insertRows       = "INSERT_ROWS"
)

// Store writes rows through the Sheets v4 values API.
type Store struct {
	svc    *sheets.SpreadsheetsValuesService
	logger *slog.Logger
}

// New creates a Store. A configured Endpoint replaces the public API host
// and disables authentication.
func New(ctx context.Context, cfg config.SheetsConfig, logger *slog.Logger) (*Store, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else {
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		)
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.NewDomainError("sheets.New", domain.ErrConfigLoad, err.Error())
	}
	return &Store{svc: svc.Spreadsheets.Values, logger: logger}, nil
}

// AppendRecord appends one row built from values to schema's sheet. The
// header row is written first when the sheet has none. The append is not
// idempotent and is never retried.
func (s *Store) AppendRecord(ctx context.Context, spreadsheetID string, schema domain.RecordSchema, values []any) (*domain.AppendConfirmation, error) {
	ctx, span := tracer.StartSpan(ctx, "sheets.append",
		trace.WithAttributes(
			tracer.StringAttr("sheets.sheet", schema.Sheet),
			tracer.IntAttr("sheets.values", len(values)),
		),
	)
	defer span.End()

	row, err := domain.Record{Schema: schema, Values: values}.Row()
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	conf := &domain.AppendConfirmation{SpreadsheetID: spreadsheetID}

	existing, err := s.svc.Get(spreadsheetID, schema.HeaderRange()).Context(ctx).Do()
	if err != nil {
		return nil, s.fail(span, "read header", err)
	}

	if len(existing.Values) == 0 {
		if _, err := s.append(ctx, spreadsheetID, schema.SheetRange(), schema.Headers, inputRaw); err != nil {
			return nil, s.fail(span, "write header", err)
		}
		conf.HeaderWritten = true
		s.logger.Info("sheet header written", "sheet", schema.Sheet, "columns", len(schema.Headers))
	}

	resp, err := s.append(ctx, spreadsheetID, schema.SheetRange(), row, inputUserEntered)
	if err != nil {
		return nil, s.fail(span, "append row", err)
	}
	if resp.Updates != nil {
		conf.UpdatedRange = resp.Updates.UpdatedRange
		conf.UpdatedRows = resp.Updates.UpdatedRows
	}

	span.SetAttributes(
		tracer.StringAttr("sheets.updated_range", conf.UpdatedRange),
		tracer.BoolAttr("sheets.header_written", conf.HeaderWritten),
	)
	tracer.SetOK(span)
	s.logger.Info("sheet row appended",
		"sheet", schema.Sheet,
		"range", conf.UpdatedRange,
		"rows", conf.UpdatedRows,
		"duration", time.Since(start))
	return conf, nil
}

func (s *Store) append(ctx context.Context, id, sheet string, cells []string, inputOption string) (*sheets.AppendValuesResponse, error) {
	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return s.svc.Append(id, sheet, &sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption(inputOption).
		InsertDataOption(insertRows).
		Context(ctx).
		Do()
}

func (s *Store) fail(span trace.Span, step string, err error) error {
	tracer.RecordError(span, err)
	s.logger.Error("sheet append failed", "step", step, "error", err)
	return &domain.DomainError{
		Op:     "sheets.append",
		Err:    fmt.Errorf("%w: %w", domain.ErrPersistence, err),
		Detail: step,
	}
}

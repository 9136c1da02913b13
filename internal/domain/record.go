package domain

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// NoValue is written in place of absent or blank fields.
const NoValue = "NONE"

// RecordSchema names a sheet and its fixed, ordered header row.
type RecordSchema struct {
	Sheet   string
	Headers []string
}

// SheetRange returns the sheet name in A1 notation. Names with anything but
// letters, digits and underscores are single-quoted, e.g. "'Event Log'".
func (s RecordSchema) SheetRange() string {
	plain := s.Sheet != "" && strings.IndexFunc(s.Sheet, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) < 0
	if plain {
		return s.Sheet
	}
	return "'" + strings.ReplaceAll(s.Sheet, "'", "''") + "'"
}

// HeaderRange returns the A1 range spanning exactly the header row,
// e.g. "Sheet1!A1:H1".
func (s RecordSchema) HeaderRange() string {
	return fmt.Sprintf("%s!A1:%s1", s.SheetRange(), columnName(len(s.Headers)))
}

// columnName converts a 1-based column index to its A1 letter form.
func columnName(n int) string {
	if n <= 0 {
		return "A"
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// EventSchema is the canonical schema for event planning records.
var EventSchema = RecordSchema{
	Sheet: "Sheet1",
	Headers: []string{
		"User Name",
		"No. of Guests",
		"Event Planner Name",
		"Company Contact Details",
		"Location",
		"Theme",
		"Date",
		"Budget",
	},
}

// HealthSchema is the schema for health care records.
var HealthSchema = RecordSchema{
	Sheet: "Sheet2",
	Headers: []string{
		"Patient Name",
		"Disease",
		"Location",
		"Hospital Name",
		"Doctor Name",
		"Hospital Contact Details",
	},
}

// Record is one row destined for a sheet, ordered per its schema.
type Record struct {
	Schema RecordSchema
	Values []any
}

// Row normalizes the record's values. Missing trailing values are filled
// with NoValue; more values than headers is an error.
func (r Record) Row() ([]string, error) {
	if len(r.Values) > len(r.Schema.Headers) {
		return nil, NewDomainError("record.row", ErrInvalidRecord,
			fmt.Sprintf("%s has %d columns, got %d values", r.Schema.Sheet, len(r.Schema.Headers), len(r.Values)))
	}
	row := NormalizeAll(r.Values)
	for len(row) < len(r.Schema.Headers) {
		row = append(row, NoValue)
	}
	return row, nil
}

// AppendConfirmation reports the outcome of a row append.
type AppendConfirmation struct {
	SpreadsheetID string
	UpdatedRange  string
	UpdatedRows   int64
	HeaderWritten bool
}

// Normalize maps an arbitrary value to its display string. Absent or blank
// values become NoValue; times keep only their calendar date.
func Normalize(v any) string {
	if v == nil {
		return NoValue
	}
	switch t := v.(type) {
	case time.Time:
		return formatDate(t)
	case *time.Time:
		if t == nil {
			return NoValue
		}
		return formatDate(*t)
	case string:
		return blankToNone(t)
	case fmt.Stringer:
		if isNilPointer(v) {
			return NoValue
		}
		return blankToNone(t.String())
	}
	if isNilPointer(v) {
		return NoValue
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		s = fmt.Sprint(v)
	}
	return blankToNone(s)
}

// NormalizeAll applies Normalize to each value.
func NormalizeAll(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = Normalize(v)
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return NoValue
	}
	return t.Format(time.DateOnly)
}

func blankToNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return NoValue
	}
	return s
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

package dnc

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"go.uber.org/zap"
)

// Import defaults for blank cells.
const (
	defaultImportScope  = "Phone Only"
	defaultImportSource = "Manual Entry"
	defaultImportReason = "Bulk Upload"
)

// BulkImport adds one entry per row whose phone and email match a single
// customer. Unmatched rows are skipped and bad rows fail without stopping
// the import. Rows are not deduplicated against existing entries.
func (r *Registry) BulkImport(ctx context.Context, rows []ImportRow) (*ImportReport, error) {
	report := &ImportReport{Rows: make([]RowResult, 0, len(rows))}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := r.importRow(ctx, row)
		switch result.Status {
		case RowImported:
			report.Imported++
		case RowSkipped:
			report.Skipped++
		case RowFailed:
			report.Failed++
		}
		report.Rows = append(report.Rows, result)
	}

	r.logger.Info("DNC bulk import finished",
		zap.Int("rows", len(rows)),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Registry) importRow(ctx context.Context, row ImportRow) RowResult {
	result := RowResult{
		Line:  row.Line,
		Phone: strings.TrimSpace(row.Phone),
		Email: strings.TrimSpace(row.Email),
	}
	fail := func(status, reason string) RowResult {
		result.Status = status
		result.Reason = reason
		return result
	}

	if result.Phone == "" || result.Email == "" {
		return fail(RowSkipped, "phone and email are required")
	}

	scope, err := dnc.ParseScope(withDefault(row.Scope, defaultImportScope))
	if err != nil {
		return fail(RowFailed, err.Error())
	}
	source, err := dnc.ParseSource(withDefault(row.Source, defaultImportSource))
	if err != nil {
		return fail(RowFailed, err.Error())
	}

	customer, err := r.customers.FindByContact(ctx, values.NormalizePhone(result.Phone), values.NormalizeEmail(result.Email))
	if err != nil {
		r.logger.Error("Customer lookup failed during import", zap.Int("line", row.Line), zap.Error(err))
		return fail(RowFailed, "customer lookup failed")
	}
	if customer == nil {
		return fail(RowSkipped, "no matching customer")
	}

	clientID, caseID, err := r.resolveClient(ctx, customer.ID, nil, nil)
	if err != nil {
		r.logger.Error("Client lookup failed during import", zap.Int("line", row.Line), zap.Error(err))
		return fail(RowFailed, "client lookup failed")
	}

	customerID := customer.ID
	entry, err := dnc.NewRegistryEntry(dnc.EntryParams{
		CustomerID:   &customerID,
		CaseID:       caseID,
		ClientID:     clientID,
		DisplayName:  customer.FullName,
		PhoneNumber:  customer.Phone,
		EmailAddress: customer.Email,
		Scope:        scope,
		Source:       source,
		Status:       dnc.StatusActive,
		Reason:       withDefault(row.Reason, defaultImportReason),
	}, r.clock.Now())
	if err != nil {
		return fail(RowFailed, err.Error())
	}

	if err := r.entries.Save(ctx, entry); err != nil {
		r.logger.Error("Failed to save imported entry", zap.Int("line", row.Line), zap.Error(err))
		return fail(RowFailed, "failed to save entry")
	}

	result.Status = RowImported
	return result
}

// ImportCSV reads rows with the headers Phone, Email, DNC Type, Source and
// Reason (any order, case-insensitive) and imports them.
func (r *Registry) ImportCSV(ctx context.Context, in io.Reader) (*ImportReport, error) {
	rows, err := ParseImportCSV(in)
	if err != nil {
		return nil, err
	}
	return r.BulkImport(ctx, rows)
}

// ParseImportCSV decodes an upload into import rows. Line numbers count the
// header as line 1.
func ParseImportCSV(in io.Reader) ([]ImportRow, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if stderrors.Is(err, io.EOF) {
		return nil, errors.NewValidationError("EMPTY_FILE", "uploaded file is empty").
			WithDetails(map[string]interface{}{"field": "file"})
	}
	if err != nil {
		return nil, errors.NewValidationError("INVALID_CSV", "uploaded file is not valid CSV").
			WithDetails(map[string]interface{}{"field": "file"}).WithCause(err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range []string{"phone", "email"} {
		if _, ok := columns[name]; !ok {
			return nil, errors.NewValidationError("MISSING_COLUMN", fmt.Sprintf("CSV header must include %q", name)).
				WithDetails(map[string]interface{}{"field": "file", "column": name})
		}
	}

	cell := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []ImportRow
	line := 1
	for {
		record, err := reader.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, errors.NewValidationError("INVALID_CSV", fmt.Sprintf("line %d is not valid CSV", line)).
				WithDetails(map[string]interface{}{"field": "file", "line": line}).WithCause(err)
		}
		rows = append(rows, ImportRow{
			Line:   line,
			Phone:  cell(record, "phone"),
			Email:  cell(record, "email"),
			Scope:  cell(record, "dnc type"),
			Source: cell(record, "source"),
			Reason: cell(record, "reason"),
		})
	}
	return rows, nil
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

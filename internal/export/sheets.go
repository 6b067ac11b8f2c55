// Package export publishes month reviews to a Google Sheets report.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"mensile/internal/services"
)

// SheetsExporter appends one row per recurring expense status plus a
// summary row for the month. It sits outside the core read path; an export
// failure never affects materialization or reconciliation.
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsExporter builds an exporter authenticated through a service
// account. Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or Application Default Credentials, in that
// order.
func NewSheetsExporter(ctx context.Context, spreadsheetID, sheetName string) (*SheetsExporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		return nil, errors.New("missing sheet name")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	var opts []goption.ClientOption
	switch {
	case serviceAccountJSON != "":
		opts = append(opts, goption.WithCredentialsJSON([]byte(serviceAccountJSON)))
	case serviceAccountFile != "":
		opts = append(opts, goption.WithCredentialsFile(serviceAccountFile))
	}
	opts = append(opts, goption.WithScopes(gsheet.SpreadsheetsScope))

	return gsheet.NewService(ctx, opts...)
}

// ExportMonth appends the month's status rows and summary.
func (e *SheetsExporter) ExportMonth(ctx context.Context, view services.MonthView) error {
	values := make([][]any, 0, len(view.Statuses)+1)
	for _, st := range view.Statuses {
		values = append(values, []any{
			view.MonthKey,
			st.Expense.Name,
			st.EffectiveAmount.StringFixed(2),
			st.Expense.Currency,
			st.DueThisMonth,
			st.Paid,
			st.Overdue,
			st.Skipped,
			st.DueDay,
		})
	}
	values = append(values, []any{
		view.MonthKey,
		"TOTAL",
		view.Summary.TotalDue.StringFixed(2),
		"",
		"",
		view.Summary.Paid.StringFixed(2),
		view.Summary.Overdue.StringFixed(2),
		view.Summary.Pending.StringFixed(2),
		view.Summary.MonthlyEquivalent.StringFixed(2),
	})

	rangeRef := fmt.Sprintf("%s!A:I", e.sheetName)
	_, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rangeRef, &gsheet.ValueRange{
		Values: values,
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append month report: %w", err)
	}

	slog.InfoContext(ctx, "Month report exported",
		"month", view.MonthKey,
		"rows", len(values),
		"spreadsheet_id", e.spreadsheetID)

	return nil
}

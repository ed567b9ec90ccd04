package report

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsExporter replaces the contents of a Google Sheets tab with report rows.
type SheetsExporter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsExporter(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsExporter, error) {
	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsExporter{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// Export clears the tab and writes a header plus one line per row.
func (e *SheetsExporter) Export(ctx context.Context, rows []Row) error {
	if _, err := e.service.Spreadsheets.Values.Clear(e.spreadsheetID, e.sheetName, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", e.sheetName, err)
	}

	vr := &sheets.ValueRange{Values: sheetValues(rows)}
	if _, err := e.service.Spreadsheets.Values.Update(e.spreadsheetID, e.sheetName+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("update sheet %s: %w", e.sheetName, err)
	}
	return nil
}

func sheetValues(rows []Row) [][]interface{} {
	values := make([][]interface{}, 0, len(rows)+1)

	header := make([]interface{}, len(dayColumns))
	for i, c := range dayColumns {
		header[i] = c
	}
	values = append(values, header)

	for _, r := range rows {
		values = append(values, rowValues(r))
	}
	return values
}

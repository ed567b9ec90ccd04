package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	DaysSheet    = "Days"
	SummarySheet = "Summary"
)

var (
	dayColumns     = []string{"Practitioner ID", "Name", "Specialty", "Date", "Total", "Available", "Booked", "Utilization %", "First slot", "Last slot end", "Longest free (min)"}
	summaryColumns = []string{"Practitioner ID", "Name", "Total", "Booked", "Utilization %"}
)

// excelWriter appends rows sheet by sheet.
type excelWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newExcelWriter() *excelWriter {
	return &excelWriter{file: excelize.NewFile()}
}

func (w *excelWriter) addSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *excelWriter) writeHeader(columns []string) error {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := w.writeRow(values); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *excelWriter) writeRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}

	w.currentRow++
	return nil
}

// WriteExcel writes a workbook with one row per practitioner day and a per
// practitioner summary sheet.
func WriteExcel(rows []Row, out io.Writer) error {
	w := newExcelWriter()
	defer w.file.Close()

	if err := w.addSheet(DaysSheet); err != nil {
		return err
	}
	if err := w.writeHeader(dayColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.writeRow(rowValues(r)); err != nil {
			return fmt.Errorf("write row %s %s: %w", r.PractitionerID, r.Date, err)
		}
	}

	if err := w.addSheet(SummarySheet); err != nil {
		return err
	}
	if err := w.writeHeader(summaryColumns); err != nil {
		return err
	}
	for _, s := range Summarize(rows) {
		if err := w.writeRow([]interface{}{s.PractitionerID, s.Name, s.TotalSlots, s.BookedSlots, s.UtilizationRate}); err != nil {
			return fmt.Errorf("write summary %s: %w", s.PractitionerID, err)
		}
	}

	return w.file.Write(out)
}

func rowValues(r Row) []interface{} {
	return []interface{}{
		r.PractitionerID,
		r.Name,
		r.Specialty,
		r.Date,
		r.TotalSlots,
		r.AvailableSlots,
		r.BookedSlots,
		r.UtilizationRate,
		r.FirstSlot,
		r.LastSlotEnd,
		r.LongestFreeMin,
	}
}

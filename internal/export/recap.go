package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"classattend/internal/model"
)

const timeLayout = "2006-01-02 15:04"

var header = []string{"Student ID", "Name", "Email", "Status", "Recorded At"}

// Filename returns a download name for the recap in the given extension.
func Filename(r *model.Recap, ext string) string {
	return fmt.Sprintf("attendance_%s_%s.%s", r.ScheduleID, r.StartTime.UTC().Format("20060102"), ext)
}

func rows(r *model.Recap, loc *time.Location) [][]string {
	out := make([][]string, 0, len(r.Students))
	for _, s := range r.Students {
		recorded := ""
		if s.RecordedAt != nil {
			recorded = s.RecordedAt.In(loc).Format(timeLayout)
		}
		out = append(out, []string{cell(s.StudentID), cell(s.Name), cell(s.Email), string(s.Status), recorded})
	}
	return out
}

// cell quotes values a spreadsheet would otherwise evaluate as a formula.
func cell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

// WriteCSV writes one row per roster entry after a header row.
func WriteCSV(w io.Writer, r *model.Recap, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows(r, loc)); err != nil {
		return err
	}
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook: a title line, the schedule
// window, then the roster table.
func WriteXLSX(w io.Writer, r *model.Recap, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	window := r.StartTime.In(loc).Format(timeLayout)
	if r.EndTime != nil {
		window += " - " + r.EndTime.In(loc).Format("15:04")
	}
	_ = f.SetCellValue(sheet, "A1", r.SessionTitle)
	_ = f.SetCellValue(sheet, "A2", window)

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A4", &header); err != nil {
		return err
	}
	_ = f.SetCellStyle(sheet, "A4", "E4", bold)

	for i, row := range rows(r, loc) {
		cell, err := excelize.CoordinatesToCellName(1, 5+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "C", 28)
	_ = f.SetColWidth(sheet, "D", "E", 18)

	return f.Write(w)
}

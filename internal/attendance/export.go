package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/soc-club/presensi/internal/models"
	"github.com/xuri/excelize/v2"
)

// Format selects an export encoding.
type Format string

// Export formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// ParseFormat accepts "csv", "xlsx" or empty, which means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// FileName returns the download name of an export made on day d.
func FileName(d models.Date, f Format) string {
	return fmt.Sprintf("soc_attendance_%s.%s", d, f)
}

var exportHeader = []string{"ID", "Name", "Role", "Date", "Time In", "Time Out", "Status"}

const exportTimeLayout = "15:04:05"

// exportRow renders r in header order. Missing times are N/A. Times are shown
// in loc.
func exportRow(r *models.AttendanceRecord, loc *time.Location) []string {
	clock := func(t *time.Time) string {
		if t == nil {
			return "N/A"
		}
		return t.In(loc).Format(exportTimeLayout)
	}
	return []string{
		r.ID.String(),
		r.FullName,
		string(r.Role),
		string(r.Date),
		clock(r.TimeIn),
		clock(r.TimeOut),
		string(r.Status),
	}
}

// Export writes rows to w in format f.
func Export(w io.Writer, rows []*models.AttendanceRecord, f Format, loc *time.Location) error {
	switch f {
	case FormatCSV:
		return exportCSV(w, rows, loc)
	case FormatXLSX:
		return exportXLSX(w, rows, loc)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

func exportCSV(w io.Writer, rows []*models.AttendanceRecord, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(exportRow(r, loc)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportXLSX(w io.Writer, rows []*models.AttendanceRecord, loc *time.Location) error {
	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()
	sheet := file.GetSheetName(file.GetActiveSheetIndex())
	for i, h := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := exportRow(r, loc)
		row := make([]any, len(values))
		for j, v := range values {
			row[j] = v
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	_, err := file.WriteTo(w)
	return err
}

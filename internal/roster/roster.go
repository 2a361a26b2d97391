// Package roster imports members in bulk from spreadsheets.
package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/soc-club/presensi/internal/auth"
	"github.com/soc-club/presensi/internal/models"
	"github.com/xuri/excelize/v2"
)

// maxRows bounds the rows read from one sheet.
const maxRows = 100000

var (
	errNoSheet       = errors.New("no worksheet found")
	errEmpty         = errors.New("worksheet is empty")
	errMissingHeader = errors.New("header must contain full_name and nisn columns")
)

// Entry is one parsed roster row.
type Entry struct {
	// Line is the 1-based row number in the source, header included.
	Line     int
	FullName string
	NISN     string
	Field    string
}

// Failure is a row that could not be imported.
type Failure struct {
	Line    int    `json:"line"`
	NISN    string `json:"nisn,omitempty"`
	Message string `json:"message"`
}

// Result reports the outcome of Import.
type Result struct {
	Created []*models.User `json:"created"`
	Failed  []Failure      `json:"failed"`
}

// Creator registers one member. *auth.Manager implements it.
type Creator interface {
	CreateUser(ctx context.Context, in auth.NewMember) (*models.User, error)
}

// ReadRows returns the cells of the first sheet of a .csv, .xlsx or .xls
// file, chosen by the extension of filename.
func ReadRows(r io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		if rows, err = cr.ReadAll(); err != nil {
			return nil, err
		}
	case ".xls":
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if wb.NumSheets() == 0 {
			return nil, errNoSheet
		}
		rows = wb.ReadAllCells(maxRows)
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()
		sheet := file.GetSheetName(0)
		if sheet == "" {
			return nil, errNoSheet
		}
		if rows, err = file.GetRows(sheet); err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, errEmpty
	}
	return rows, nil
}

// Parse maps rows to entries using the header row. Columns are matched by
// name, ignoring case, spaces and underscores; "nama" is accepted for
// full_name and "bidang" for field. Blank rows are skipped.
func Parse(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, errEmpty
	}
	nameIdx, nisnIdx, fieldIdx := -1, -1, -1
	for i, h := range rows[0] {
		switch normalizeHeader(h) {
		case "fullname", "name", "nama", "namalengkap":
			nameIdx = i
		case "nisn":
			nisnIdx = i
		case "field", "bidang":
			fieldIdx = i
		}
	}
	if nameIdx < 0 || nisnIdx < 0 {
		return nil, errMissingHeader
	}
	var out []Entry
	for i, row := range rows[1:] {
		e := Entry{
			Line:     i + 2,
			FullName: cellValue(row, nameIdx),
			NISN:     cellValue(row, nisnIdx),
			Field:    cellValue(row, fieldIdx),
		}
		if e.FullName == "" && e.NISN == "" && e.Field == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Import creates one member per entry. A failing row does not stop the rest.
func Import(ctx context.Context, c Creator, entries []Entry) (*Result, error) {
	res := &Result{Created: []*models.User{}, Failed: []Failure{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fail := func(msg string) {
			res.Failed = append(res.Failed, Failure{Line: e.Line, NISN: e.NISN, Message: msg})
		}
		if e.FullName == "" || e.NISN == "" {
			fail("full_name and nisn are required")
			continue
		}
		in := auth.NewMember{FullName: e.FullName, NISN: e.NISN}
		if e.Field != "" {
			f, err := models.ParseField(e.Field)
			if err != nil {
				fail(err.Error())
				continue
			}
			in.Field = f
		}
		u, err := c.CreateUser(ctx, in)
		if err != nil {
			fail(err.Error())
			continue
		}
		res.Created = append(res.Created, u)
	}
	return res, nil
}

// ImportFile reads, parses and imports a roster file.
func ImportFile(ctx context.Context, c Creator, r io.Reader, filename string) (*Result, error) {
	rows, err := ReadRows(r, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	entries, err := Parse(rows)
	if err != nil {
		return nil, err
	}
	return Import(ctx, c, entries)
}

func normalizeHeader(h string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

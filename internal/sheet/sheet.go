// Package sheet reads operator spreadsheets (.xlsx or .csv) into a table of
// strings and writes the upload template.
package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is the first sheet of a workbook (or a whole CSV file). Header is the
// first non-empty row; Rows holds everything after it.
type Table struct {
	Header []string
	Rows   [][]string
	// HeaderLine is the 1-based spreadsheet line of the header row.
	HeaderLine int
}

// Line returns the 1-based spreadsheet line of data row i.
func (t *Table) Line(i int) int {
	return t.HeaderLine + 1 + i
}

// Read opens path and parses it according to its extension.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ReadFrom(f, filepath.Base(path))
}

// ReadFrom parses r. The format is chosen from the extension of name; .csv
// and .txt are read as CSV, anything else as XLSX.
func ReadFrom(r io.Reader, name string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: read")
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		rows, err = parseCSV(data)
	default:
		rows, err = parseXLSX(data)
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	for i, row := range rows {
		if emptyRow(row) {
			continue
		}
		return &Table{
			Header:     trimAll(row),
			Rows:       rows[i+1:],
			HeaderLine: i + 1,
		}, nil
	}
	return nil, eris.New("sheet: no header row found")
}

func parseXLSX(data []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cellText(cell)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// cellText renders a cell the way the operator typed it. Integral numeric
// cells are printed without exponent so 14-digit identifiers survive.
func cellText(cell *xlsx.Cell) string {
	if cell == nil {
		return ""
	}
	if cell.Type() == xlsx.CellTypeNumeric {
		if f, err := strconv.ParseFloat(cell.Value, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return cell.String()
}

func parseCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "csv: read rows")
	}
	return rows, nil
}

// sniffDelimiter picks ';' when the first line has more semicolons than
// commas. Spreadsheet apps in pt-BR locales export with ';'.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

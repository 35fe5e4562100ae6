package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/sells-group/leadcheck/internal/validate"
)

// Canonical column names of the upload template.
const (
	ColumnCNPJ   = "CNPJ"
	ColumnName   = "Nome"
	ColumnPhone  = "Telefone"
	ColumnStatus = "Situação"
)

// RequiredColumns lists the columns every upload must carry.
var RequiredColumns = []string{ColumnCNPJ, ColumnName, ColumnPhone}

// aliases are compared after validate.Fold.
var aliases = map[string][]string{
	ColumnCNPJ:   {"CNPJ", "CNPJ/CPF"},
	ColumnName:   {"NOME", "RAZAO SOCIAL", "EMPRESA"},
	ColumnPhone:  {"TELEFONE", "FONE", "CELULAR"},
	ColumnStatus: {"SITUACAO", "SITUACAO RF", "SITUACAO CADASTRAL"},
}

// MissingColumnsError is returned when required columns are absent. Found
// echoes the header that was detected so the operator can fix the file.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing columns %s; found %s",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// Columns maps canonical column names to header positions.
type Columns map[string]int

// Has reports whether the column was found in the header.
func (c Columns) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// MatchColumns locates the known columns in header. Matching ignores case,
// accents, and surrounding whitespace. The first matching header cell wins.
func MatchColumns(header []string) (Columns, error) {
	cols := make(Columns)
	for i, h := range header {
		key := validate.Fold(h)
		for name, names := range aliases {
			if cols.Has(name) {
				continue
			}
			for _, a := range names {
				if key == a {
					cols[name] = i
					break
				}
			}
		}
	}

	var missing []string
	for _, name := range RequiredColumns {
		if !cols.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Found: header}
	}
	return cols, nil
}

// ExtractRows maps the table onto raw rows ready for validation. Line numbers
// are spreadsheet lines, so the first data row under a top header is line 2.
func ExtractRows(t *Table) ([]validate.RawRow, error) {
	cols, err := MatchColumns(t.Header)
	if err != nil {
		return nil, err
	}

	out := make([]validate.RawRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		rr := validate.RawRow{
			Line:  t.Line(i),
			CNPJ:  field(row, cols, ColumnCNPJ),
			Name:  field(row, cols, ColumnName),
			Phone: field(row, cols, ColumnPhone),
		}
		if cols.Has(ColumnStatus) {
			rr.Status = field(row, cols, ColumnStatus)
		}
		out = append(out, rr)
	}
	return out, nil
}

func field(row []string, cols Columns, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Parse reads a spreadsheet and validates its rows in one step. Errors are
// a *MissingColumnsError, a validate.Errors list, or a read failure.
func Parse(r io.Reader, name string, opts validate.Options) (*validate.Result, error) {
	t, err := ReadFrom(r, name)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractRows(t)
	if err != nil {
		return nil, err
	}
	return validate.ValidateRows(raw, opts)
}

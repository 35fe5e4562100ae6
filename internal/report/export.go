package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/resilience"
	"github.com/sells-group/leadcheck/internal/sheet"
	"github.com/sells-group/leadcheck/internal/validate"
)

// Export column headers, in file order.
var Header = []string{
	"CNPJ",
	"Nome",
	"Telefone",
	"Situação RF",
	"Etapa",
	"Observações",
	"Próximo contato",
	"Criado em",
	"Reconsultar",
}

// SheetName is the worksheet name of xlsx exports.
const SheetName = "Relatório"

const utf8BOM = "\ufeff"

func (r Row) record() []string {
	next := ""
	if r.NextContactDate != nil {
		next = r.NextContactDate.Format(time.DateOnly)
	}
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	retry := "não"
	if r.LookupRetryable {
		retry = "sim"
	}
	return []string{
		r.CNPJ,
		r.Name,
		r.Phone,
		r.RegistrationStatus,
		string(r.Stage),
		r.Notes,
		next,
		created,
		retry,
	}
}

// WriteCSV writes rows as UTF-8 CSV with a header line. A byte order mark
// is prepended so spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, rows []Row) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return eris.Wrap(err, "csv: write bom")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return eris.Wrapf(err, "csv: write %s", r.CNPJ)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

// WriteXLSX writes rows as a single-sheet workbook. All cells are strings
// so identifiers keep their leading zeros.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	sheet.AddStringRow(sh, Header)
	for _, r := range rows {
		sheet.AddStringRow(sh, r.record())
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write report")
	}
	return nil
}

// ReadCSV parses a file written by WriteCSV (or edited by hand with the
// same headers). Columns are matched by header name, ignoring accents and
// case; CNPJ and Situação RF are required.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[validate.Fold(strings.TrimPrefix(h, utf8BOM))] = i
	}
	for _, req := range []string{Header[0], Header[3]} {
		if _, ok := idx[validate.Fold(req)]; !ok {
			return nil, eris.Errorf("csv: missing column %q", req)
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "csv: line %d", line)
		}
		row, err := parseRecord(rec, idx)
		if err != nil {
			return nil, eris.Wrapf(err, "csv: line %d", line)
		}
		if row.CNPJ == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string, idx map[string]int) (Row, error) {
	has := func(col int) bool {
		_, ok := idx[validate.Fold(Header[col])]
		return ok
	}
	get := func(col int) string {
		i, ok := idx[validate.Fold(Header[col])]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := Row{
		Name:               get(1),
		Phone:              validate.NormalizePhone(get(2)),
		RegistrationStatus: get(3),
		Notes:              get(5),
	}
	raw := get(0)
	if raw == "" {
		return row, nil
	}
	row.CNPJ = validate.NormalizeCNPJ(raw)
	if !validate.ValidCNPJ(row.CNPJ) {
		return row, eris.Errorf("invalid identifier (%s)", raw)
	}
	row.Stage = model.CoerceStage(get(4))
	if has(8) {
		switch validate.Fold(get(8)) {
		case "SIM", "TRUE", "1":
			row.LookupRetryable = true
		}
	} else {
		row.LookupRetryable = retryableMarker(row.RegistrationStatus)
	}

	if s := get(6); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return row, eris.Wrapf(err, "invalid next contact date %q", s)
		}
		row.NextContactDate = &d
	}
	if s := get(7); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return row, eris.Wrapf(err, "invalid created date %q", s)
		}
		row.CreatedAt = t
	}
	return row, nil
}

// retryableMarker reports whether a stored status is a transient lookup
// failure marker. Files from before the Reconsultar column carry only the
// marker text.
func retryableMarker(status string) bool {
	switch {
	case status == "error: timeout", strings.Contains(status, "circuit open"):
		return true
	case strings.HasPrefix(status, "error "):
		code, err := strconv.Atoi(strings.TrimPrefix(status, "error "))
		return err == nil && resilience.IsTransientHTTPStatus(code)
	}
	return false
}

package sheet

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// TemplateSheetName is the sheet name of the upload template.
const TemplateSheetName = "Empresas"

var templateExample = []string{"11.222.333/0001-81", "Empresa Exemplo Ltda", "(11) 98765-4321"}

// WriteTemplate writes an xlsx workbook with the required header and one
// example row. Every cell is a string so identifiers keep leading zeros.
func WriteTemplate(w io.Writer) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet(TemplateSheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	AddStringRow(sh, RequiredColumns)
	AddStringRow(sh, templateExample)

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write template")
	}
	return nil
}

// AddStringRow appends a row of string cells to sh.
func AddStringRow(sh *xlsx.Sheet, values []string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

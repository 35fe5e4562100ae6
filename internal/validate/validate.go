// Package validate normalizes and validates uploaded spreadsheet rows before
// they are handed to the batch pipeline.
package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/leadcheck/internal/model"
)

// CNPJLength is the number of digits in a normalized tax identifier.
const CNPJLength = 14

// Minimum phone digit counts.
const (
	MinPhoneDigits       = 10
	MinPhoneDigitsStrict = 11
)

// RawRow is one spreadsheet row as read from the file.
type RawRow struct {
	Line   int
	CNPJ   string
	Name   string
	Phone  string
	Status string // optional Situação column
}

func (r RawRow) blank() bool {
	return strings.TrimSpace(r.CNPJ) == "" &&
		strings.TrimSpace(r.Name) == "" &&
		strings.TrimSpace(r.Phone) == ""
}

// Options tunes row validation.
type Options struct {
	// StrictPhone requires 11 phone digits instead of 10.
	StrictPhone bool
	// CheckDigits additionally verifies the CNPJ modulo-11 check digits.
	CheckDigits bool
	// StatusFilter keeps only rows whose Situação column matches one of the
	// given values (accent and case insensitive). Empty keeps every row.
	StatusFilter []string
}

// Result is the outcome of a successful validation.
type Result struct {
	Rows    []model.Row
	Skipped int // rows dropped by StatusFilter or because they were blank
}

var rowValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cnpjdv", func(fl validator.FieldLevel) bool {
		return ValidCNPJCheckDigits(fl.Field().String())
	})
	return v
}

// NormalizeCNPJ removes every non-digit character.
func NormalizeCNPJ(raw string) string {
	return digitsOnly(raw)
}

// NormalizePhone removes every non-digit character.
func NormalizePhone(raw string) string {
	return digitsOnly(raw)
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCNPJ reports whether s is made of exactly 14 ASCII digits.
func ValidCNPJ(s string) bool {
	return rowValidator.Var(s, "required,number,len=14") == nil
}

// ValidCNPJCheckDigits reports whether s is a 14-digit CNPJ whose two check
// digits are correct. Repeated-digit sequences are rejected.
func ValidCNPJCheckDigits(s string) bool {
	if len(s) != CNPJLength {
		return false
	}
	d := make([]int, CNPJLength)
	same := true
	for i, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
		d[i] = int(r - '0')
		if d[i] != d[0] {
			same = false
		}
	}
	if same {
		return false
	}
	return checkDigit(d[:12]) == d[12] && checkDigit(d[:13]) == d[13]
}

func checkDigit(digits []int) int {
	weight := len(digits) - 7
	sum := 0
	for _, n := range digits {
		sum += n * weight
		weight--
		if weight < 2 {
			weight = 9
		}
	}
	if r := sum % 11; r >= 2 {
		return 11 - r
	}
	return 0
}

// ValidateRows normalizes every row and collects all problems at once. When
// any row is invalid or any identifier repeats, nothing is accepted and the
// returned error is an Errors value listing every problem.
func ValidateRows(rows []RawRow, opts Options) (*Result, error) {
	minPhone := MinPhoneDigits
	if opts.StrictPhone {
		minPhone = MinPhoneDigitsStrict
	}
	cnpjTag := "required,number,len=14"
	if opts.CheckDigits {
		cnpjTag += ",cnpjdv"
	}
	phoneTag := "required,number,min=" + strconv.Itoa(minPhone)

	filter := make(map[string]bool, len(opts.StatusFilter))
	for _, s := range opts.StatusFilter {
		filter[Fold(s)] = true
	}

	res := &Result{}
	var errs Errors
	seen := make(map[string][]int)

	for _, raw := range rows {
		if raw.blank() {
			res.Skipped++
			continue
		}
		if len(filter) > 0 && !filter[Fold(raw.Status)] {
			res.Skipped++
			continue
		}

		cnpj := NormalizeCNPJ(raw.CNPJ)
		phone := NormalizePhone(raw.Phone)

		if err := rowValidator.Var(cnpj, cnpjTag); err != nil {
			errs = append(errs, RowError{Rows: []int{raw.Line}, Field: FieldCNPJ, Value: raw.CNPJ, Message: "invalid identifier"})
		}
		if err := rowValidator.Var(phone, phoneTag); err != nil {
			errs = append(errs, RowError{Rows: []int{raw.Line}, Field: FieldPhone, Value: raw.Phone, Message: "invalid phone"})
		}

		if cnpj != "" {
			seen[cnpj] = append(seen[cnpj], raw.Line)
		}

		res.Rows = append(res.Rows, model.Row{
			Line:  raw.Line,
			CNPJ:  cnpj,
			Name:  strings.TrimSpace(raw.Name),
			Phone: phone,
		})
	}

	errs = append(errs, duplicates(seen)...)
	if len(errs) > 0 {
		errs.sort()
		return nil, errs
	}
	return res, nil
}

func duplicates(seen map[string][]int) Errors {
	var errs Errors
	for cnpj, lines := range seen {
		if len(lines) < 2 {
			continue
		}
		errs = append(errs, RowError{Rows: lines, Field: FieldCNPJ, Value: cnpj, Message: "duplicate identifier"})
	}
	return errs
}

// Field names used in RowError.
const (
	FieldCNPJ  = "cnpj"
	FieldPhone = "phone"
)

// RowError describes one problem found in the uploaded rows.
type RowError struct {
	Rows    []int  `json:"rows"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if len(e.Rows) == 1 {
		return fmt.Sprintf("row %d: %s (%s)", e.Rows[0], e.Message, e.Value)
	}
	lines := make([]string, len(e.Rows))
	for i, n := range e.Rows {
		lines[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("rows %s: %s (%s)", strings.Join(lines, ", "), e.Message, e.Value)
}

// Errors is the full list of validation problems of one upload.
type Errors []RowError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, re := range e {
		msgs[i] = re.Error()
	}
	return strings.Join(msgs, "\n")
}

// Duplicates returns the duplicated identifiers reported in e.
func (e Errors) Duplicates() []string {
	var out []string
	for _, re := range e {
		if re.Message == "duplicate identifier" {
			out = append(out, re.Value)
		}
	}
	return out
}

func (e Errors) sort() {
	sort.SliceStable(e, func(i, j int) bool {
		if e[i].Rows[0] != e[j].Rows[0] {
			return e[i].Rows[0] < e[j].Rows[0]
		}
		return e[i].Field < e[j].Field
	})
}

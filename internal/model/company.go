// Package model holds the domain types shared by the validation pipeline,
// the store, and the board/report projectors.
package model

import (
	"time"
)

// StatusNotFound is recorded when the registry answers successfully but the
// response carries no registration status.
const StatusNotFound = "NAO ENCONTRADO"

// Known registration statuses returned by the registry.
const (
	StatusActive     = "ATIVA"
	StatusSuspended  = "SUSPENSA"
	StatusInapt      = "INAPTA"
	StatusWrittenOff = "BAIXADA"
	StatusNull       = "NULA"
)

// Company is a persisted registry lookup result together with its
// lead-tracking fields.
type Company struct {
	CNPJ               string `json:"cnpj"`
	Name               string `json:"name"`
	Phone              string `json:"phone"`
	RegistrationStatus string `json:"registration_status"`
	// LookupRetryable marks a RegistrationStatus that is a transient lookup
	// failure marker rather than a final registry answer.
	LookupRetryable bool       `json:"lookup_retryable,omitempty"`
	Stage           Stage      `json:"stage"`
	Notes           string     `json:"notes,omitempty"`
	NextContactDate *time.Time `json:"next_contact_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EffectiveStage returns the stage used for display. Unknown stored values
// resolve to the default stage.
func (c Company) EffectiveStage() Stage {
	return CoerceStage(string(c.Stage))
}

// Row is one validated, normalized spreadsheet row ready for the pipeline.
type Row struct {
	Line  int    `json:"line"` // spreadsheet row number, header is line 1
	CNPJ  string `json:"cnpj"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Stage is the operator-assigned relationship stage of a company.
type Stage string

// Stages in board order. StageNew is the default.
const (
	StageNew         Stage = "novo"
	StageContacted   Stage = "contatado"
	StageProposal    Stage = "proposta"
	StageNegotiation Stage = "negociacao"
	StageWon         Stage = "fechado"
	StageLost        Stage = "perdido"
)

// DefaultStage is assigned to new records and to unknown stored values.
const DefaultStage = StageNew

var stageOrder = []Stage{
	StageNew,
	StageContacted,
	StageProposal,
	StageNegotiation,
	StageWon,
	StageLost,
}

var stageLabels = map[Stage]string{
	StageNew:         "Novo",
	StageContacted:   "Contatado",
	StageProposal:    "Proposta enviada",
	StageNegotiation: "Em negociação",
	StageWon:         "Fechado",
	StageLost:        "Perdido",
}

// Stages returns the fixed stage set in board order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s belongs to the fixed stage set.
func (s Stage) Valid() bool {
	_, ok := stageLabels[s]
	return ok
}

// Label returns the display label of the stage.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return stageLabels[DefaultStage]
}

// Index returns the board position of the stage, or -1 when unknown.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage validates a user-supplied stage. Matching is case-insensitive.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", eris.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// CoerceStage maps a stored value onto the stage set, falling back to the
// default stage for anything unrecognized.
func CoerceStage(raw string) Stage {
	s, err := ParseStage(raw)
	if err != nil {
		return DefaultStage
	}
	return s
}

// Package board projects stored companies onto the lead status board, one
// column per stage, and applies the operator's stage and notes edits.
package board

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/store"
)

// Store is what the board needs from the result store.
type Store interface {
	List(ctx context.Context, f store.Filter) ([]model.Company, error)
	QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error)
	UpdateTracking(ctx context.Context, cnpj string, u store.TrackingUpdate) error
}

// Card is one company on the board.
type Card struct {
	CNPJ               string      `json:"cnpj" yaml:"cnpj"`
	Name               string      `json:"name" yaml:"name"`
	Phone              string      `json:"phone" yaml:"phone"`
	RegistrationStatus string      `json:"registration_status" yaml:"registration_status"`
	Stage              model.Stage `json:"stage" yaml:"stage"`
	// StoredStage is set only when the stored value is not a known stage.
	StoredStage     string     `json:"stored_stage,omitempty" yaml:"stored_stage,omitempty"`
	Notes           string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	NextContactDate *time.Time `json:"next_contact_date,omitempty" yaml:"next_contact_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
}

// Column holds the cards of one stage.
type Column struct {
	Stage model.Stage `json:"stage" yaml:"stage"`
	Label string      `json:"label" yaml:"label"`
	Cards []Card      `json:"cards" yaml:"cards"`
}

// Board is the full projection, columns in stage order.
type Board struct {
	Columns []Column `json:"columns" yaml:"columns"`
	Total   int      `json:"total" yaml:"total"`
}

// Column returns the column of stage s, or nil.
func (b *Board) Column(s model.Stage) *Column {
	for i := range b.Columns {
		if b.Columns[i].Stage == s {
			return &b.Columns[i]
		}
	}
	return nil
}

// Projector builds boards from a store.
type Projector struct {
	store Store
}

// New returns a Projector reading from st.
func New(st Store) *Projector {
	return &Projector{store: st}
}

// Project builds the board. Companies with an unknown stored stage are
// shown in the default column; the stored value is not rewritten.
func (p *Projector) Project(ctx context.Context) (*Board, error) {
	companies, err := p.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, eris.Wrap(err, "board: list companies")
	}
	return Build(companies), nil
}

// ProjectStage builds the single column of stage s.
func (p *Projector) ProjectStage(ctx context.Context, s model.Stage) (*Column, error) {
	if !s.Valid() {
		return nil, eris.Errorf("unknown stage %q", s)
	}
	companies, err := p.store.QueryByStage(ctx, s)
	if err != nil {
		return nil, eris.Wrapf(err, "board: list stage %s", s)
	}
	col := *Build(companies).Column(s)
	return &col, nil
}

// Build groups companies into stage columns.
func Build(companies []model.Company) *Board {
	stages := model.Stages()
	b := &Board{Columns: make([]Column, len(stages))}
	for i, s := range stages {
		b.Columns[i] = Column{Stage: s, Label: s.Label(), Cards: []Card{}}
	}
	for _, c := range companies {
		stage := c.EffectiveStage()
		card := Card{
			CNPJ:               c.CNPJ,
			Name:               c.Name,
			Phone:              c.Phone,
			RegistrationStatus: c.RegistrationStatus,
			Stage:              stage,
			Notes:              c.Notes,
			NextContactDate:    c.NextContactDate,
			CreatedAt:          c.CreatedAt,
		}
		if stage != c.Stage {
			card.StoredStage = string(c.Stage)
		}
		col := &b.Columns[stage.Index()]
		col.Cards = append(col.Cards, card)
		b.Total++
	}
	return b
}

// Move changes the stage of one company and returns the refreshed board.
func (p *Projector) Move(ctx context.Context, cnpj, stage string) (*Board, error) {
	s, err := model.ParseStage(stage)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateTracking(ctx, cnpj, store.TrackingUpdate{Stage: &s}); err != nil {
		return nil, eris.Wrapf(err, "board: move %s", cnpj)
	}
	zap.L().Info("board: stage changed", zap.String("cnpj", cnpj), zap.String("stage", string(s)))
	return p.Project(ctx)
}

// SaveNotes replaces the notes and next contact date of one company. A nil
// nextContact clears the date.
func (p *Projector) SaveNotes(ctx context.Context, cnpj, notes string, nextContact *time.Time) (*Board, error) {
	u := store.TrackingUpdate{Notes: &notes}
	if nextContact != nil {
		d := *nextContact
		u.NextContactDate = &d
	} else {
		u.ClearNextContact = true
	}
	if err := p.store.UpdateTracking(ctx, cnpj, u); err != nil {
		return nil, eris.Wrapf(err, "board: save notes %s", cnpj)
	}
	zap.L().Info("board: notes saved", zap.String("cnpj", cnpj), zap.Bool("next_contact", nextContact != nil))
	return p.Project(ctx)
}

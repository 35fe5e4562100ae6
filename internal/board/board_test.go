package board

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) List(ctx context.Context, f store.Filter) ([]model.Company, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Company), args.Error(1)
}

func (m *mockStore) QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error) {
	args := m.Called(ctx, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Company), args.Error(1)
}

func (m *mockStore) UpdateTracking(ctx context.Context, cnpj string, u store.TrackingUpdate) error {
	args := m.Called(ctx, cnpj, u)
	return args.Error(0)
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seed(t *testing.T, s *store.SQLiteStore, companies ...model.Company) {
	t.Helper()
	for _, c := range companies {
		_, err := s.Upsert(context.Background(), c)
		require.NoError(t, err)
	}
}

func TestBuild_ColumnsInStageOrder(t *testing.T) {
	t.Parallel()

	b := Build(nil)
	require.Len(t, b.Columns, len(model.Stages()))
	for i, s := range model.Stages() {
		assert.Equal(t, s, b.Columns[i].Stage)
		assert.Equal(t, s.Label(), b.Columns[i].Label)
		assert.NotNil(t, b.Columns[i].Cards)
	}
	assert.Zero(t, b.Total)
}

func TestBuild_UnknownStageGoesToDefaultColumn(t *testing.T) {
	t.Parallel()

	b := Build([]model.Company{
		{CNPJ: "11222333000181", Stage: "lead_quente"},
		{CNPJ: "11444777000161", Stage: model.StageWon},
		{CNPJ: "22333444000155", Stage: model.StageNew},
	})

	assert.Equal(t, 3, b.Total)
	col := b.Column(model.StageNew)
	require.NotNil(t, col)
	require.Len(t, col.Cards, 2)
	assert.Equal(t, "lead_quente", col.Cards[0].StoredStage)
	assert.Equal(t, model.StageNew, col.Cards[0].Stage)
	assert.Empty(t, col.Cards[1].StoredStage)
	assert.Len(t, b.Column(model.StageWon).Cards, 1)
	assert.Nil(t, b.Column("nope"))
}

func TestProject_DoesNotRewriteUnknownStage(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	seed(t, s, model.Company{CNPJ: "11222333000181", Name: "Acme", RegistrationStatus: "ATIVA", Stage: "arquivado"})

	b, err := New(s).Project(ctx)
	require.NoError(t, err)
	assert.Len(t, b.Column(model.StageNew).Cards, 1)

	got, err := s.Lookup(ctx, "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, model.Stage("arquivado"), got.Stage)
}

func TestMove_ChangesOnlyStage(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	seed(t, s, model.Company{CNPJ: "11222333000181", Name: "Acme", Phone: "11987654321", RegistrationStatus: "ATIVA"})

	b, err := New(s).Move(ctx, "11222333000181", "Proposta")
	require.NoError(t, err)
	require.Len(t, b.Column(model.StageProposal).Cards, 1)
	assert.Empty(t, b.Column(model.StageNew).Cards)

	got, err := s.Lookup(ctx, "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, model.StageProposal, got.Stage)
	assert.Equal(t, "ATIVA", got.RegistrationStatus)
	assert.Equal(t, "Acme", got.Name)
}

func TestMove_RejectsUnknownStage(t *testing.T) {
	t.Parallel()

	st := new(mockStore)
	_, err := New(st).Move(context.Background(), "11222333000181", "arquivado")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
	st.AssertNotCalled(t, "UpdateTracking", mock.Anything, mock.Anything, mock.Anything)
}

func TestMove_UnknownCNPJ(t *testing.T) {
	s := newSQLite(t)

	_, err := New(s).Move(context.Background(), "99999999000199", "contatado")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveNotes_SetsAndClearsNextContact(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	seed(t, s, model.Company{CNPJ: "11222333000181", Name: "Acme", RegistrationStatus: "ATIVA", Stage: model.StageContacted})
	p := New(s)

	next := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	b, err := p.SaveNotes(ctx, "11222333000181", "ligar de manhã", &next)
	require.NoError(t, err)

	card := b.Column(model.StageContacted).Cards[0]
	assert.Equal(t, "ligar de manhã", card.Notes)
	require.NotNil(t, card.NextContactDate)
	assert.Equal(t, "2026-04-10", card.NextContactDate.Format(time.DateOnly))

	b, err = p.SaveNotes(ctx, "11222333000181", "", nil)
	require.NoError(t, err)
	card = b.Column(model.StageContacted).Cards[0]
	assert.Empty(t, card.Notes)
	assert.Nil(t, card.NextContactDate)

	got, err := s.Lookup(ctx, "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "ATIVA", got.RegistrationStatus, "tracking edits leave the lookup result alone")
}

func TestSaveNotes_SendsClearWhenDateMissing(t *testing.T) {
	t.Parallel()

	st := new(mockStore)
	st.On("UpdateTracking", mock.Anything, "11222333000181", mock.MatchedBy(func(u store.TrackingUpdate) bool {
		return u.Notes != nil && *u.Notes == "x" && u.NextContactDate == nil && u.ClearNextContact && u.Stage == nil
	})).Return(nil)
	st.On("List", mock.Anything, store.Filter{}).Return([]model.Company{}, nil)

	_, err := New(st).SaveNotes(context.Background(), "11222333000181", "x", nil)
	require.NoError(t, err)
	st.AssertExpectations(t)
}

func TestProject_ListError(t *testing.T) {
	t.Parallel()

	st := new(mockStore)
	st.On("List", mock.Anything, store.Filter{}).Return(nil, eris.New("disk I/O error"))

	_, err := New(st).Project(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestProjectStage(t *testing.T) {
	t.Parallel()

	s := newSQLite(t)
	seed(t, s,
		model.Company{CNPJ: "11222333000181", Name: "Acme", Stage: model.StageProposal},
		model.Company{CNPJ: "11444777000161", Name: "Beta", Stage: "lead_quente"},
		model.Company{CNPJ: "22333444000155", Name: "Gama"},
	)

	col, err := New(s).ProjectStage(context.Background(), model.StageNew)
	require.NoError(t, err)
	assert.Equal(t, model.StageNew, col.Stage)
	require.Len(t, col.Cards, 2, "unknown stored stages land in the default column")

	col, err = New(s).ProjectStage(context.Background(), model.StageProposal)
	require.NoError(t, err)
	require.Len(t, col.Cards, 1)
	assert.Equal(t, "Acme", col.Cards[0].Name)
}

func TestProjectStage_Errors(t *testing.T) {
	t.Parallel()

	st := new(mockStore)
	_, err := New(st).ProjectStage(context.Background(), "arquivado")
	require.Error(t, err)
	st.AssertNotCalled(t, "QueryByStage", mock.Anything, mock.Anything)

	st.On("QueryByStage", mock.Anything, model.StageWon).Return(nil, eris.New("disk I/O error"))
	_, err = New(st).ProjectStage(context.Background(), model.StageWon)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

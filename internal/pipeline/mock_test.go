package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/pkg/registry"
)

// --- Registry Mock ---

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Lookup(ctx context.Context, cnpj string) registry.Result {
	args := m.Called(ctx, cnpj)
	return args.Get(0).(registry.Result)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Lookup(ctx context.Context, cnpj string) (*model.Company, error) {
	args := m.Called(ctx, cnpj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

func (m *mockStore) Upsert(ctx context.Context, c model.Company) (store.UpsertOutcome, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(store.UpsertOutcome), args.Error(1)
}

// --- In-memory store ---

// memStore mimics the upsert rules of the real backends.
type memStore struct {
	mu        sync.Mutex
	companies map[string]model.Company
	sessions  []*model.BatchSession
	failOn    string
}

func newMemStore() *memStore {
	return &memStore{companies: make(map[string]model.Company)}
}

func (s *memStore) Lookup(_ context.Context, cnpj string) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cnpj == s.failOn {
		return nil, eris.New("database is locked")
	}
	c, ok := s.companies[cnpj]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memStore) Upsert(_ context.Context, c model.Company) (store.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.companies[c.CNPJ]
	if !ok {
		s.companies[c.CNPJ] = c
		return store.Inserted, nil
	}
	if !prev.LookupRetryable || c.RegistrationStatus == "" {
		return store.Skipped, nil
	}
	prev.RegistrationStatus = c.RegistrationStatus
	prev.LookupRetryable = c.LookupRetryable
	s.companies[c.CNPJ] = prev
	return store.Refreshed, nil
}

func (s *memStore) SaveSession(_ context.Context, sess *model.BatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.sessions {
		if have.ID == sess.ID {
			s.sessions[i] = sess.Clone()
			return nil
		}
	}
	s.sessions = append(s.sessions, sess.Clone())
	return nil
}

func (s *memStore) LoadSession(_ context.Context) (*model.BatchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil, nil
	}
	return s.sessions[len(s.sessions)-1].Clone(), nil
}

func (s *memStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.sessions {
		if have.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) get(cnpj string) (model.Company, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[cnpj]
	return c, ok
}

// --- Fake registry ---

// fakeRegistry answers from a fixed table and counts calls.
type fakeRegistry struct {
	mu      sync.Mutex
	answers map[string]registry.Result
	calls   map[string]int
}

func newFakeRegistry(answers map[string]registry.Result) *fakeRegistry {
	return &fakeRegistry{answers: answers, calls: make(map[string]int)}
}

func (r *fakeRegistry) Lookup(_ context.Context, cnpj string) registry.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[cnpj]++
	if res, ok := r.answers[cnpj]; ok {
		res.CNPJ = cnpj
		return res
	}
	return registry.Result{CNPJ: cnpj, Status: model.StatusActive}
}

func (r *fakeRegistry) set(cnpj string, res registry.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[cnpj] = res
}

func (r *fakeRegistry) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// Package store holds the prescription state a consumer renders from and the
// operations that change it.
package store

import (
	"context"
	"sync"

	"github.com/jwalitptl/rx-portal/internal/history"
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	"github.com/jwalitptl/rx-portal/pkg/logger"
)

type Option func(*Store)

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFilters sets the filters the first fetch uses.
func WithFilters(f model.PrescriptionListFilters) Option {
	return func(s *Store) {
		s.state.Filters = f
	}
}

// Store is safe for concurrent use. Each operation applies its field updates
// in one step and notifies subscribers after the lock is released.
type Store struct {
	repo   repository.PrescriptionRepository
	logger *logger.Logger

	mu       sync.Mutex
	state    State
	inFlight int
	listSeq  uint64
	itemSeq  uint64

	subMu   sync.Mutex
	subs    map[uint64]func(State)
	nextSub uint64
}

func New(repo repository.PrescriptionRepository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: logger.Nop(),
		subs:   make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// History derives the history view from the current prescriptions.
func (s *Store) History(policy history.Policy) []model.Prescription {
	return history.Derive(s.State().Prescriptions, policy)
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap.clone())
	}
}

// update runs fn under the state lock and notifies subscribers afterwards.
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// begin marks an operation in flight and clears the error.
func (s *Store) begin(st *State) {
	s.inFlight++
	st.Loading = true
	st.Error = nil
}

// end must be called under the lock once per begin.
func (s *Store) end(st *State) {
	s.inFlight--
	st.Loading = s.inFlight > 0
}

// FetchPrescriptions loads the list for the current filters. A result that
// arrives after a newer list request was issued is dropped.
func (s *Store) FetchPrescriptions(ctx context.Context) error {
	var (
		seq     uint64
		filters model.PrescriptionListFilters
	)
	s.update(func(st *State) {
		s.listSeq++
		seq = s.listSeq
		filters = st.Filters
		s.begin(st)
	})

	items, err := s.repo.GetAll(ctx, &filters)

	var opErr *OperationError
	if err != nil {
		opErr = newOperationError(OpFetchPrescriptions, err)
		s.logger.WithContext(ctx).Error(err, "fetch prescriptions failed", "search", filters.Search, "status", string(filters.Status))
	}

	s.update(func(st *State) {
		defer s.end(st)
		if seq != s.listSeq {
			s.logger.Debug("dropping stale prescription list", "seq", seq, "latest", s.listSeq)
			return
		}
		if opErr != nil {
			st.Error = opErr
			return
		}
		if items == nil {
			items = []model.Prescription{}
		}
		st.Prescriptions = items
	})

	if opErr != nil {
		return opErr
	}
	return nil
}

// FetchPrescriptionByID loads one prescription into SelectedPrescription. An
// unknown id clears the selection without setting an error.
func (s *Store) FetchPrescriptionByID(ctx context.Context, id string) error {
	var seq uint64
	s.update(func(st *State) {
		s.itemSeq++
		seq = s.itemSeq
		s.begin(st)
	})

	p, err := s.repo.GetByID(ctx, id)

	var opErr *OperationError
	if err != nil {
		opErr = newOperationError(OpFetchPrescription, err)
		s.logger.WithContext(ctx).Error(err, "fetch prescription failed", "prescription_id", id)
	}

	s.update(func(st *State) {
		defer s.end(st)
		if seq != s.itemSeq {
			s.logger.Debug("dropping stale prescription", "prescription_id", id, "seq", seq, "latest", s.itemSeq)
			return
		}
		if opErr != nil {
			st.Error = opErr
			return
		}
		st.SelectedPrescription = p
	})

	if opErr != nil {
		return opErr
	}
	return nil
}

// RequestRefill asks the repository to refill id and then refreshes the list.
// Loading stays true until the refresh completes. SelectedPrescription is not
// touched.
func (s *Store) RequestRefill(ctx context.Context, id string) error {
	s.update(s.begin)

	if err := s.repo.RequestRefill(ctx, id); err != nil {
		opErr := newOperationError(OpRequestRefill, err)
		s.logger.WithContext(ctx).Error(err, "refill request failed", "prescription_id", id, "code", opErr.Code.String())
		s.update(func(st *State) {
			st.Error = opErr
			s.end(st)
		})
		return opErr
	}

	s.logger.WithContext(ctx).Info("refill requested", "prescription_id", id)
	err := s.FetchPrescriptions(ctx)
	s.update(s.end)
	return err
}

// SetFilters replaces the filters wholesale and refetches the list.
func (s *Store) SetFilters(ctx context.Context, filters model.PrescriptionListFilters) error {
	s.update(func(st *State) {
		st.Filters = filters
	})
	return s.FetchPrescriptions(ctx)
}

// ClearError clears the error and nothing else.
func (s *Store) ClearError() {
	s.update(func(st *State) {
		st.Error = nil
	})
}

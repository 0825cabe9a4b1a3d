package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-portal/internal/history"
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository/memory"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetAll(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error) {
	args := m.Called(ctx, filters)
	items, _ := args.Get(0).([]model.Prescription)
	return items, args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*model.Prescription, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Prescription)
	return p, args.Error(1)
}

func (m *MockRepository) RequestRefill(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var refillTime = time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC)

func newMemoryStore(t *testing.T) (*Store, func(context.Context, *model.PrescriptionListFilters) []model.Prescription) {
	t.Helper()
	seed, err := memory.DefaultSeed()
	require.NoError(t, err)
	repo := memory.NewPrescriptionRepository(seed, memory.WithClock(func() time.Time { return refillTime }))
	getAll := func(ctx context.Context, f *model.PrescriptionListFilters) []model.Prescription {
		items, err := repo.GetAll(ctx, f)
		require.NoError(t, err)
		return items
	}
	return New(repo), getAll
}

func find(items []model.Prescription, id string) *model.Prescription {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func TestSetFiltersReplacesFiltersAndList(t *testing.T) {
	ctx := context.Background()
	s, getAll := newMemoryStore(t)

	cases := []model.PrescriptionListFilters{
		{},
		{Search: "sarah"},
		{Status: model.PrescriptionStatusActive},
		{Search: "chen", Status: model.PrescriptionStatusActive},
		{Search: "nothing matches this"},
	}
	for _, f := range cases {
		require.NoError(t, s.SetFilters(ctx, f))
		st := s.State()
		assert.Equal(t, f, st.Filters)
		assert.Equal(t, getAll(ctx, &f), st.Prescriptions)
		assert.False(t, st.Loading)
		assert.Nil(t, st.Error)
	}

	require.NoError(t, s.SetFilters(ctx, model.PrescriptionListFilters{Search: "nothing matches this"}))
	assert.NotNil(t, s.State().Prescriptions)
	assert.Empty(t, s.State().Prescriptions)
}

func TestRequestRefillTransitionsAndRefreshes(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptions(ctx))

	before := find(s.State().Prescriptions, "1")
	require.NotNil(t, before)
	require.Equal(t, model.PrescriptionStatusActive, before.Status)

	require.NoError(t, s.RequestRefill(ctx, "1"))

	st := s.State()
	after := find(st.Prescriptions, "1")
	require.NotNil(t, after)
	assert.Equal(t, model.PrescriptionStatusRefillRequested, after.Status)
	assert.Equal(t, refillTime, after.UpdatedAt)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.False(t, st.Loading)
	assert.Nil(t, st.Error)
}

func TestRequestRefillDoesNotTouchSelection(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptionByID(ctx, "2"))
	require.NoError(t, s.RequestRefill(ctx, "2"))

	st := s.State()
	require.NotNil(t, st.SelectedPrescription)
	assert.Equal(t, model.PrescriptionStatusActive, st.SelectedPrescription.Status)

	require.NoError(t, s.FetchPrescriptionByID(ctx, "2"))
	assert.Equal(t, model.PrescriptionStatusRefillRequested, s.State().SelectedPrescription.Status)
}

func TestRequestRefillOnAlreadyRequestedIsRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptions(ctx))
	listBefore := s.State().Prescriptions

	err := s.RequestRefill(ctx, "3")
	require.Error(t, err)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpRequestRefill, opErr.Op)
	assert.Equal(t, apperrors.ErrConflict, opErr.Code)
	assert.ErrorIs(t, err, model.ErrRefillNotAllowed)

	st := s.State()
	assert.Equal(t, "Failed to request refill", st.ErrorMessage())
	assert.Equal(t, apperrors.ErrConflict, st.Error.Code)
	assert.False(t, st.Loading)
	assert.Equal(t, listBefore, st.Prescriptions)
}

func TestRequestRefillUnknownID(t *testing.T) {
	s, _ := newMemoryStore(t)

	err := s.RequestRefill(context.Background(), "999")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, apperrors.ErrNotFound, opErr.Code)
	assert.Equal(t, MsgRequestRefill, s.State().ErrorMessage())
}

func TestFetchPrescriptionByIDNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)

	require.NoError(t, s.FetchPrescriptionByID(ctx, "1"))
	require.NotNil(t, s.State().SelectedPrescription)

	require.NoError(t, s.FetchPrescriptionByID(ctx, "nonexistent"))
	st := s.State()
	assert.Nil(t, st.SelectedPrescription)
	assert.Nil(t, st.Error)
	assert.False(t, st.Loading)
}

func TestFetchPrescriptionsFailureKeepsList(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	seeded := []model.Prescription{{ID: "1", Status: model.PrescriptionStatusActive}}
	cause := apperrors.Unavailable("backend down", errors.New("dial tcp: refused"))

	repo.On("GetAll", mock.Anything, mock.Anything).Return(seeded, nil).Once()
	repo.On("GetAll", mock.Anything, mock.Anything).Return(nil, cause).Once()

	s := New(repo)
	require.NoError(t, s.FetchPrescriptions(ctx))

	err := s.FetchPrescriptions(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	st := s.State()
	assert.Equal(t, seeded, st.Prescriptions)
	assert.Equal(t, "Failed to fetch prescriptions", st.ErrorMessage())
	assert.Equal(t, apperrors.ErrUnavailable, st.Error.Code)
	assert.Equal(t, OpFetchPrescriptions, st.Error.Op)
	assert.False(t, st.Loading)
	repo.AssertExpectations(t)
}

func TestFetchPrescriptionByIDFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetByID", mock.Anything, "1").Return(nil, errors.New("boom"))

	s := New(repo)
	err := s.FetchPrescriptionByID(context.Background(), "1")
	require.Error(t, err)

	st := s.State()
	assert.Equal(t, "Failed to fetch prescription", st.ErrorMessage())
	assert.Equal(t, apperrors.ErrInternal, st.Error.Code)
	assert.False(t, st.Loading)
}

func TestSuccessClearsPreviousError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetAll", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	repo.On("GetAll", mock.Anything, mock.Anything).Return([]model.Prescription{}, nil).Once()

	s := New(repo)
	require.Error(t, s.FetchPrescriptions(context.Background()))
	require.NotNil(t, s.State().Error)

	require.NoError(t, s.FetchPrescriptions(context.Background()))
	assert.Nil(t, s.State().Error)
}

func TestClearErrorOnlyClearsError(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.SetFilters(ctx, model.PrescriptionListFilters{Search: "met"}))
	require.NoError(t, s.FetchPrescriptionByID(ctx, "2"))
	require.Error(t, s.RequestRefill(ctx, "3"))

	before := s.State()
	s.ClearError()
	after := s.State()

	assert.Nil(t, after.Error)
	assert.Equal(t, before.Prescriptions, after.Prescriptions)
	assert.Equal(t, before.SelectedPrescription, after.SelectedPrescription)
	assert.Equal(t, before.Filters, after.Filters)
	assert.Equal(t, before.Loading, after.Loading)
}

func TestRefillThenRefetchFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("RequestRefill", mock.Anything, "1").Return(nil)
	repo.On("GetAll", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	s := New(repo)
	err := s.RequestRefill(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, MsgFetchPrescriptions, s.State().ErrorMessage())
	assert.False(t, s.State().Loading)
}

func TestStaleListResultIsDropped(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)

	slow := []model.Prescription{{ID: "slow"}}
	fast := []model.Prescription{{ID: "fast"}}
	started := make(chan struct{})
	release := make(chan struct{})

	repo.On("GetAll", mock.Anything, mock.MatchedBy(func(f *model.PrescriptionListFilters) bool {
		return f.Search == "old"
	})).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(slow, nil)
	repo.On("GetAll", mock.Anything, mock.MatchedBy(func(f *model.PrescriptionListFilters) bool {
		return f.Search == "new"
	})).Return(fast, nil)

	s := New(repo, WithFilters(model.PrescriptionListFilters{Search: "old"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.FetchPrescriptions(ctx))
	}()
	<-started

	require.NoError(t, s.SetFilters(ctx, model.PrescriptionListFilters{Search: "new"}))
	assert.Equal(t, fast, s.State().Prescriptions)
	// the older request is still outstanding
	assert.True(t, s.State().Loading)

	close(release)
	wg.Wait()

	st := s.State()
	assert.Equal(t, fast, st.Prescriptions)
	assert.False(t, st.Loading)
	assert.Equal(t, "new", st.Filters.Search)
}

func TestStaleByIDResultIsDropped(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	started := make(chan struct{})
	release := make(chan struct{})

	repo.On("GetByID", mock.Anything, "1").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&model.Prescription{ID: "1"}, nil)
	repo.On("GetByID", mock.Anything, "2").Return(&model.Prescription{ID: "2"}, nil)

	s := New(repo)
	done := make(chan error)
	go func() { done <- s.FetchPrescriptionByID(ctx, "1") }()
	<-started

	require.NoError(t, s.FetchPrescriptionByID(ctx, "2"))
	close(release)
	require.NoError(t, <-done)

	require.NotNil(t, s.State().SelectedPrescription)
	assert.Equal(t, "2", s.State().SelectedPrescription.ID)
}

func TestSubscribersSeeLoadingTransitions(t *testing.T) {
	s, _ := newMemoryStore(t)

	var mu sync.Mutex
	var loading []bool
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		loading = append(loading, st.Loading)
		mu.Unlock()
	})

	require.NoError(t, s.FetchPrescriptions(context.Background()))
	assert.Equal(t, []bool{true, false}, loading)

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.FetchPrescriptions(context.Background()))
	assert.Len(t, loading, 2)
}

func TestRequestRefillHoldsLoadingUntilRefreshed(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptions(ctx))

	var mu sync.Mutex
	var snapshots []State
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		snapshots = append(snapshots, st)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, s.RequestRefill(ctx, "1"))

	mu.Lock()
	defer mu.Unlock()
	loading := make([]bool, 0, len(snapshots))
	for _, st := range snapshots {
		loading = append(loading, st.Loading)
	}
	assert.Equal(t, []bool{true, true, true, false}, loading)

	last := snapshots[len(snapshots)-1]
	refilled := find(last.Prescriptions, "1")
	require.NotNil(t, refilled)
	assert.Equal(t, model.PrescriptionStatusRefillRequested, refilled.Status)
	assert.Nil(t, last.Error)
}

func TestStateIsACopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptions(ctx))
	require.NoError(t, s.FetchPrescriptionByID(ctx, "1"))

	st := s.State()
	st.Prescriptions[0].MedicationName = "changed"
	st.SelectedPrescription.Dosage = "changed"

	fresh := s.State()
	assert.NotEqual(t, "changed", fresh.Prescriptions[0].MedicationName)
	assert.NotEqual(t, "changed", fresh.SelectedPrescription.Dosage)
}

func TestHistoryUsesCurrentList(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)
	require.NoError(t, s.FetchPrescriptions(ctx))

	got := s.History(history.NoPadding)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ID)
	assert.Equal(t, "4", got[1].ID)

	padded := s.History(history.DemoPadding())
	assert.Len(t, padded, history.DemoSize)
	assert.Equal(t, "h0", padded[0].ID)
}

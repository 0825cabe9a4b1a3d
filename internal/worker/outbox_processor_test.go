package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/pkg/logger"
	"github.com/jwalitptl/rx-portal/pkg/messaging"
	"github.com/jwalitptl/rx-portal/pkg/metrics"
)

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int, staleBefore time.Time) ([]*model.OutboxEvent, error) {
	args := m.Called(ctx, limit, staleBefore)
	events, _ := args.Get(0).([]*model.OutboxEvent)
	return events, args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	return m.Called(ctx, id, errMsg, retryAt).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func (m *MockOutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type fakePublisher struct {
	fail     map[string]error
	messages []messaging.Message
	channels []string
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	msg := message.(messaging.Message)
	if err := f.fail[msg.ID]; err != nil {
		return err
	}
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, msg)
	return nil
}

var testConfig = OutboxProcessorConfig{
	BatchSize:     10,
	PollInterval:  time.Second,
	RetryAttempts: 3,
	RetryDelay:    time.Second,
	Lease:         time.Minute,
}

// cancellingPublisher simulates a shutdown that lands while a publish is in
// flight.
type cancellingPublisher struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingPublisher) Publish(ctx context.Context, _ string, _ interface{}) error {
	c.calls++
	c.cancel()
	return ctx.Err()
}

func refillEvent(retries int) *model.OutboxEvent {
	payload, _ := json.Marshal(model.RefillRequestedEvent{PrescriptionID: "1", MedicationName: "Lisinopril"})
	return &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventRefillRequested,
		Payload:    payload,
		Status:     model.OutboxStatusProcessing,
		RetryCount: retries,
	}
}

func newProcessor(t *testing.T, repo *MockOutboxRepository, pub *fakePublisher) (*OutboxProcessor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New("test")
	p, err := NewOutboxProcessor(repo, pub, testConfig, logger.Nop(), m)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC) }
	return p, m
}

func TestProcessOncePublishesAndMarks(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := &fakePublisher{}
	p, m := newProcessor(t, repo, pub)

	evt := refillEvent(0)
	repo.On("ClaimPending", mock.Anything, 10, p.now().Add(-time.Minute)).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MarkProcessed", mock.Anything, evt.ID).Return(nil)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, []string{model.EventRefillRequested}, pub.channels)
	assert.Equal(t, evt.ID.String(), pub.messages[0].ID)

	raw, err := json.Marshal(pub.messages[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"prescription_id":"1"`)

	repo.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsProcessed))
}

func TestProcessOnceSchedulesRetryWithBackoff(t *testing.T) {
	repo := new(MockOutboxRepository)
	evt := refillEvent(1)
	pub := &fakePublisher{fail: map[string]error{evt.ID.String(): errors.New("redis down")}}
	p, m := newProcessor(t, repo, pub)

	repo.On("ClaimPending", mock.Anything, 10, mock.Anything).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MarkRetry", mock.Anything, evt.ID, "redis down", p.now().Add(2*time.Second)).Return(nil)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	repo.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventRefillRequested)))
}

func TestProcessOnceMarksFailedAfterLastAttempt(t *testing.T) {
	repo := new(MockOutboxRepository)
	failing := refillEvent(2)
	ok := refillEvent(0)
	pub := &fakePublisher{fail: map[string]error{failing.ID.String(): errors.New("redis down")}}
	p, m := newProcessor(t, repo, pub)

	repo.On("ClaimPending", mock.Anything, 10, mock.Anything).Return([]*model.OutboxEvent{failing, ok}, nil)
	repo.On("MarkFailed", mock.Anything, failing.ID, "redis down").Return(nil)
	repo.On("MarkProcessed", mock.Anything, ok.ID).Return(nil)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestProcessOnceClaimFailure(t *testing.T) {
	repo := new(MockOutboxRepository)
	p, _ := newProcessor(t, repo, &fakePublisher{})

	repo.On("ClaimPending", mock.Anything, 10, mock.Anything).Return(nil, errors.New("db down"))

	_, err := p.ProcessOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	cfg := testConfig
	cfg.BatchSize = 0
	_, err := NewOutboxProcessor(new(MockOutboxRepository), &fakePublisher{}, cfg, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	repo := new(MockOutboxRepository)
	repo.On("ClaimPending", mock.Anything, 10, mock.Anything).Return(nil, nil).Maybe()

	cfg := testConfig
	cfg.PollInterval = 5 * time.Millisecond
	p, err := NewOutboxProcessor(repo, &fakePublisher{}, cfg, logger.Nop(), metrics.New("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestCleanupDeletesBeforeRetention(t *testing.T) {
	repo := new(MockOutboxRepository)
	m := metrics.New("test")
	w := NewOutboxCleanupWorker(repo, 24*time.Hour, time.Hour, logger.Nop(), m)
	now := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	repo.On("DeleteProcessedBefore", mock.Anything, now.Add(-24*time.Hour)).Return(int64(4), nil)

	n, err := w.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.OutboxEventsCleaned))
}

func TestProcessOnceRecordsOutcomeAfterCancel(t *testing.T) {
	repo := new(MockOutboxRepository)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &cancellingPublisher{cancel: cancel}

	m := metrics.New("test")
	p, err := NewOutboxProcessor(repo, pub, testConfig, logger.Nop(), m)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC) }

	first := refillEvent(0)
	second := refillEvent(0)
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

	repo.On("ClaimPending", mock.Anything, 10, mock.Anything).Return([]*model.OutboxEvent{first, second}, nil)
	repo.On("MarkRetry", live, first.ID, context.Canceled.Error(), p.now().Add(time.Second)).Return(nil)

	n, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The second event keeps its claim and is reclaimed after the lease.
	assert.Equal(t, 1, pub.calls)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkRetry", mock.Anything, second.ID, mock.Anything, mock.Anything)
}

func TestNewOutboxProcessorRequiresLease(t *testing.T) {
	cfg := testConfig
	cfg.Lease = 0
	_, err := NewOutboxProcessor(new(MockOutboxRepository), &fakePublisher{}, cfg, logger.Nop(), metrics.New("test"))
	assert.ErrorContains(t, err, "lease")
}

// Package memory is an in-process PrescriptionRepository used for demos,
// the CLI's offline mode and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
)

type prescriptionRepository struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*model.Prescription
	now   func() time.Time
}

type Option func(*prescriptionRepository)

// WithClock overrides the time source used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *prescriptionRepository) {
		r.now = now
	}
}

func NewPrescriptionRepository(seed []model.Prescription, opts ...Option) repository.PrescriptionRepository {
	r := &prescriptionRepository{
		order: make([]string, 0, len(seed)),
		byID:  make(map[string]*model.Prescription, len(seed)),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range seed {
		p := seed[i]
		if _, exists := r.byID[p.ID]; !exists {
			r.order = append(r.order, p.ID)
		}
		r.byID[p.ID] = &p
	}
	return r
}

func (r *prescriptionRepository) GetAll(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("failed to list prescriptions", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Prescription, 0, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		if filters.Matches(p) {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (r *prescriptionRepository) GetByID(ctx context.Context, id string) (*model.Prescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("failed to get prescription", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (r *prescriptionRepository) RequestRefill(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable("failed to request refill", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return apperrors.NotFound("prescription", fmt.Errorf("id %q", id))
	}
	if err := p.RequestRefill(r.now().UTC()); err != nil {
		return apperrors.Conflict(fmt.Sprintf("prescription %q is %s", id, p.Status), err)
	}
	return nil
}

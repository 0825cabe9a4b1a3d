package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-portal/internal/model"
)

// Failures from every implementation are *errors.AppError values from pkg/errors.
type (
	// PrescriptionRepository is the data-access gateway used by the store and the API.
	PrescriptionRepository interface {
		// GetAll returns the prescriptions matching filters; nil filters match everything.
		GetAll(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error)
		// GetByID returns (nil, nil) when the id does not exist.
		GetByID(ctx context.Context, id string) (*model.Prescription, error)
		// RequestRefill moves the prescription to refill_requested.
		RequestRefill(ctx context.Context, id string) error
	}

	OutboxRepository interface {
		CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
		// ClaimPending also reclaims processing rows last touched before
		// staleBefore, which a stopped worker left behind.
		ClaimPending(ctx context.Context, limit int, staleBefore time.Time) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
)

const prescriptionColumns = `id, medication_name, dosage, instructions, prescribing_doctor,
		refills_remaining, next_refill_date, status, created_at, updated_at`

type prescriptionRepository struct {
	BaseRepository
	outbox repository.OutboxRepository
}

// NewPrescriptionRepository returns a repository whose refills also write a
// prescription.refill_requested event to outbox in the same transaction.
func NewPrescriptionRepository(base BaseRepository, outbox repository.OutboxRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{BaseRepository: base, outbox: outbox}
}

func (r *prescriptionRepository) GetAll(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error) {
	var (
		where []string
		args  []interface{}
	)
	if filters != nil && filters.Search != "" {
		args = append(args, likePattern(filters.Search))
		n := len(args)
		where = append(where, fmt.Sprintf("(medication_name ILIKE $%d OR prescribing_doctor ILIKE $%d)", n, n))
	}
	if filters != nil && filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	prescriptions := []model.Prescription{}
	if err := r.db.SelectContext(ctx, &prescriptions, query, args...); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list prescriptions: %w", err))
	}
	return prescriptions, nil
}

func (r *prescriptionRepository) GetByID(ctx context.Context, id string) (*model.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`

	var p model.Prescription
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to get prescription: %w", err))
	}
	return &p, nil
}

func (r *prescriptionRepository) RequestRefill(ctx context.Context, id string) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var p model.Prescription
		query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &p, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("prescription", fmt.Errorf("id %q", id))
			}
			return fmt.Errorf("failed to lock prescription: %w", err)
		}

		if err := p.RequestRefill(r.now().UTC()); err != nil {
			return apperrors.Conflict(fmt.Sprintf("prescription %q is %s", id, p.Status), err)
		}

		update := `UPDATE prescriptions SET status = $1, updated_at = $2 WHERE id = $3`
		if _, err := tx.ExecContext(ctx, update, p.Status, p.UpdatedAt, p.ID); err != nil {
			return fmt.Errorf("failed to update prescription: %w", err)
		}

		payload, err := json.Marshal(model.NewRefillRequestedEvent(&p))
		if err != nil {
			return fmt.Errorf("failed to marshal refill event: %w", err)
		}
		return r.outbox.CreateTx(ctx, tx, &model.OutboxEvent{
			EventType: model.EventRefillRequested,
			Payload:   payload,
		})
	})
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err)
}

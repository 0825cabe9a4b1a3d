package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-portal/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the bundled schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// Seed inserts prescriptions that do not exist yet.
func Seed(ctx context.Context, db *sqlx.DB, prescriptions []model.Prescription) error {
	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES (:id, :medication_name, :dosage, :instructions, :prescribing_doctor,
			:refills_remaining, :next_refill_date, :status, :created_at, :updated_at)
		ON CONFLICT (id) DO NOTHING
	`
	for _, p := range prescriptions {
		if _, err := db.NamedExecContext(ctx, query, p); err != nil {
			return fmt.Errorf("failed to seed prescription %s: %w", p.ID, err)
		}
	}
	return nil
}

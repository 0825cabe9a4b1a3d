package model

import (
	"errors"
	"strings"
	"time"
)

type PrescriptionStatus string

const (
	PrescriptionStatusActive          PrescriptionStatus = "active"
	PrescriptionStatusRefillRequested PrescriptionStatus = "refill_requested"
	PrescriptionStatusExpired         PrescriptionStatus = "expired"
)

var ErrRefillNotAllowed = errors.New("refill can only be requested for an active prescription")

func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionStatusActive, PrescriptionStatusRefillRequested, PrescriptionStatusExpired:
		return true
	}
	return false
}

type Prescription struct {
	ID                string             `db:"id" json:"id" yaml:"id"`
	MedicationName    string             `db:"medication_name" json:"medication_name" yaml:"medication_name"`
	Dosage            string             `db:"dosage" json:"dosage" yaml:"dosage"`
	Instructions      string             `db:"instructions" json:"instructions" yaml:"instructions"`
	PrescribingDoctor string             `db:"prescribing_doctor" json:"prescribing_doctor" yaml:"prescribing_doctor"`
	RefillsRemaining  int                `db:"refills_remaining" json:"refills_remaining" yaml:"refills_remaining"`
	NextRefillDate    time.Time          `db:"next_refill_date" json:"next_refill_date" yaml:"next_refill_date"`
	Status            PrescriptionStatus `db:"status" json:"status" yaml:"status"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at" yaml:"updated_at"`
}

// RequestRefill moves an active prescription to refill_requested.
func (p *Prescription) RequestRefill(now time.Time) error {
	if p.Status != PrescriptionStatusActive {
		return ErrRefillNotAllowed
	}
	p.Status = PrescriptionStatusRefillRequested
	p.UpdatedAt = now
	return nil
}

// PrescriptionListFilters narrows a prescription listing. Empty fields do not constrain.
type PrescriptionListFilters struct {
	Search string             `json:"search,omitempty" form:"search"`
	Status PrescriptionStatus `json:"status,omitempty" form:"status" binding:"omitempty,rx_status"`
}

// Matches reports whether p satisfies every set constraint. Search is a
// case-insensitive substring match on medication name or doctor name.
func (f *PrescriptionListFilters) Matches(p *Prescription) bool {
	if f == nil {
		return true
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.MedicationName), term) &&
			!strings.Contains(strings.ToLower(p.PrescribingDoctor), term) {
			return false
		}
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

func (f *PrescriptionListFilters) IsEmpty() bool {
	return f == nil || (f.Search == "" && f.Status == "")
}

type RefillResponse struct {
	ID     string             `json:"id"`
	Status PrescriptionStatus `json:"status"`
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusProcessed  OutboxStatus = "processed"
	OutboxStatusRetry      OutboxStatus = "retry"
	OutboxStatusFailed     OutboxStatus = "failed"
)

const EventRefillRequested = "prescription.refill_requested"

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// RefillRequestedEvent is the payload of EventRefillRequested.
type RefillRequestedEvent struct {
	PrescriptionID    string    `json:"prescription_id"`
	MedicationName    string    `json:"medication_name"`
	Dosage            string    `json:"dosage"`
	PrescribingDoctor string    `json:"prescribing_doctor"`
	RequestedAt       time.Time `json:"requested_at"`
}

func NewRefillRequestedEvent(p *Prescription) RefillRequestedEvent {
	return RefillRequestedEvent{
		PrescriptionID:    p.ID,
		MedicationName:    p.MedicationName,
		Dosage:            p.Dosage,
		PrescribingDoctor: p.PrescribingDoctor,
		RequestedAt:       p.UpdatedAt,
	}
}

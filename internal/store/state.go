package store

import (
	"github.com/jwalitptl/rx-portal/internal/model"
)

// State is a snapshot of the Store. Values returned by Store.State and passed
// to subscribers are copies; changing them has no effect on the Store.
type State struct {
	Prescriptions        []model.Prescription
	SelectedPrescription *model.Prescription
	Loading              bool
	Error                *OperationError
	Filters              model.PrescriptionListFilters
}

// ErrorMessage returns the display message, or "" when there is no error.
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Message
}

func (s State) clone() State {
	out := s
	if s.Prescriptions != nil {
		out.Prescriptions = make([]model.Prescription, len(s.Prescriptions))
		copy(out.Prescriptions, s.Prescriptions)
	}
	if s.SelectedPrescription != nil {
		p := *s.SelectedPrescription
		out.SelectedPrescription = &p
	}
	return out
}

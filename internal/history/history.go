// Package history derives the "history" view of a prescription list: every
// prescription that is no longer active, optionally padded with synthetic rows
// so a paginated grid has something to show in demos.
package history

import (
	"fmt"

	"github.com/jwalitptl/rx-portal/internal/model"
)

const (
	DemoThreshold = 80
	DemoSize      = 100
)

// Policy decides what to show given the genuine history and the full list.
type Policy interface {
	Apply(genuine, all []model.Prescription) []model.Prescription
}

type noPadding struct{}

func (noPadding) Apply(genuine, _ []model.Prescription) []model.Prescription {
	return genuine
}

// NoPadding shows the genuine history only.
var NoPadding Policy = noPadding{}

// Padding replaces a sparse history with Size synthesized records. It kicks in
// when fewer than Threshold genuine history records exist and the full list is
// non-empty. Synthetic records are clones of the first history record (or of
// the first prescription, forced to expired, when there is no history) with
// ids h0..h{Size-1} and medication names suffixed " #1".." #Size".
type Padding struct {
	Threshold int
	Size      int
}

func DemoPadding() Policy {
	return Padding{Threshold: DemoThreshold, Size: DemoSize}
}

func (p Padding) Apply(genuine, all []model.Prescription) []model.Prescription {
	if len(genuine) >= p.Threshold || len(all) == 0 {
		return genuine
	}

	var base model.Prescription
	if len(genuine) > 0 {
		base = genuine[0]
	} else {
		base = all[0]
		base.Status = model.PrescriptionStatusExpired
		base.ID = "h0"
	}

	padded := make([]model.Prescription, p.Size)
	for i := range padded {
		row := base
		row.ID = fmt.Sprintf("h%d", i)
		row.MedicationName = fmt.Sprintf("%s #%d", base.MedicationName, i+1)
		padded[i] = row
	}
	return padded
}

// Derive returns the history view of all under policy. A nil policy is NoPadding.
func Derive(all []model.Prescription, policy Policy) []model.Prescription {
	genuine := make([]model.Prescription, 0, len(all))
	for _, p := range all {
		if p.Status != model.PrescriptionStatusActive {
			genuine = append(genuine, p)
		}
	}
	if policy == nil {
		policy = NoPadding
	}
	return policy.Apply(genuine, all)
}

// PolicyFor builds the policy selected by configuration.
func PolicyFor(enabled bool, threshold, size int) Policy {
	if !enabled {
		return NoPadding
	}
	if threshold <= 0 {
		threshold = DemoThreshold
	}
	if size <= 0 {
		size = DemoSize
	}
	return Padding{Threshold: threshold, Size: size}
}

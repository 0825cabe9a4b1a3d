package memory

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jwalitptl/rx-portal/internal/model"
)

//go:embed seed/prescriptions.yaml
var defaultSeed []byte

type seedFile struct {
	Prescriptions []model.Prescription `yaml:"prescriptions"`
}

// DefaultSeed returns the demo prescriptions bundled with the binary.
func DefaultSeed() ([]model.Prescription, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeed reads prescriptions from a YAML fixture file.
func LoadSeed(path string) ([]model.Prescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]model.Prescription, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Prescriptions))
	for i, p := range f.Prescriptions {
		if p.ID == "" {
			return nil, fmt.Errorf("seed entry %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate prescription id %q in seed", p.ID)
		}
		if !p.Status.Valid() {
			return nil, fmt.Errorf("prescription %q has invalid status %q", p.ID, p.Status)
		}
		if p.RefillsRemaining < 0 {
			return nil, fmt.Errorf("prescription %q has negative refills_remaining", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return f.Prescriptions, nil
}

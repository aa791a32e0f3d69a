package simulation

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a setup parameter outside its physical range.
// The simulator never clamps an invalid value; it refuses the run instead.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setup parameter %s=%v: %s", e.Field, e.Value, e.Reason)
}

type paramRange struct {
	Min float64
	Max float64
}

func (r paramRange) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Physically plausible engineering bounds. Values outside these fail
// validation outright.
var physicalRanges = map[string]paramRange{
	"targetThicknessUm": {50, 1000},
	"sprayDistanceMm":   {60, 200},
	"robotSpeedMmS":     {100, 1000},
}

// Ranges the training and reference population is drawn from. A setup
// outside any of these is flagged out-of-distribution, regardless of how
// the run turns out.
var trainingRanges = map[string]paramRange{
	"targetThicknessUm": {200, 400},
	"sprayDistanceMm":   {100, 140},
	"robotSpeedMmS":     {400, 600},
}

var (
	substrateMaterials = []string{"steel", "aluminum", "titanium"}
	coatingMaterials   = []string{"YSZ", "alumina", "chromium"}
)

// ValidateSetup checks every setup parameter against its physical range.
func ValidateSetup(setup SetupParams) error {
	if !containsString(substrateMaterials, setup.SubstrateMaterial) {
		return &ValidationError{
			Field:  "substrateMaterial",
			Value:  setup.SubstrateMaterial,
			Reason: "must be one of " + strings.Join(substrateMaterials, ", "),
		}
	}
	if !containsString(coatingMaterials, setup.CoatingMaterial) {
		return &ValidationError{
			Field:  "coatingMaterial",
			Value:  setup.CoatingMaterial,
			Reason: "must be one of " + strings.Join(coatingMaterials, ", "),
		}
	}

	checks := []struct {
		field string
		value float64
	}{
		{"targetThicknessUm", setup.TargetThicknessUm},
		{"sprayDistanceMm", setup.SprayDistanceMm},
		{"robotSpeedMmS", setup.RobotSpeedMmS},
	}
	for _, c := range checks {
		bounds := physicalRanges[c.field]
		if !bounds.contains(c.value) {
			return &ValidationError{
				Field:  c.field,
				Value:  c.value,
				Reason: fmt.Sprintf("outside physical range [%g, %g]", bounds.Min, bounds.Max),
			}
		}
	}
	return nil
}

// IsOutOfDistribution reports whether any setup parameter falls outside the
// ranges the training population was generated from.
func IsOutOfDistribution(setup SetupParams) bool {
	values := map[string]float64{
		"targetThicknessUm": setup.TargetThicknessUm,
		"sprayDistanceMm":   setup.SprayDistanceMm,
		"robotSpeedMmS":     setup.RobotSpeedMmS,
	}
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !trainingRanges[field].contains(values[field]) {
			return true
		}
	}
	return false
}

func containsString(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

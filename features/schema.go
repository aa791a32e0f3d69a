package features

import (
	"fmt"

	"coating-metrology/simulation"
)

// SchemaVersion identifies the feature layout. Vectors produced under
// different versions are never comparable; bump this whenever names,
// order, or count change.
const SchemaVersion = 1

var channelStats = []string{"mean", "std", "min", "max", "trend"}

var setupFeatureNames = []string{
	"setup_target_thickness_um",
	"setup_spray_distance_mm",
	"setup_robot_speed_mm_s",
}

var crossFeatureNames = []string{
	"deposition_rate_cv",
	"power_temp_correlation",
	"energy_density",
	"gas_ratio",
	"powder_to_carrier_ratio",
	"substrate_temp_rise",
	"plasma_stability",
}

var schemaNames = buildNames()

func buildNames() []string {
	names := make([]string, 0, len(simulation.ChannelNames)*len(channelStats)+len(setupFeatureNames)+len(crossFeatureNames))
	for _, channel := range simulation.ChannelNames {
		for _, stat := range channelStats {
			names = append(names, channel+"_"+stat)
		}
	}
	names = append(names, setupFeatureNames...)
	names = append(names, crossFeatureNames...)
	return names
}

// Names returns the feature names in schema order. Callers must not
// mutate the returned slice.
func Names() []string {
	return schemaNames
}

// Count is the fixed length of a schema-v1 vector.
func Count() int {
	return len(schemaNames)
}

// Vector is one run's features in schema order.
type Vector struct {
	SchemaVersion int       `json:"schemaVersion"`
	Values        []float64 `json:"values"`
}

// Value looks a feature up by name.
func (v Vector) Value(name string) (float64, bool) {
	idx, ok := nameIndex[name]
	if !ok || idx >= len(v.Values) {
		return 0, false
	}
	return v.Values[idx], true
}

var nameIndex = func() map[string]int {
	idx := make(map[string]int, len(schemaNames))
	for i, name := range schemaNames {
		idx[name] = i
	}
	return idx
}()

// SchemaMismatchError reports input that does not line up with the active
// feature schema. Extraction and prediction refuse mismatched shapes
// rather than padding or truncating.
type SchemaMismatchError struct {
	Expected int
	Got      int
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: expected %d, got %d (%s)", e.Expected, e.Got, e.Detail)
}

// CheckVector verifies that a vector matches the active schema.
func CheckVector(v Vector) error {
	if v.SchemaVersion != SchemaVersion {
		return &SchemaMismatchError{
			Expected: SchemaVersion,
			Got:      v.SchemaVersion,
			Detail:   "schema version",
		}
	}
	if len(v.Values) != Count() {
		return &SchemaMismatchError{
			Expected: Count(),
			Got:      len(v.Values),
			Detail:   "feature count",
		}
	}
	return nil
}

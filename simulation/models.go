package simulation

import "time"

// RunStatus describes the lifecycle state of a production run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Quality grades, ordered best to worst.
const (
	GradeA      = "A"
	GradeB      = "B"
	GradeC      = "C"
	GradeReject = "reject"
)

// QualityGrades lists all grades in ladder order.
var QualityGrades = []string{GradeA, GradeB, GradeC, GradeReject}

// SetupParams are the static parameters chosen before a coating run starts.
// They are immutable once the run begins.
type SetupParams struct {
	SubstrateMaterial string  `json:"substrateMaterial"` // steel, aluminum, titanium
	CoatingMaterial   string  `json:"coatingMaterial"`   // YSZ, alumina, chromium
	TargetThicknessUm float64 `json:"targetThicknessUm"`
	SprayDistanceMm   float64 `json:"sprayDistanceMm"`
	RobotSpeedMmS     float64 `json:"robotSpeedMmS"`
}

// SensorSample is one timestamped observation across all process channels.
type SensorSample struct {
	Timestamp   time.Time `json:"timestamp"`
	TimeSeconds float64   `json:"timeSeconds"`

	PlasmaTempC          float64 `json:"plasmaTempC"`
	PlasmaPowerKw        float64 `json:"plasmaPowerKw"`
	PrimaryGasFlowSlpm   float64 `json:"primaryGasFlowSlpm"`
	SecondaryGasFlowSlpm float64 `json:"secondaryGasFlowSlpm"`
	PowderFeedRateGMin   float64 `json:"powderFeedRateGMin"`
	CarrierGasFlowSlpm   float64 `json:"carrierGasFlowSlpm"`
	SubstrateTempC       float64 `json:"substrateTempC"`
	SprayDistanceMm      float64 `json:"sprayDistanceMm"`
	ChamberPressureMbar  float64 `json:"chamberPressureMbar"`
	AmbientTempC         float64 `json:"ambientTempC"`
	AmbientHumidityPct   float64 `json:"ambientHumidityPct"`
	DepositionRateUmS    float64 `json:"depositionRateUmS"`
}

// SensorTrace is the ordered sequence of samples for one run.
type SensorTrace []SensorSample

// ChannelNames lists every sensor channel in a fixed order. Feature
// extraction iterates this list, so the order is part of the data contract.
var ChannelNames = []string{
	"plasma_temp_c",
	"plasma_power_kw",
	"primary_gas_flow_slpm",
	"secondary_gas_flow_slpm",
	"powder_feed_rate_g_min",
	"carrier_gas_flow_slpm",
	"substrate_temp_c",
	"spray_distance_mm",
	"chamber_pressure_mbar",
	"ambient_temp_c",
	"ambient_humidity_pct",
	"deposition_rate_um_s",
}

// Channel extracts one named channel as a value series. The second return
// value reports whether the channel name is known.
func (t SensorTrace) Channel(name string) ([]float64, bool) {
	pick, ok := channelAccessors[name]
	if !ok {
		return nil, false
	}
	values := make([]float64, len(t))
	for i := range t {
		values[i] = pick(&t[i])
	}
	return values, true
}

// ElapsedSeconds returns the time axis of the trace.
func (t SensorTrace) ElapsedSeconds() []float64 {
	values := make([]float64, len(t))
	for i := range t {
		values[i] = t[i].TimeSeconds
	}
	return values
}

var channelAccessors = map[string]func(*SensorSample) float64{
	"plasma_temp_c":           func(s *SensorSample) float64 { return s.PlasmaTempC },
	"plasma_power_kw":         func(s *SensorSample) float64 { return s.PlasmaPowerKw },
	"primary_gas_flow_slpm":   func(s *SensorSample) float64 { return s.PrimaryGasFlowSlpm },
	"secondary_gas_flow_slpm": func(s *SensorSample) float64 { return s.SecondaryGasFlowSlpm },
	"powder_feed_rate_g_min":  func(s *SensorSample) float64 { return s.PowderFeedRateGMin },
	"carrier_gas_flow_slpm":   func(s *SensorSample) float64 { return s.CarrierGasFlowSlpm },
	"substrate_temp_c":        func(s *SensorSample) float64 { return s.SubstrateTempC },
	"spray_distance_mm":       func(s *SensorSample) float64 { return s.SprayDistanceMm },
	"chamber_pressure_mbar":   func(s *SensorSample) float64 { return s.ChamberPressureMbar },
	"ambient_temp_c":          func(s *SensorSample) float64 { return s.AmbientTempC },
	"ambient_humidity_pct":    func(s *SensorSample) float64 { return s.AmbientHumidityPct },
	"deposition_rate_um_s":    func(s *SensorSample) float64 { return s.DepositionRateUmS },
}

// QualityMetrics is the ground-truth coating outcome, computed once per run
// from the trace and setup parameters.
type QualityMetrics struct {
	ThicknessUm            float64 `json:"thicknessUm"`
	ThicknessUniformityPct float64 `json:"thicknessUniformityPct"`
	PorosityPct            float64 `json:"porosityPct"`
	AdhesionStrengthMpa    float64 `json:"adhesionStrengthMpa"`
	SurfaceRoughnessRa     float64 `json:"surfaceRoughnessRa"`

	HasDelamination bool `json:"hasDelamination"`
	HasCracks       bool `json:"hasCracks"`
	HasVoids        bool `json:"hasVoids"`

	DefectFlag   bool   `json:"defectFlag"`
	QualityGrade string `json:"qualityGrade"`
}

// Run is one complete production run: the unit of storage and of
// drift-window membership. Immutable once Status leaves "running".
type Run struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batchId"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Status    RunStatus       `json:"status"`
	IsOOD     bool            `json:"isOod"`
	Setup     SetupParams     `json:"setupParams"`
	Trace     SensorTrace     `json:"-"`
	Quality   *QualityMetrics `json:"qualityMetrics,omitempty"`
}

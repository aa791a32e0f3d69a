package simulation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Defect thresholds. A flag fires when its derived quantity crosses the
// threshold; there is no random sampling, so a given trace always yields
// the same flags.
const (
	voidPorosityPctThreshold   = 9.0  // high porosity collapses into voids
	crackUniformityPctCeiling  = 8.0  // deposition CV above this cracks the coat
	delamStressThreshold       = 3.0  // thermal stress index
	delamAdhesionMpaFloor      = 30.0 // weak bond under high stress delaminates
	delamTempExcursionCeiling  = 130.0
	severeDefectCountForFailed = 2
)

// gradeRule is one rung of the quality ladder: both bounds must hold.
// First match wins, scanning best grade first.
type gradeRule struct {
	maxThicknessDev float64 // |thickness-target|/target
	maxPorosityPct  float64
	grade           string
}

var gradeLadder = []gradeRule{
	{maxThicknessDev: 0.05, maxPorosityPct: 3.0, grade: GradeA},
	{maxThicknessDev: 0.10, maxPorosityPct: 5.0, grade: GradeB},
	{maxThicknessDev: 0.20, maxPorosityPct: 8.0, grade: GradeC},
}

// GradeForOutcome walks the grade ladder. Defective runs are rejected
// before thickness or porosity are considered.
func GradeForOutcome(setup SetupParams, thicknessUm, porosityPct float64, defect bool) string {
	if defect {
		return GradeReject
	}
	deviation := math.Abs(thicknessUm-setup.TargetThicknessUm) / setup.TargetThicknessUm
	for _, rule := range gradeLadder {
		if deviation <= rule.maxThicknessDev && porosityPct <= rule.maxPorosityPct {
			return rule.grade
		}
	}
	return GradeReject
}

// computeQuality derives the ground-truth outcome from the finished trace.
// The noise generator is the run's own seeded source, so the result is
// reproducible for a given (setup, seed).
func computeQuality(setup SetupParams, trace SensorTrace, noise *noiseGenerator) QualityMetrics {
	plasmaTemps, _ := trace.Channel("plasma_temp_c")
	plasmaPowers, _ := trace.Channel("plasma_power_kw")
	powderFeeds, _ := trace.Channel("powder_feed_rate_g_min")
	substrateTemps, _ := trace.Channel("substrate_temp_c")
	sprayDistances, _ := trace.Channel("spray_distance_mm")
	depositionRates, _ := trace.Channel("deposition_rate_um_s")

	particleTemp := particleTemperature(plasmaTemps, plasmaPowers)
	particleVel := particleVelocity(plasmaPowers, powderFeeds)
	splat := splatQuality(particleTemp, particleVel, sprayDistances)
	stress := thermalStress(substrateTemps, depositionRates)

	thickness := integrateThickness(trace, depositionRates, noise)
	uniformity := uniformityPct(depositionRates, noise)
	porosity := porosityPct(setup, splat, particleVel, noise)
	adhesion := adhesionMpa(setup, substrateTemps, stress, noise)
	roughness := roughnessRa(splat, sprayDistances, noise)

	tempExcursion := floats.Max(substrateTemps) - floats.Min(substrateTemps)

	hasVoids := porosity > voidPorosityPctThreshold
	hasCracks := uniformity > crackUniformityPctCeiling
	hasDelamination := stress > delamStressThreshold && adhesion < delamAdhesionMpaFloor ||
		tempExcursion > delamTempExcursionCeiling

	defect := hasVoids || hasCracks || hasDelamination

	return QualityMetrics{
		ThicknessUm:            thickness,
		ThicknessUniformityPct: uniformity,
		PorosityPct:            porosity,
		AdhesionStrengthMpa:    adhesion,
		SurfaceRoughnessRa:     roughness,
		HasDelamination:        hasDelamination,
		HasCracks:              hasCracks,
		HasVoids:               hasVoids,
		DefectFlag:             defect,
		QualityGrade:           GradeForOutcome(setup, thickness, porosity, defect),
	}
}

var substrateAdhesionMpa = map[string]float64{
	"steel":    45,
	"aluminum": 35,
	"titanium": 55,
}

var coatingPorosityPct = map[string]float64{
	"YSZ":      5,
	"alumina":  4,
	"chromium": 3,
}

// particleTemperature estimates mean in-flight particle temperature;
// particles reach roughly 60-80% of plasma temperature.
func particleTemperature(plasmaTemps, plasmaPowers []float64) float64 {
	efficiency := 0.7 + 0.1*(stat.Mean(plasmaPowers, nil)/55-1)
	return stat.Mean(plasmaTemps, nil) * efficiency
}

// particleVelocity estimates mean particle velocity in m/s. More power
// accelerates particles, heavier feed slows them via momentum transfer.
func particleVelocity(plasmaPowers, powderFeeds []float64) float64 {
	const baseVelocity = 200.0
	powerFactor := stat.Mean(plasmaPowers, nil) / 55
	feedFactor := 50 / stat.Mean(powderFeeds, nil)
	return baseVelocity * powerFactor * math.Sqrt(feedFactor)
}

// splatQuality scores splat formation 0-1 from how close temperature,
// velocity, and standoff are to their optima.
func splatQuality(particleTemp, particleVel float64, sprayDistances []float64) float64 {
	tempQuality := 1 - math.Abs(particleTemp-8400)/8400
	velQuality := 1 - math.Abs(particleVel-200)/200
	distQuality := 1 - math.Abs(stat.Mean(sprayDistances, nil)-120)/120
	return clamp(0.4*tempQuality+0.3*velQuality+0.3*distQuality, 0, 1)
}

// thermalStress indexes stress accumulation: fast substrate heating under
// heavy deposition stresses the interface.
func thermalStress(substrateTemps, depositionRates []float64) float64 {
	tempGradient := floats.Max(substrateTemps) - floats.Min(substrateTemps)
	return tempGradient * stat.Mean(depositionRates, nil) / 100
}

func integrateThickness(trace SensorTrace, depositionRates []float64, noise *noiseGenerator) float64 {
	duration := trace[len(trace)-1].TimeSeconds - trace[0].TimeSeconds
	dt := duration / float64(len(trace))
	total := floats.Sum(depositionRates) * dt
	total *= noise.relJitter(0.02)
	return math.Max(0, total)
}

func uniformityPct(depositionRates []float64, noise *noiseGenerator) float64 {
	cv := stat.StdDev(depositionRates, nil) / stat.Mean(depositionRates, nil) * 100
	return math.Max(0, cv+noise.gaussian(0.5))
}

func porosityPct(setup SetupParams, splat, particleVel float64, noise *noiseGenerator) float64 {
	base, ok := coatingPorosityPct[setup.CoatingMaterial]
	if !ok {
		base = 5
	}
	splatFactor := 2 - splat
	velFactor := 1 + math.Abs(particleVel-200)/200
	porosity := base*splatFactor*velFactor + noise.gaussian(0.5)
	return clamp(porosity, 0, 20)
}

func adhesionMpa(setup SetupParams, substrateTemps []float64, stress float64, noise *noiseGenerator) float64 {
	base, ok := substrateAdhesionMpa[setup.SubstrateMaterial]
	if !ok {
		base = 40
	}
	// Bonding is best around 275C substrate temperature.
	tempFactor := 1 - math.Abs(stat.Mean(substrateTemps, nil)-275)/275
	stressFactor := math.Max(0.5, 1-stress*0.2)
	adhesion := base*(0.7+0.3*tempFactor)*stressFactor + noise.gaussian(2)
	return math.Max(10, adhesion)
}

func roughnessRa(splat float64, sprayDistances []float64, noise *noiseGenerator) float64 {
	const baseRa = 5.0
	splatFactor := 2 - splat
	distVariation := stat.StdDev(sprayDistances, nil) / stat.Mean(sprayDistances, nil)
	roughness := baseRa*splatFactor*(1+distVariation*2) + noise.gaussian(0.3)
	return math.Max(1, roughness)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

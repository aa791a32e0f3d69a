package simulation

import (
	"math"
	"time"
)

// Run-scoped trace constants. The feature schema assumes these, so they are
// fixed per deployment rather than per call.
const (
	RunDurationSeconds = 120
	SampleRateHz       = 1.0
	SamplesPerRun      = int(RunDurationSeconds * SampleRateHz)
)

// ProcessBaselines are the nominal set-points of the spray process.
type ProcessBaselines struct {
	PlasmaTempC          float64 // 8000-15000 C
	PlasmaPowerKw        float64 // 30-80 kW
	PrimaryGasFlowSlpm   float64 // argon, 30-60 SLPM
	SecondaryGasFlowSlpm float64 // hydrogen, 5-15 SLPM
	PowderFeedRateGMin   float64 // 20-80 g/min
	CarrierGasFlowSlpm   float64 // 3-8 SLPM
	SubstrateTempC       float64 // 100-400 C
	ChamberPressureMbar  float64
	AmbientTempC         float64
	AmbientHumidityPct   float64
}

// DefaultBaselines returns the standard operating point.
func DefaultBaselines() ProcessBaselines {
	return ProcessBaselines{
		PlasmaTempC:          12000,
		PlasmaPowerKw:        55,
		PrimaryGasFlowSlpm:   45,
		SecondaryGasFlowSlpm: 10,
		PowderFeedRateGMin:   50,
		CarrierGasFlowSlpm:   5,
		SubstrateTempC:       200,
		ChamberPressureMbar:  1013,
		AmbientTempC:         25,
		AmbientHumidityPct:   45,
	}
}

type materialModifier struct {
	tempFactor  float64
	powerFactor float64
}

type coatingModifier struct {
	feedFactor float64
	tempFactor float64
}

var substrateModifiers = map[string]materialModifier{
	"steel":    {tempFactor: 1.0, powerFactor: 1.0},
	"aluminum": {tempFactor: 0.85, powerFactor: 0.9},
	"titanium": {tempFactor: 1.1, powerFactor: 1.15},
}

var coatingModifiers = map[string]coatingModifier{
	"YSZ":      {feedFactor: 1.0, tempFactor: 1.0},
	"alumina":  {feedFactor: 0.9, tempFactor: 0.95},
	"chromium": {feedFactor: 1.1, tempFactor: 1.05},
}

// generateTrace produces the multi-channel sensor trace for one run.
// oodFactor scales the primary process channels; 1.0 means nominal.
func generateTrace(setup SetupParams, baselines ProcessBaselines, noise *noiseGenerator, start time.Time, oodFactor float64) SensorTrace {
	noise.resetDrift()

	matMod, ok := substrateModifiers[setup.SubstrateMaterial]
	if !ok {
		matMod = materialModifier{tempFactor: 1, powerFactor: 1}
	}
	coatMod, ok := coatingModifiers[setup.CoatingMaterial]
	if !ok {
		coatMod = coatingModifier{feedFactor: 1, tempFactor: 1}
	}

	plasmaTempBase := baselines.PlasmaTempC * matMod.tempFactor * coatMod.tempFactor
	plasmaPowerBase := baselines.PlasmaPowerKw * matMod.powerFactor

	// The dosing recipe scales powder feed so the nominal deposition
	// integrates to the target thickness at the chosen standoff and
	// traverse speed. Deviations then come from noise, oscillation, and
	// material behaviour rather than from the recipe itself.
	recipe := (setup.TargetThicknessUm / (depositionBaseRateUmS * RunDurationSeconds)) *
		(setup.SprayDistanceMm / 120.0) * (setup.RobotSpeedMmS / 500.0)
	powderFeedBase := baselines.PowderFeedRateGMin * coatMod.feedFactor * recipe

	// Slow process oscillation with a run-specific period.
	oscPeriod := 20 + noise.rng.Float64()*20 // seconds
	const oscAmplitude = 0.02

	trace := make(SensorTrace, 0, SamplesPerRun)
	dt := 1.0 / SampleRateHz

	for i := 0; i < SamplesPerRun; i++ {
		t := float64(i) * dt
		osc := 1 + oscAmplitude*math.Sin(2*math.Pi*t/oscPeriod)

		// Uncalibrated sensors walk away from their set-points over the
		// run. The walk accumulates, so late samples drift further.
		thermalDrift := 1 + noise.stepDrift("plasma_temp", dt/60)
		feedDrift := 1 + noise.stepDrift("powder_feed", dt/60)

		plasmaTemp := plasmaTempBase * osc * oodFactor * thermalDrift
		plasmaPower := plasmaPowerBase * osc * oodFactor

		// Power feeds back into particle heating.
		plasmaTemp *= 0.5 + 0.5*(plasmaPower/plasmaPowerBase)

		primaryGas := baselines.PrimaryGasFlowSlpm * noise.relJitter(0.01)
		secondaryGas := baselines.SecondaryGasFlowSlpm * noise.relJitter(0.01)

		powderFeed := powderFeedBase * osc * oodFactor * feedDrift

		// Carrier gas tracks the powder feed rate.
		carrierGas := baselines.CarrierGasFlowSlpm * (0.9 + 0.2*powderFeed/powderFeedBase)

		// Substrate heats asymptotically as the torch dwells.
		substrateTemp := baselines.SubstrateTempC + 100*(1-math.Exp(-t/60))

		// Robot traverse oscillates the standoff distance slightly.
		sprayDistance := setup.SprayDistanceMm * (1 + 0.02*math.Sin(2*math.Pi*t/30))

		chamberPressure := baselines.ChamberPressureMbar * noise.relJitter(0.002)

		ambientTemp := baselines.AmbientTempC + 0.5*math.Sin(2*math.Pi*t/120)
		ambientHumidity := baselines.AmbientHumidityPct + 2*math.Sin(2*math.Pi*t/180)

		depositionRate := depositionRateUmS(plasmaPower, powderFeed, sprayDistance, setup.RobotSpeedMmS)

		trace = append(trace, SensorSample{
			Timestamp:            start.Add(time.Duration(t * float64(time.Second))),
			TimeSeconds:          t,
			PlasmaTempC:          noise.perturb(plasmaTemp),
			PlasmaPowerKw:        noise.perturb(plasmaPower),
			PrimaryGasFlowSlpm:   noise.perturb(primaryGas),
			SecondaryGasFlowSlpm: noise.perturb(secondaryGas),
			PowderFeedRateGMin:   noise.perturb(powderFeed),
			CarrierGasFlowSlpm:   noise.perturb(carrierGas),
			SubstrateTempC:       noise.perturb(substrateTemp),
			SprayDistanceMm:      noise.perturb(sprayDistance),
			ChamberPressureMbar:  noise.perturb(chamberPressure),
			AmbientTempC:         noise.perturb(ambientTemp),
			AmbientHumidityPct:   noise.perturb(ambientHumidity),
			DepositionRateUmS:    noise.perturb(depositionRate),
		})
	}

	return trace
}

// depositionRateUmS models instantaneous deposition in um/s. Higher power
// and feed deposit more; distance and traverse speed dilute the spray.
// depositionBaseRateUmS is the deposition rate at the standard operating
// point (55 kW, 50 g/min, 120 mm standoff, 500 mm/s traverse).
const depositionBaseRateUmS = 2.5

func depositionRateUmS(plasmaPowerKw, powderFeedGMin, sprayDistanceMm, robotSpeedMmS float64) float64 {
	powerFactor := plasmaPowerKw / 55.0
	feedFactor := powderFeedGMin / 50.0
	distanceFactor := 120.0 / sprayDistanceMm
	speedFactor := 500.0 / robotSpeedMmS

	return depositionBaseRateUmS * powerFactor * feedFactor * distanceFactor * speedFactor
}

package simulation

// Thermal Spray Process Simulator
//
// This package generates synthetic production runs for an atmospheric plasma
// spray line: setup parameters, a 12-channel sensor trace sampled at 1 Hz,
// and the ground-truth quality outcome derived from that trace.
//
// The simulation is deterministic: for a fixed (setup, seed) pair, repeated
// calls reproduce an identical trace and identical quality metrics. All
// randomness flows through a single seeded source per run, which makes
// simulated runs usable as test fixtures and as reproducible training data.
//
// Physics sketch:
//   - Each channel oscillates around a set-point derived from the baselines
//     and the substrate/coating material modifiers, with 2% Gaussian noise.
//   - Deposition rate follows power, feed rate, standoff distance and robot
//     speed; thickness is the integral of deposition rate over the run.
//   - Porosity worsens with poor splat formation, adhesion with thermal
//     stress, roughness with standoff variation.
//   - Defect flags are deterministic threshold crossings on the derived
//     quantities; the quality grade is an ordered ladder over thickness
//     deviation and porosity.

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
)

// defaultStartTime anchors the trace clock so repeated simulations of the
// same seed produce identical timestamps.
var defaultStartTime = time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)

type runConfig struct {
	start     time.Time
	baselines ProcessBaselines
	noise     NoiseConfig
}

// RunOption adjusts simulation parameters that are not part of the setup.
type RunOption func(*runConfig)

// WithStartTime anchors the run at a specific wall-clock time.
func WithStartTime(t time.Time) RunOption {
	return func(c *runConfig) { c.start = t }
}

// WithBaselines overrides the nominal process set-points.
func WithBaselines(b ProcessBaselines) RunOption {
	return func(c *runConfig) { c.baselines = b }
}

// WithNoiseConfig overrides the noise model.
func WithNoiseConfig(n NoiseConfig) RunOption {
	return func(c *runConfig) { c.noise = n }
}

// SimulateRun generates one complete production run. When setup is nil,
// parameters are drawn from the documented operating ranges using the same
// seed, so omitted-setup runs are reproducible too. Invalid setup
// parameters fail with a ValidationError; values are never clamped.
func SimulateRun(setup *SetupParams, seed int64, opts ...RunOption) (*Run, error) {
	cfg := runConfig{
		start:     defaultStartTime,
		baselines: DefaultBaselines(),
		noise:     DefaultNoiseConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	src := rand.NewSource(uint64(seed))
	rng := rand.New(src)

	var params SetupParams
	if setup != nil {
		params = *setup
	} else {
		params = randomSetup(rng, cfg.noise.OODProbability)
	}
	if err := ValidateSetup(params); err != nil {
		return nil, err
	}

	isOOD := IsOutOfDistribution(params)

	// OOD setups also disturb the primary process channels: the operating
	// point itself is off.
	oodFactor := 1.0
	if isOOD {
		oodFactor = 1 + (rng.Float64()*0.4 - 0.2)
	}

	noise := newNoiseGenerator(cfg.noise, src)
	trace := generateTrace(params, cfg.baselines, noise, cfg.start, oodFactor)
	quality := computeQuality(params, trace, noise)

	status := StatusCompleted
	if defectCount(quality) >= severeDefectCountForFailed {
		status = StatusFailed
	}

	return &Run{
		ID:        uuid.NewString()[:8],
		BatchID:   fmt.Sprintf("BATCH-%04d", 1000+rng.Intn(9000)),
		StartTime: cfg.start,
		EndTime:   cfg.start.Add(RunDurationSeconds * time.Second),
		Status:    status,
		IsOOD:     isOOD,
		Setup:     params,
		Trace:     trace,
		Quality:   &quality,
	}, nil
}

// randomSetup draws setup parameters from the training ranges. A small
// fraction of draws is widened beyond those ranges to exercise the
// out-of-distribution path.
func randomSetup(rng *rand.Rand, oodProbability float64) SetupParams {
	uniform := func(r paramRange) float64 {
		return r.Min + rng.Float64()*(r.Max-r.Min)
	}

	setup := SetupParams{
		SubstrateMaterial: substrateMaterials[rng.Intn(len(substrateMaterials))],
		CoatingMaterial:   coatingMaterials[rng.Intn(len(coatingMaterials))],
		TargetThicknessUm: uniform(trainingRanges["targetThicknessUm"]),
		SprayDistanceMm:   uniform(trainingRanges["sprayDistanceMm"]),
		RobotSpeedMmS:     uniform(trainingRanges["robotSpeedMmS"]),
	}

	if rng.Float64() < oodProbability {
		// Push one parameter outside the training window but keep it
		// physically valid.
		span := trainingRanges["sprayDistanceMm"]
		if rng.Float64() < 0.5 {
			setup.SprayDistanceMm = span.Max + 10 + rng.Float64()*30
		} else {
			setup.SprayDistanceMm = span.Min - 10 - rng.Float64()*20
		}
	}

	return setup
}

func defectCount(q QualityMetrics) int {
	count := 0
	for _, flagged := range []bool{q.HasDelamination, q.HasCracks, q.HasVoids} {
		if flagged {
			count++
		}
	}
	return count
}

// Simulator batches runs with staggered start times, mirroring a production
// schedule. Each run gets its own derived seed so the whole dataset is
// reproducible from the simulator seed.
type Simulator struct {
	seed int64
	rng  *rand.Rand
}

// NewSimulator creates a dataset generator with a master seed.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		seed: seed,
		rng:  rand.New(rand.NewSource(uint64(seed))),
	}
}

// GenerateDataset simulates numRuns production runs, three hours apart,
// starting a week in the past.
func (s *Simulator) GenerateDataset(numRuns int) ([]*Run, error) {
	start := defaultStartTime.Add(-7 * 24 * time.Hour)
	runs := make([]*Run, 0, numRuns)

	for i := 0; i < numRuns; i++ {
		runSeed := int64(s.rng.Uint64() >> 1)
		run, err := SimulateRun(nil, runSeed, WithStartTime(start.Add(time.Duration(i)*3*time.Hour)))
		if err != nil {
			return nil, fmt.Errorf("simulating run %d: %w", i, err)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// DatasetSummary aggregates outcomes across a population of runs.
type DatasetSummary struct {
	TotalRuns         int            `json:"totalRuns"`
	CompletedRuns     int            `json:"completedRuns"`
	FailedRuns        int            `json:"failedRuns"`
	OODRuns           int            `json:"oodRuns"`
	AverageThickness  float64        `json:"averageThickness"`
	AveragePorosity   float64        `json:"averagePorosity"`
	DefectRatePct     float64        `json:"defectRate"`
	GradeDistribution map[string]int `json:"gradeDistribution"`
}

// Summarize computes population statistics over finished runs.
func Summarize(runs []*Run) DatasetSummary {
	summary := DatasetSummary{
		GradeDistribution: map[string]int{GradeA: 0, GradeB: 0, GradeC: 0, GradeReject: 0},
	}

	var thicknessSum, porositySum float64
	var defects, graded int

	for _, run := range runs {
		summary.TotalRuns++
		switch run.Status {
		case StatusCompleted:
			summary.CompletedRuns++
		case StatusFailed:
			summary.FailedRuns++
		}
		if run.IsOOD {
			summary.OODRuns++
		}
		if run.Quality == nil {
			continue
		}
		graded++
		thicknessSum += run.Quality.ThicknessUm
		porositySum += run.Quality.PorosityPct
		if run.Quality.DefectFlag {
			defects++
		}
		summary.GradeDistribution[run.Quality.QualityGrade]++
	}

	if graded > 0 {
		summary.AverageThickness = thicknessSum / float64(graded)
		summary.AveragePorosity = porositySum / float64(graded)
		summary.DefectRatePct = float64(defects) / float64(graded) * 100
	}

	return summary
}

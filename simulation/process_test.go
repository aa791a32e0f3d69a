package simulation

import (
	"errors"
	"math"
	"testing"
	"time"
)

func defaultSetup() *SetupParams {
	return &SetupParams{
		SubstrateMaterial: "steel",
		CoatingMaterial:   "YSZ",
		TargetThicknessUm: 300,
		SprayDistanceMm:   120,
		RobotSpeedMmS:     500,
	}
}

func TestSimulateRunDeterministic(t *testing.T) {
	t.Parallel()

	first, err := SimulateRun(defaultSetup(), 1234)
	if err != nil {
		t.Fatalf("first simulation failed: %v", err)
	}
	second, err := SimulateRun(defaultSetup(), 1234)
	if err != nil {
		t.Fatalf("second simulation failed: %v", err)
	}

	if len(first.Trace) != len(second.Trace) {
		t.Fatalf("trace lengths differ: %d vs %d", len(first.Trace), len(second.Trace))
	}
	for i := range first.Trace {
		if first.Trace[i] != second.Trace[i] {
			t.Fatalf("sample %d differs between identical-seed runs:\n%+v\n%+v",
				i, first.Trace[i], second.Trace[i])
		}
	}
	if *first.Quality != *second.Quality {
		t.Errorf("quality differs between identical-seed runs:\n%+v\n%+v",
			*first.Quality, *second.Quality)
	}
}

func TestSimulateRunSeedsDiffer(t *testing.T) {
	t.Parallel()

	a, err := SimulateRun(defaultSetup(), 1)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	b, err := SimulateRun(defaultSetup(), 2)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}

	same := 0
	for i := range a.Trace {
		if a.Trace[i].PlasmaTempC == b.Trace[i].PlasmaTempC {
			same++
		}
	}
	if same == len(a.Trace) {
		t.Errorf("different seeds produced identical plasma temperature traces")
	}
}

func TestSensorDriftAccumulates(t *testing.T) {
	t.Parallel()

	// Same seed, only the drift rate changes. The random draw sequence is
	// identical, so any trace difference comes from the drift walk.
	still := DefaultNoiseConfig()
	still.DriftRatePerMin = 0
	walking := DefaultNoiseConfig()
	walking.DriftRatePerMin = 0.05

	a, err := SimulateRun(defaultSetup(), 7, WithNoiseConfig(still))
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	b, err := SimulateRun(defaultSetup(), 7, WithNoiseConfig(walking))
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}

	var tempDiff, feedDiff float64
	for i := range a.Trace {
		tempDiff += math.Abs(a.Trace[i].PlasmaTempC - b.Trace[i].PlasmaTempC)
		feedDiff += math.Abs(a.Trace[i].PowderFeedRateGMin - b.Trace[i].PowderFeedRateGMin)
	}
	if tempDiff == 0 {
		t.Errorf("drift rate has no effect on plasma temperature")
	}
	if feedDiff == 0 {
		t.Errorf("drift rate has no effect on powder feed")
	}
}

func TestSimulateRunTraceShape(t *testing.T) {
	t.Parallel()

	run, err := SimulateRun(defaultSetup(), 7)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}

	if len(run.Trace) != SamplesPerRun {
		t.Fatalf("got %d samples, want %d", len(run.Trace), SamplesPerRun)
	}
	for i, sample := range run.Trace {
		if sample.TimeSeconds != float64(i) {
			t.Fatalf("sample %d has timeSeconds %.1f", i, sample.TimeSeconds)
		}
		if sample.PlasmaTempC <= 0 || sample.DepositionRateUmS < 0 {
			t.Fatalf("sample %d has nonphysical values: %+v", i, sample)
		}
	}

	if run.Quality == nil {
		t.Fatalf("completed run has no quality metrics")
	}
	if run.Quality.ThicknessUm <= 0 {
		t.Errorf("thickness %.2f is not positive", run.Quality.ThicknessUm)
	}
	if run.Quality.PorosityPct < 0.1 || run.Quality.PorosityPct > 25 {
		t.Errorf("porosity %.2f outside plausible range", run.Quality.PorosityPct)
	}
}

func TestValidateSetupRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*SetupParams)
		field  string
	}{
		{"thickness too low", func(s *SetupParams) { s.TargetThicknessUm = 10 }, "targetThicknessUm"},
		{"thickness too high", func(s *SetupParams) { s.TargetThicknessUm = 5000 }, "targetThicknessUm"},
		{"distance too low", func(s *SetupParams) { s.SprayDistanceMm = 30 }, "sprayDistanceMm"},
		{"speed too high", func(s *SetupParams) { s.RobotSpeedMmS = 2000 }, "robotSpeedMmS"},
		{"unknown substrate", func(s *SetupParams) { s.SubstrateMaterial = "copper" }, "substrateMaterial"},
		{"unknown coating", func(s *SetupParams) { s.CoatingMaterial = "paint" }, "coatingMaterial"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			setup := defaultSetup()
			tc.mutate(setup)

			_, err := SimulateRun(setup, 1)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got err %v, want *ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("error names field %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestOutOfDistributionDetection(t *testing.T) {
	t.Parallel()

	inRange := defaultSetup()
	if IsOutOfDistribution(*inRange) {
		t.Errorf("nominal setup flagged as out-of-distribution")
	}

	// Physically valid but outside the training envelope.
	far := defaultSetup()
	far.SprayDistanceMm = 180
	if !IsOutOfDistribution(*far) {
		t.Errorf("spray distance 180 not flagged as out-of-distribution")
	}

	run, err := SimulateRun(far, 3)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	if !run.IsOOD {
		t.Errorf("run did not carry the out-of-distribution flag")
	}
}

func TestGradeLadderOrdering(t *testing.T) {
	t.Parallel()

	setup := *defaultSetup()
	cases := []struct {
		name      string
		thickness float64
		porosity  float64
		defect    bool
		want      string
	}{
		{"on target", 300, 2, false, GradeA},
		{"edge of A", 285, 2.9, false, GradeA},
		{"mid deviation", 275, 4, false, GradeB},
		{"large deviation", 350, 7, false, GradeC},
		{"beyond ladder", 380, 7, false, GradeReject},
		{"porous", 300, 9, false, GradeReject},
		{"defective overrides", 300, 2, true, GradeReject},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := GradeForOutcome(setup, tc.thickness, tc.porosity, tc.defect)
			if got != tc.want {
				t.Errorf("grade = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestGradeMonotonicInDeviation(t *testing.T) {
	t.Parallel()

	setup := *defaultSetup()
	rank := map[string]int{GradeA: 0, GradeB: 1, GradeC: 2, GradeReject: 3}

	prev := -1
	for dev := 0.0; dev <= 0.3; dev += 0.01 {
		grade := GradeForOutcome(setup, setup.TargetThicknessUm*(1+dev), 2, false)
		if rank[grade] < prev {
			t.Fatalf("grade improved from rank %d to %d as deviation grew to %.2f", prev, rank[grade], dev)
		}
		prev = rank[grade]
	}
}

func TestGenerateDatasetStaggersRuns(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(99)
	runs, err := sim.GenerateDataset(5)
	if err != nil {
		t.Fatalf("dataset generation failed: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("got %d runs, want 5", len(runs))
	}

	seen := map[string]bool{}
	for i, run := range runs {
		if seen[run.ID] {
			t.Fatalf("duplicate run ID %s", run.ID)
		}
		seen[run.ID] = true

		if i > 0 {
			gap := run.StartTime.Sub(runs[i-1].StartTime)
			if gap != 3*time.Hour {
				t.Errorf("run %d starts %v after predecessor, want 3h", i, gap)
			}
		}
	}
}

func TestDepositionRateScalesWithPower(t *testing.T) {
	t.Parallel()

	run, err := SimulateRun(defaultSetup(), 11)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}

	// The run integrates deposition over 120s, so the final thickness must
	// be in the neighborhood of mean rate times duration.
	var rateSum float64
	for _, s := range run.Trace {
		rateSum += s.DepositionRateUmS
	}
	integrated := rateSum / float64(len(run.Trace)) * RunDurationSeconds
	if math.Abs(run.Quality.ThicknessUm-integrated)/integrated > 0.15 {
		t.Errorf("thickness %.1f far from integrated deposition %.1f",
			run.Quality.ThicknessUm, integrated)
	}
}

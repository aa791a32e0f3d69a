package drift

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"coating-metrology/features"
)

// syntheticVectors draws feature vectors where every feature is normal
// with the given mean and sigma, except the feature at shiftIndex which is
// shifted by shiftSigmas standard deviations.
func syntheticVectors(seed uint64, count int, mean, sigma float64, shiftIndex int, shiftSigmas float64) []features.Vector {
	dist := distuv.Normal{Mu: mean, Sigma: sigma, Src: rand.NewSource(seed)}
	vectors := make([]features.Vector, count)
	for i := range vectors {
		values := make([]float64, features.Count())
		for j := range values {
			values[j] = dist.Rand()
			if j == shiftIndex {
				values[j] += shiftSigmas * sigma
			}
		}
		vectors[i] = features.Vector{SchemaVersion: features.SchemaVersion, Values: values}
	}
	return vectors
}

func TestComputeDriftSelfComparison(t *testing.T) {
	t.Parallel()

	reference := syntheticVectors(1, 200, 100, 5, -1, 0)

	status, err := ComputeDrift(reference, reference)
	if err != nil {
		t.Fatalf("ComputeDrift failed: %v", err)
	}
	if status.OverallStatus != StatusStable {
		t.Fatalf("self comparison status = %s, want %s", status.OverallStatus, StatusStable)
	}
	if status.PSI > 1e-9 {
		t.Errorf("self comparison PSI = %v, want 0", status.PSI)
	}
	if len(status.DriftedFeatures) != 0 {
		t.Errorf("self comparison flagged features: %v", status.DriftedFeatures)
	}
}

func TestComputeDriftDetectsLargeShift(t *testing.T) {
	t.Parallel()

	// Every feature shifts six standard deviations; this must be critical.
	reference := syntheticVectors(2, 200, 100, 5, -1, 0)
	current := syntheticVectors(3, 50, 130, 5, -1, 0)

	status, err := ComputeDrift(reference, current)
	if err != nil {
		t.Fatalf("ComputeDrift failed: %v", err)
	}
	if status.OverallStatus != StatusCritical {
		t.Fatalf("status = %s, want %s (PSI=%.3f, drifted=%d)",
			status.OverallStatus, StatusCritical, status.PSI, len(status.DriftedFeatures))
	}
	if status.PSI < psiCriticalThreshold {
		t.Errorf("PSI = %.3f below critical threshold %.2f", status.PSI, psiCriticalThreshold)
	}
	if len(status.DriftedFeatures) == 0 {
		t.Fatalf("no features flagged despite a 6 sigma shift")
	}
	if len(status.DriftedFeatures) > maxReportedFeatures {
		t.Errorf("display list has %d entries, cap is %d",
			len(status.DriftedFeatures), maxReportedFeatures)
	}
	if len(status.FeatureDrift) != features.Count() {
		t.Errorf("per-feature map has %d entries, want %d", len(status.FeatureDrift), features.Count())
	}
}

func TestComputeDriftSingleFeatureShift(t *testing.T) {
	t.Parallel()

	reference := syntheticVectors(4, 200, 100, 5, -1, 0)
	current := syntheticVectors(5, 100, 100, 5, 3, 6)

	status, err := ComputeDrift(reference, current)
	if err != nil {
		t.Fatalf("ComputeDrift failed: %v", err)
	}
	if status.OverallStatus == StatusStable || status.OverallStatus == StatusInsufficientData {
		t.Fatalf("status = %s for a 6 sigma single-feature shift", status.OverallStatus)
	}

	shifted := features.Names()[3]
	fd, ok := status.FeatureDrift[shifted]
	if !ok {
		t.Fatalf("feature %s missing from drift map", shifted)
	}
	if !fd.DriftDetected {
		t.Fatalf("feature %s not flagged: KS=%.3f p=%.4f", shifted, fd.KSStatistic, fd.PValue)
	}
	if fd.PValue >= ksPValueThreshold {
		t.Errorf("p-value %.4f not significant", fd.PValue)
	}
	if fd.ShiftMagnitude < 3 {
		t.Errorf("shift magnitude %.2f sd too small for a 6 sigma shift", fd.ShiftMagnitude)
	}
	if len(status.DriftedFeatures) == 0 || status.DriftedFeatures[0] != shifted {
		t.Errorf("drifted list %v does not lead with %s", status.DriftedFeatures, shifted)
	}
}

func TestComputeDriftInsufficientData(t *testing.T) {
	t.Parallel()

	reference := syntheticVectors(6, 200, 100, 5, -1, 0)
	current := syntheticVectors(7, MinWindowRuns-1, 100, 5, -1, 0)

	status, err := ComputeDrift(reference, current)
	if err != nil {
		t.Fatalf("ComputeDrift failed: %v", err)
	}
	if status.OverallStatus != StatusInsufficientData {
		t.Fatalf("status = %s, want %s", status.OverallStatus, StatusInsufficientData)
	}
	if len(status.FeatureDrift) != 0 {
		t.Errorf("per-feature results computed despite short window")
	}

	noRef, err := ComputeDrift(nil, current)
	if err != nil {
		t.Fatalf("ComputeDrift failed: %v", err)
	}
	if noRef.OverallStatus != StatusUnknown {
		t.Errorf("missing reference status = %s, want %s", noRef.OverallStatus, StatusUnknown)
	}
}

func TestComputeDriftRejectsSchemaMismatch(t *testing.T) {
	t.Parallel()

	reference := syntheticVectors(11, 50, 100, 5, -1, 0)
	truncated := make([]features.Vector, 2*MinWindowRuns)
	for i := range truncated {
		truncated[i] = features.Vector{
			SchemaVersion: features.SchemaVersion,
			Values:        []float64{1, 2, 3},
		}
	}

	// Short vectors must fail the computation, not feed empty columns
	// into the statistics.
	_, err := ComputeDrift(reference, truncated)
	var mismatch *features.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("truncated current window error = %v, want SchemaMismatchError", err)
	}
	if _, err := ComputeDrift(truncated, reference); err == nil {
		t.Fatalf("truncated reference window accepted")
	}

	detector := NewDetector(MinWindowRuns)
	if err := detector.SetReference(truncated); err == nil {
		t.Errorf("SetReference accepted truncated vectors")
	}
	if err := detector.Observe(truncated[0]); err == nil {
		t.Errorf("Observe accepted a truncated vector")
	}
	status, err := detector.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if status.CurrentRunCount != 0 {
		t.Errorf("rejected vector entered the window: count=%d", status.CurrentRunCount)
	}
}

func TestKSPValueBehaviour(t *testing.T) {
	t.Parallel()

	if p := ksPValue(0, 100, 100); p != 1 {
		t.Errorf("p at D=0 is %v, want 1", p)
	}
	if p := ksPValue(0.9, 100, 100); p > 1e-6 {
		t.Errorf("p at D=0.9 is %v, want about 0", p)
	}

	// Larger samples make the same statistic more significant.
	small := ksPValue(0.2, 20, 20)
	large := ksPValue(0.2, 500, 500)
	if large >= small {
		t.Errorf("p did not shrink with sample size: %v vs %v", small, large)
	}
}

func TestPSIQuantileBins(t *testing.T) {
	t.Parallel()

	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(8)}
	reference := make([]float64, 500)
	shifted := make([]float64, 500)
	for i := range reference {
		reference[i] = dist.Rand()
		shifted[i] = dist.Rand() + 2
	}

	if self := psi(reference, reference); self > 1e-12 {
		t.Errorf("PSI of a sample against itself = %v", self)
	}

	moved := psi(reference, shifted)
	if moved < 0.25 {
		t.Errorf("PSI %.3f too small for a 2 sigma shift", moved)
	}

	constant := make([]float64, 100)
	if v := psi(constant, constant); v != 0 {
		t.Errorf("PSI of constant feature = %v, want 0", v)
	}
	if v := psi(reference, nil); v != 0 {
		t.Errorf("PSI with empty window = %v, want 0", v)
	}
}

func TestBinProportionsEdgeValues(t *testing.T) {
	t.Parallel()

	// A value sitting exactly on an edge belongs to the bin above it.
	props := binProportions([]float64{1, 2, 3, 4}, []float64{2})
	if props[0] != 0.25 || props[1] != 0.75 {
		t.Errorf("edge value binned as %v, want [0.25 0.75]", props)
	}
}

func TestDetectorWindowEviction(t *testing.T) {
	t.Parallel()

	reference := syntheticVectors(9, 50, 100, 5, -1, 0)
	detector := NewDetector(MinWindowRuns)
	if err := detector.SetReference(reference); err != nil {
		t.Fatalf("SetReference failed: %v", err)
	}

	// Fill past capacity with shifted runs; only the newest stay.
	shifted := syntheticVectors(10, 3*MinWindowRuns, 130, 5, -1, 0)
	for _, v := range shifted {
		if err := detector.Observe(v); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
	}

	status, err := detector.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if status.CurrentRunCount != MinWindowRuns {
		t.Fatalf("window holds %d runs, want %d", status.CurrentRunCount, MinWindowRuns)
	}
	if status.OverallStatus == StatusStable {
		t.Errorf("shifted window evaluated as stable")
	}

	// Cached until the next observation.
	again, err := detector.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !again.LastUpdated.Equal(status.LastUpdated) {
		t.Errorf("evaluation not cached between observations")
	}
}

func TestSummarizeRecommendations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status string
		want   string
	}{
		{StatusCritical, "Retrain"},
		{StatusStable, "reliable"},
		{StatusInsufficientData, "Collect more runs"},
	}
	for _, tc := range cases {
		summary := Summarize(Status{OverallStatus: tc.status})
		if summary.Recommendation == "" {
			t.Fatalf("no recommendation for %s", tc.status)
		}
		if !strings.Contains(strings.ToLower(summary.Recommendation), strings.ToLower(tc.want)) {
			t.Errorf("%s recommendation %q does not mention %q",
				tc.status, summary.Recommendation, tc.want)
		}
	}
}

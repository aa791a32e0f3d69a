package metrology

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"coating-metrology/features"
	"coating-metrology/simulation"
)

// buildDataset simulates runs and featurizes them. The simulator is
// seeded, so the dataset is identical across test processes.
func buildDataset(t *testing.T, count int) []Example {
	t.Helper()

	sim := simulation.NewSimulator(424242)
	runs, err := sim.GenerateDataset(count)
	if err != nil {
		t.Fatalf("dataset generation failed: %v", err)
	}

	dataset := make([]Example, 0, count)
	for _, run := range runs {
		if run.Quality == nil {
			continue
		}
		vec, err := features.Extract(run)
		if err != nil {
			t.Fatalf("extraction failed for run %s: %v", run.ID, err)
		}
		dataset = append(dataset, Example{Features: vec, Quality: *run.Quality})
	}
	if len(dataset) < MinTrainingRuns {
		t.Fatalf("only %d usable examples", len(dataset))
	}
	return dataset
}

func trainedEngine(t *testing.T, count int) (*Engine, []Example) {
	t.Helper()
	dataset := buildDataset(t, count)
	engine := NewEngine()
	if _, err := engine.Train(dataset); err != nil {
		t.Fatalf("training failed: %v", err)
	}
	return engine, dataset
}

func TestTrainRejectsSmallDataset(t *testing.T) {
	t.Parallel()

	dataset := buildDataset(t, 30)[:MinTrainingRuns-1]
	_, err := Train(dataset)
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got err %v, want *InsufficientDataError", err)
	}
	if insufficient.Need != MinTrainingRuns {
		t.Errorf("error requires %d runs, want %d", insufficient.Need, MinTrainingRuns)
	}
}

func TestTrainProducesReport(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 120)
	snapshot := engine.Snapshot()
	if snapshot == nil {
		t.Fatalf("no snapshot after training")
	}
	report := snapshot.Report

	if report.TrainSize+report.TestSize != len(dataset) {
		t.Errorf("split sizes %d+%d do not cover %d examples",
			report.TrainSize, report.TestSize, len(dataset))
	}
	for _, mr := range []ModelReport{report.Thickness, report.Porosity} {
		rmse, ok := mr.Metrics["rmse"]
		if !ok {
			t.Fatalf("%s report missing rmse", mr.Model)
		}
		if rmse < 0 || math.IsNaN(rmse) {
			t.Errorf("%s rmse = %v", mr.Model, rmse)
		}
	}
	for _, mr := range []ModelReport{report.Defect, report.Grade} {
		acc, ok := mr.Metrics["accuracy"]
		if !ok {
			t.Fatalf("%s report missing accuracy", mr.Model)
		}
		if acc < 0 || acc > 1 {
			t.Errorf("%s accuracy = %v", mr.Model, acc)
		}
	}
}

func TestPredictTracksActualThickness(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 150)

	var totalErr float64
	for _, ex := range dataset[:30] {
		pred, err := engine.Predict(ex.Features)
		if err != nil {
			t.Fatalf("prediction failed: %v", err)
		}
		totalErr += math.Abs(pred.ThicknessUm-ex.Quality.ThicknessUm) / ex.Quality.ThicknessUm
	}
	meanRelErr := totalErr / 30
	if meanRelErr > 0.30 {
		t.Errorf("mean relative thickness error %.2f exceeds 30%%", meanRelErr)
	}
}

func TestPredictOutputShape(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 100)
	pred, err := engine.Predict(dataset[0].Features)
	if err != nil {
		t.Fatalf("prediction failed: %v", err)
	}

	if pred.ThicknessLowerUm > pred.ThicknessUm || pred.ThicknessUm > pred.ThicknessUpperUm {
		t.Errorf("interval [%.1f, %.1f] does not bracket point %.1f",
			pred.ThicknessLowerUm, pred.ThicknessUpperUm, pred.ThicknessUm)
	}
	if pred.DefectProbability < 0 || pred.DefectProbability > 1 {
		t.Errorf("defect probability %v outside [0, 1]", pred.DefectProbability)
	}
	if pred.PorosityPct < 0 || pred.PorosityPct > 20 {
		t.Errorf("porosity %v outside physical bounds", pred.PorosityPct)
	}

	var probSum float64
	for _, grade := range simulation.QualityGrades {
		p, ok := pred.GradeProbabilities[grade]
		if !ok {
			t.Fatalf("grade %s missing from probability map", grade)
		}
		probSum += p
	}
	if math.Abs(probSum-1) > 1e-6 {
		t.Errorf("grade probabilities sum to %v", probSum)
	}
	if _, ok := pred.GradeProbabilities[pred.QualityGrade]; !ok {
		t.Errorf("predicted grade %q not in probability map", pred.QualityGrade)
	}

	switch pred.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		t.Errorf("unknown confidence level %q", pred.Confidence)
	}
}

func TestPredictUncertaintyDecomposition(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 100)
	est, err := engine.PredictUncertainty(dataset[0].Features)
	if err != nil {
		t.Fatalf("uncertainty estimation failed: %v", err)
	}

	if est.Lower > est.PointEstimate || est.PointEstimate > est.Upper {
		t.Errorf("interval [%.1f, %.1f] does not bracket point %.1f",
			est.Lower, est.Upper, est.PointEstimate)
	}
	if est.IntervalWidth != est.Upper-est.Lower {
		t.Errorf("interval width %.2f != upper-lower %.2f", est.IntervalWidth, est.Upper-est.Lower)
	}
	if est.EpistemicVariance < 0 || est.AleatoricVariance < 0 {
		t.Errorf("negative variance component: epistemic=%v aleatoric=%v",
			est.EpistemicVariance, est.AleatoricVariance)
	}
	if diff := math.Abs(est.EpistemicVariance + est.AleatoricVariance - est.TotalVariance); diff > 1e-9 {
		t.Errorf("variance components do not sum to total (off by %v)", diff)
	}
	if est.IntervalCoverage != 0.90 {
		t.Errorf("interval coverage = %v, want 0.90", est.IntervalCoverage)
	}
	switch est.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		t.Errorf("unknown confidence level %q", est.Confidence)
	}
	if est.RelativeUncertainty <= 0.10 && est.Confidence != ConfidenceHigh {
		t.Errorf("relative uncertainty %v should grade high, got %q",
			est.RelativeUncertainty, est.Confidence)
	}
}

func TestPredictWithoutModelFails(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	_, err := engine.Predict(features.Vector{SchemaVersion: features.SchemaVersion})
	var perr *PredictionError
	if !errors.As(err, &perr) {
		t.Fatalf("got err %v, want *PredictionError", err)
	}
}

func TestPredictRejectsSchemaMismatch(t *testing.T) {
	t.Parallel()

	engine, _ := trainedEngine(t, 100)

	stale := features.Vector{SchemaVersion: 0, Values: make([]float64, features.Count())}
	_, err := engine.Predict(stale)

	var perr *PredictionError
	if !errors.As(err, &perr) {
		t.Fatalf("got err %v, want *PredictionError", err)
	}
	var mismatch *features.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("prediction error does not wrap *SchemaMismatchError: %v", err)
	}
}

func TestTrainBumpsVersion(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 100)
	v1 := engine.Snapshot().Version

	if _, err := engine.Train(dataset); err != nil {
		t.Fatalf("retraining failed: %v", err)
	}
	if v2 := engine.Snapshot().Version; v2 != v1+1 {
		t.Errorf("version after retrain = %d, want %d", v2, v1+1)
	}
}

func TestConcurrentTrainingRejected(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 100)

	// Hold the training lock and verify a second Train refuses to queue.
	engine.trainMu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	var trainErr error
	go func() {
		defer wg.Done()
		_, trainErr = engine.Train(dataset)
	}()
	wg.Wait()
	engine.trainMu.Unlock()

	if !errors.Is(trainErr, ErrTrainingBusy) {
		t.Fatalf("got err %v, want ErrTrainingBusy", trainErr)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	t.Parallel()

	engine, dataset := trainedEngine(t, 100)
	want, err := engine.Predict(dataset[0].Features)
	if err != nil {
		t.Fatalf("prediction failed: %v", err)
	}

	payload, err := json.Marshal(engine.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var restored Snapshot
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	loaded := NewEngine()
	loaded.LoadSnapshot(&restored)
	got, err := loaded.Predict(dataset[0].Features)
	if err != nil {
		t.Fatalf("prediction after reload failed: %v", err)
	}
	if got.ThicknessUm != want.ThicknessUm || got.QualityGrade != want.QualityGrade {
		t.Errorf("reloaded model disagrees: %.2f/%s vs %.2f/%s",
			got.ThicknessUm, got.QualityGrade, want.ThicknessUm, want.QualityGrade)
	}
}

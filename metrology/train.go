package metrology

// Training Pipeline
//
// Training is an offline batch operation: the caller provides completed
// runs as (feature vector, quality outcome) pairs, and the pipeline fits
// every head on the same standardized matrix, evaluates them on a
// deterministic holdout split, and returns a self-contained snapshot.
// The snapshot atomically replaces the active one inside the Engine.

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"coating-metrology/features"
	"coating-metrology/simulation"
)

const (
	// MinTrainingRuns is the smallest dataset training accepts.
	MinTrainingRuns = 20

	defaultNeighborCount  = 5
	quantileNeighborCount = 25
	ensembleSize          = 10
	holdoutFraction       = 0.2
)

// Example is one training sample: the features of a completed run together
// with its measured ground-truth outcome.
type Example struct {
	Features features.Vector           `json:"features"`
	Quality  simulation.QualityMetrics `json:"quality"`
}

// ModelReport carries evaluation metrics for one head.
type ModelReport struct {
	Model   string             `json:"model"`
	Metrics map[string]float64 `json:"metrics"`
}

// TrainingReport summarizes one training invocation.
type TrainingReport struct {
	TrainSize int         `json:"trainSize"`
	TestSize  int         `json:"testSize"`
	Thickness ModelReport `json:"thickness"`
	Porosity  ModelReport `json:"porosity"`
	Defect    ModelReport `json:"defect"`
	Grade     ModelReport `json:"grade"`
}

// Snapshot bundles every trained artifact: one head per prediction target,
// the fitted scaler, and the schema they were all trained against. A
// snapshot is immutable once built; replacement is a pointer swap.
type Snapshot struct {
	Version       int       `json:"version"`
	TrainedAt     time.Time `json:"trainedAt"`
	SchemaVersion int       `json:"schemaVersion"`

	FeatureNames []string         `json:"featureNames"`
	Scaler       *features.Scaler `json:"scaler"`
	GradeClasses []string         `json:"gradeClasses"`

	Thickness    *KNNRegressor   `json:"thickness"`
	Porosity     *KNNRegressor   `json:"porosity"`
	Defect       *KNNClassifier  `json:"defect"`
	Grade        *KNNClassifier  `json:"grade"`
	ThicknessQ05 *KNNQuantile    `json:"thicknessQ05"`
	ThicknessQ95 *KNNQuantile    `json:"thicknessQ95"`
	Ensemble     []*KNNRegressor `json:"ensemble"`

	Report *TrainingReport `json:"report"`
}

type trainConfig struct {
	seed int64
	k    int
}

// TrainOption adjusts training hyperparameters.
type TrainOption func(*trainConfig)

// WithTrainSeed fixes the split and bootstrap seed.
func WithTrainSeed(seed int64) TrainOption {
	return func(c *trainConfig) { c.seed = seed }
}

// WithNeighborCount overrides k for the point and class heads.
func WithNeighborCount(k int) TrainOption {
	return func(c *trainConfig) { c.k = k }
}

// Train fits all model heads from a dataset of completed runs. Fewer than
// MinTrainingRuns examples fail with an InsufficientDataError; vectors not
// matching the active feature schema fail with a SchemaMismatchError.
func Train(dataset []Example, opts ...TrainOption) (*Snapshot, error) {
	cfg := trainConfig{seed: 42, k: defaultNeighborCount}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(dataset) < MinTrainingRuns {
		return nil, &InsufficientDataError{Got: len(dataset), Need: MinTrainingRuns}
	}

	raw := make([][]float64, len(dataset))
	for i, ex := range dataset {
		if err := features.CheckVector(ex.Features); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		raw[i] = ex.Features.Values
	}

	scaler, err := features.FitScaler(raw)
	if err != nil {
		return nil, fmt.Errorf("fitting scaler: %w", err)
	}
	scaled, err := scaler.TransformMatrix(raw)
	if err != nil {
		return nil, fmt.Errorf("scaling training matrix: %w", err)
	}

	// Targets.
	thickness := make([]float64, len(dataset))
	porosity := make([]float64, len(dataset))
	defect := make([]int, len(dataset))
	grade := make([]int, len(dataset))
	gradeIndex := classIndex(simulation.QualityGrades)
	for i, ex := range dataset {
		thickness[i] = ex.Quality.ThicknessUm
		porosity[i] = ex.Quality.PorosityPct
		if ex.Quality.DefectFlag {
			defect[i] = 1
		}
		grade[i] = gradeIndex[ex.Quality.QualityGrade]
	}

	// Deterministic holdout split.
	rng := rand.New(rand.NewSource(uint64(cfg.seed)))
	perm := rng.Perm(len(dataset))
	testSize := int(float64(len(dataset)) * holdoutFraction)
	if testSize < 1 {
		testSize = 1
	}
	testIdx, trainIdx := perm[:testSize], perm[testSize:]

	trainRows := selectRows(scaled, trainIdx)
	testRows := selectRows(scaled, testIdx)

	k := cfg.k
	if k > len(trainIdx) {
		k = len(trainIdx)
	}
	quantileK := quantileNeighborCount
	if quantileK > len(trainIdx) {
		quantileK = len(trainIdx)
	}

	snapshot := &Snapshot{
		Version:       1,
		TrainedAt:     time.Now().UTC(),
		SchemaVersion: features.SchemaVersion,
		FeatureNames:  features.Names(),
		Scaler:        scaler,
		GradeClasses:  simulation.QualityGrades,
		Thickness: &KNNRegressor{
			Points: trainRows, Targets: selectFloats(thickness, trainIdx), K: k,
		},
		Porosity: &KNNRegressor{
			Points: trainRows, Targets: selectFloats(porosity, trainIdx), K: k,
		},
		Defect: &KNNClassifier{
			Points: trainRows, Labels: selectInts(defect, trainIdx),
			Classes: []string{"ok", "defect"}, K: k,
		},
		Grade: &KNNClassifier{
			Points: trainRows, Labels: selectInts(grade, trainIdx),
			Classes: simulation.QualityGrades, K: k,
		},
		ThicknessQ05: &KNNQuantile{
			Points: trainRows, Targets: selectFloats(thickness, trainIdx), K: quantileK, Tau: 0.05,
		},
		ThicknessQ95: &KNNQuantile{
			Points: trainRows, Targets: selectFloats(thickness, trainIdx), K: quantileK, Tau: 0.95,
		},
	}

	snapshot.Ensemble = bootstrapEnsemble(rng, trainRows, selectFloats(thickness, trainIdx), k)

	report, err := evaluate(snapshot, testRows, selectFloats(thickness, testIdx),
		selectFloats(porosity, testIdx), selectInts(defect, testIdx), selectInts(grade, testIdx))
	if err != nil {
		return nil, err
	}
	report.TrainSize = len(trainIdx)
	report.TestSize = len(testIdx)
	snapshot.Report = report

	return snapshot, nil
}

// bootstrapEnsemble resamples the training rows with replacement and fits
// one thickness regressor per resample. Disagreement across the ensemble
// approximates epistemic uncertainty.
func bootstrapEnsemble(rng *rand.Rand, rows [][]float64, targets []float64, k int) []*KNNRegressor {
	ensemble := make([]*KNNRegressor, ensembleSize)
	for b := 0; b < ensembleSize; b++ {
		points := make([][]float64, len(rows))
		resampled := make([]float64, len(rows))
		for i := range rows {
			j := rng.Intn(len(rows))
			points[i] = rows[j]
			resampled[i] = targets[j]
		}
		ensemble[b] = &KNNRegressor{Points: points, Targets: resampled, K: k}
	}
	return ensemble
}

func evaluate(s *Snapshot, testRows [][]float64, thickness, porosity []float64, defect, grade []int) (*TrainingReport, error) {
	thicknessPred := make([]float64, len(testRows))
	porosityPred := make([]float64, len(testRows))
	defectPred := make([]int, len(testRows))
	defectScore := make([]float64, len(testRows))
	gradePred := make([]int, len(testRows))
	gradeProbas := make([][]float64, len(testRows))

	for i, row := range testRows {
		var err error
		if thicknessPred[i], err = s.Thickness.PredictPoint(row); err != nil {
			return nil, err
		}
		if porosityPred[i], err = s.Porosity.PredictPoint(row); err != nil {
			return nil, err
		}

		defectProbs, err := s.Defect.PredictProba(row)
		if err != nil {
			return nil, err
		}
		defectScore[i] = defectProbs[1]
		if defectProbs[1] >= 0.5 {
			defectPred[i] = 1
		}

		if gradeProbas[i], err = s.Grade.PredictProba(row); err != nil {
			return nil, err
		}
		for c := range gradeProbas[i] {
			if gradeProbas[i][c] > gradeProbas[i][gradePred[i]] {
				gradePred[i] = c
			}
		}
	}

	// A one-class holdout has no defined AUC; report 0 rather than omit
	// the metric key.
	defectAUC, _ := binaryAUC(defect, defectScore)

	return &TrainingReport{
		Thickness: ModelReport{Model: "thickness", Metrics: regressionMetrics(thickness, thicknessPred)},
		Porosity:  ModelReport{Model: "porosity", Metrics: regressionMetrics(porosity, porosityPred)},
		Defect: ModelReport{Model: "defect", Metrics: map[string]float64{
			"accuracy": accuracy(defect, defectPred),
			"roc_auc":  defectAUC,
		}},
		Grade: ModelReport{Model: "grade", Metrics: map[string]float64{
			"accuracy": accuracy(grade, gradePred),
			"roc_auc":  macroOVRAUC(grade, gradeProbas, len(s.GradeClasses)),
		}},
	}, nil
}

func classIndex(classes []string) map[string]int {
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return idx
}

func selectRows(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

func selectFloats(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

func selectInts(values []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

package metrology

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"coating-metrology/features"
	"coating-metrology/utils"
)

// Confidence levels reported alongside interval predictions.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// confidenceRule maps a relative interval width ceiling to a level. The
// first rule whose ceiling is not exceeded wins.
type confidenceRule struct {
	maxRelativeWidth float64
	level            string
}

var confidenceLadder = []confidenceRule{
	{0.10, ConfidenceHigh},
	{0.20, ConfidenceMedium},
	{math.Inf(1), ConfidenceLow},
}

// Physical output bounds. Predictions outside these are clamped and the
// clamp is surfaced to the caller.
const (
	minThicknessUm = 0.0
	minPorosityPct = 0.0
	maxPorosityPct = 20.0
)

// normal95HalfWidth is the z value for a two-sided 90% interval, used to
// back out a variance from the quantile head's 5th..95th span.
const normal95HalfWidth = 1.645

// QualityPrediction is the full inference output for one run.
type QualityPrediction struct {
	ThicknessUm      float64 `json:"thicknessUm"`
	ThicknessLowerUm float64 `json:"thicknessLowerUm"`
	ThicknessUpperUm float64 `json:"thicknessUpperUm"`
	PorosityPct      float64 `json:"porosityPct"`

	DefectProbability  float64            `json:"defectProbability"`
	QualityGrade       string             `json:"qualityGrade"`
	GradeProbabilities map[string]float64 `json:"gradeProbabilities"`

	Confidence     string   `json:"confidence"`
	ModelVersion   int      `json:"modelVersion"`
	ClampedOutputs []string `json:"clampedOutputs,omitempty"`
}

// UncertaintyEstimate decomposes prediction uncertainty for the thickness
// target into epistemic (model disagreement) and aleatoric (irreducible
// process noise) components.
type UncertaintyEstimate struct {
	PointEstimate       float64 `json:"pointEstimate"`
	Lower               float64 `json:"lower"`
	Upper               float64 `json:"upper"`
	IntervalWidth       float64 `json:"intervalWidth"`
	RelativeUncertainty float64 `json:"relativeUncertainty"`
	Confidence          string  `json:"confidence"`
	IntervalCoverage    float64 `json:"intervalCoverage"`

	EpistemicVariance float64 `json:"epistemicVariance"`
	AleatoricVariance float64 `json:"aleatoricVariance"`
	TotalVariance     float64 `json:"totalVariance"`
}

// Engine serves predictions from the active snapshot. The snapshot pointer
// swaps atomically on retrain, so in-flight predictions always see a fully
// consistent model set and readers never block on training.
type Engine struct {
	snapshot atomic.Pointer[Snapshot]
	trainMu  sync.Mutex
}

// NewEngine returns an engine with no active model. Predict fails until
// the first successful Train or LoadSnapshot.
func NewEngine() *Engine {
	return &Engine{}
}

// Snapshot returns the active snapshot, or nil before the first training.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// LoadSnapshot installs a previously persisted snapshot.
func (e *Engine) LoadSnapshot(s *Snapshot) {
	e.snapshot.Store(s)
}

// Train fits a new snapshot from the dataset and installs it as the active
// model. Only one training may run at a time; a second concurrent call
// fails immediately with ErrTrainingBusy instead of queueing.
func (e *Engine) Train(dataset []Example, opts ...TrainOption) (*TrainingReport, error) {
	if !e.trainMu.TryLock() {
		return nil, ErrTrainingBusy
	}
	defer e.trainMu.Unlock()

	next, err := Train(dataset, opts...)
	if err != nil {
		utils.LogError(context.Background(), "model training failed", err)
		return nil, &PredictionError{Op: "train", Err: err}
	}
	if prev := e.snapshot.Load(); prev != nil {
		next.Version = prev.Version + 1
	}
	e.snapshot.Store(next)

	utils.GetLogger().Info("model snapshot installed",
		slog.Int("version", next.Version),
		slog.Int("trainSize", next.Report.TrainSize),
		slog.Int("testSize", next.Report.TestSize))
	return next.Report, nil
}

// Predict runs every head against one feature vector and assembles the
// combined quality prediction.
func (e *Engine) Predict(v features.Vector) (*QualityPrediction, error) {
	s, scaled, err := e.prepare("predict", v)
	if err != nil {
		return nil, err
	}

	thickness, err := s.Thickness.PredictPoint(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict thickness", Err: err}
	}
	lower, err := s.ThicknessQ05.PredictQuantile(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict thickness lower bound", Err: err}
	}
	upper, err := s.ThicknessQ95.PredictQuantile(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict thickness upper bound", Err: err}
	}
	porosity, err := s.Porosity.PredictPoint(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict porosity", Err: err}
	}
	defectProbs, err := s.Defect.PredictProba(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict defect probability", Err: err}
	}
	grade, _, err := s.Grade.PredictClass(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict grade", Err: err}
	}
	gradeProbs, err := s.Grade.PredictProba(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict grade probabilities", Err: err}
	}

	for _, val := range []float64{thickness, lower, upper, porosity, defectProbs[1]} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, &PredictionError{Op: "predict", Err: errNonFinite{}}
		}
	}

	pred := &QualityPrediction{
		ThicknessUm:       thickness,
		PorosityPct:       porosity,
		DefectProbability: defectProbs[1],
		QualityGrade:      grade,
		ModelVersion:      s.Version,
	}

	// Interval bounds must bracket the point estimate even when separate
	// heads disagree near distribution edges.
	pred.ThicknessLowerUm = math.Min(lower, thickness)
	pred.ThicknessUpperUm = math.Max(upper, thickness)

	if pred.ThicknessUm < minThicknessUm {
		pred.ThicknessUm = minThicknessUm
		pred.ClampedOutputs = append(pred.ClampedOutputs, "thicknessUm")
	}
	if pred.ThicknessLowerUm < minThicknessUm {
		pred.ThicknessLowerUm = minThicknessUm
	}
	if pred.ThicknessUpperUm < pred.ThicknessUm {
		pred.ThicknessUpperUm = pred.ThicknessUm
	}
	switch {
	case pred.PorosityPct < minPorosityPct:
		pred.PorosityPct = minPorosityPct
		pred.ClampedOutputs = append(pred.ClampedOutputs, "porosityPct")
	case pred.PorosityPct > maxPorosityPct:
		pred.PorosityPct = maxPorosityPct
		pred.ClampedOutputs = append(pred.ClampedOutputs, "porosityPct")
	}

	pred.GradeProbabilities = make(map[string]float64, len(s.GradeClasses))
	for i, class := range s.GradeClasses {
		pred.GradeProbabilities[class] = gradeProbs[i]
	}

	pred.Confidence = confidenceFor(pred)
	return pred, nil
}

// PredictUncertainty decomposes the thickness prediction's uncertainty.
// Epistemic variance is the spread of a bootstrap ensemble at the query
// point; aleatoric variance is the remainder of the interval-implied total.
func (e *Engine) PredictUncertainty(v features.Vector) (*UncertaintyEstimate, error) {
	s, scaled, err := e.prepare("predict uncertainty", v)
	if err != nil {
		return nil, err
	}

	point, err := s.Thickness.PredictPoint(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict uncertainty", Err: err}
	}
	lower, err := s.ThicknessQ05.PredictQuantile(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict uncertainty", Err: err}
	}
	upper, err := s.ThicknessQ95.PredictQuantile(scaled)
	if err != nil {
		return nil, &PredictionError{Op: "predict uncertainty", Err: err}
	}
	lower = math.Min(lower, point)
	upper = math.Max(upper, point)

	memberPreds := make([]float64, 0, len(s.Ensemble))
	for _, member := range s.Ensemble {
		mp, err := member.PredictPoint(scaled)
		if err != nil {
			return nil, &PredictionError{Op: "predict uncertainty", Err: err}
		}
		memberPreds = append(memberPreds, mp)
	}

	width := upper - lower
	halfWidth := width / (2 * normal95HalfWidth)
	totalVar := halfWidth * halfWidth
	epistemic := sampleVariance(memberPreds)
	if epistemic > totalVar {
		epistemic = totalVar
	}
	aleatoric := totalVar - epistemic
	if aleatoric < 0 {
		aleatoric = 0
	}

	relative := 0.0
	if point != 0 {
		relative = width / math.Abs(point)
	}

	relWidth := math.Inf(1)
	if point != 0 {
		relWidth = relative
	}

	est := &UncertaintyEstimate{
		PointEstimate:       point,
		Lower:               lower,
		Upper:               upper,
		IntervalWidth:       width,
		RelativeUncertainty: relative,
		Confidence:          levelForRelativeWidth(relWidth),
		IntervalCoverage:    0.90,
		EpistemicVariance:   epistemic,
		AleatoricVariance:   aleatoric,
		TotalVariance:       totalVar,
	}
	return est, nil
}

// prepare resolves the active snapshot and standardizes the input vector.
func (e *Engine) prepare(op string, v features.Vector) (*Snapshot, []float64, error) {
	s := e.snapshot.Load()
	if s == nil {
		return nil, nil, &PredictionError{Op: op, Err: errNoModel{}}
	}
	if v.SchemaVersion != s.SchemaVersion {
		return nil, nil, &PredictionError{Op: op, Err: &features.SchemaMismatchError{
			Expected: s.SchemaVersion,
			Got:      v.SchemaVersion,
			Detail:   "model trained against a different feature schema",
		}}
	}
	if err := features.CheckVector(v); err != nil {
		return nil, nil, &PredictionError{Op: op, Err: err}
	}
	scaled, err := s.Scaler.Transform(v.Values)
	if err != nil {
		return nil, nil, &PredictionError{Op: op, Err: err}
	}
	return s, scaled, nil
}

// confidenceFor grades a prediction by its relative interval width, then
// discounts for defect ambiguity and clamped outputs.
func confidenceFor(p *QualityPrediction) string {
	relWidth := math.Inf(1)
	if p.ThicknessUm > 0 {
		relWidth = (p.ThicknessUpperUm - p.ThicknessLowerUm) / p.ThicknessUm
	}

	// A defect probability near 0.5 means the classifier cannot separate
	// the run from its defective neighbors; degrade one level.
	ambiguous := p.DefectProbability > 0.3 && p.DefectProbability < 0.7
	if ambiguous || len(p.ClampedOutputs) > 0 {
		relWidth *= 2
	}

	return levelForRelativeWidth(relWidth)
}

// levelForRelativeWidth walks the ladder and returns the first level whose
// ceiling admits the width.
func levelForRelativeWidth(relWidth float64) string {
	for _, rule := range confidenceLadder {
		if relWidth <= rule.maxRelativeWidth {
			return rule.level
		}
	}
	return ConfidenceLow
}

func sampleVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

// TopGrades returns the grade probabilities sorted descending, for display.
func (p *QualityPrediction) TopGrades() []string {
	grades := make([]string, 0, len(p.GradeProbabilities))
	for g := range p.GradeProbabilities {
		grades = append(grades, g)
	}
	sort.Slice(grades, func(i, j int) bool {
		pi, pj := p.GradeProbabilities[grades[i]], p.GradeProbabilities[grades[j]]
		if pi != pj {
			return pi > pj
		}
		return grades[i] < grades[j]
	})
	return grades
}

type errNoModel struct{}

func (errNoModel) Error() string { return "no trained model available" }

type errNonFinite struct{}

func (errNonFinite) Error() string { return "prediction produced a non-finite value" }

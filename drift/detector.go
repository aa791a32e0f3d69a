package drift

// Drift Detection
//
// Incoming runs are compared feature by feature against a fixed reference
// window captured at training time. A per-feature two-sample KS test
// catches distributional change; an aggregate Population Stability Index
// over all features summarizes how far the whole process has walked.
// The reference window only moves when a caller re-baselines explicitly,
// so a slow drift cannot hide by dragging its own baseline along.

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"coating-metrology/features"
)

// Overall drift statuses, in increasing severity.
const (
	StatusInsufficientData = "insufficient_data"
	StatusStable           = "stable"
	StatusWarning          = "warning"
	StatusCritical         = "critical"
	StatusUnknown          = "unknown"
)

const (
	// MinWindowRuns is the smallest window size either side may have
	// before drift statistics are considered meaningful.
	MinWindowRuns = 10

	psiWarningThreshold  = 0.1
	psiCriticalThreshold = 0.25
	criticalFeatureCount = 5

	// maxReportedFeatures caps the DriftedFeatures display list. The
	// per-feature map always carries every feature.
	maxReportedFeatures = 12
)

// FeatureDrift holds the comparison result for a single feature.
type FeatureDrift struct {
	FeatureName    string  `json:"featureName"`
	KSStatistic    float64 `json:"ksStatistic"`
	PValue         float64 `json:"pValue"`
	DriftDetected  bool    `json:"driftDetected"`
	ReferenceMean  float64 `json:"referenceMean"`
	CurrentMean    float64 `json:"currentMean"`
	ShiftMagnitude float64 `json:"shiftMagnitude"`
}

// Status is one full drift evaluation over the current window.
type Status struct {
	OverallStatus     string                  `json:"overallStatus"`
	PSI               float64                 `json:"psi"`
	FeatureDrift      map[string]FeatureDrift `json:"featureDrift"`
	DriftedFeatures   []string                `json:"driftedFeatures"`
	ReferenceRunCount int                     `json:"referenceRunCount"`
	CurrentRunCount   int                     `json:"currentRunCount"`
	LastUpdated       time.Time               `json:"lastUpdated"`
}

// Summary is the operator-facing condensation of a Status.
type Summary struct {
	OverallStatus   string   `json:"overallStatus"`
	PSI             float64  `json:"psi"`
	DriftedFeatures []string `json:"driftedFeatures"`
	Recommendation  string   `json:"recommendation"`
}

// ComputeDrift evaluates the current feature window against the reference
// window. Every vector must match the active feature schema; a mismatch on
// either side fails the computation. Windows smaller than MinWindowRuns on
// either side produce an insufficient_data status with no per-feature
// results.
func ComputeDrift(reference, current []features.Vector) (Status, error) {
	if err := checkWindow("reference", reference); err != nil {
		return Status{}, err
	}
	if err := checkWindow("current", current); err != nil {
		return Status{}, err
	}

	status := Status{
		OverallStatus:     StatusUnknown,
		FeatureDrift:      map[string]FeatureDrift{},
		ReferenceRunCount: len(reference),
		CurrentRunCount:   len(current),
		LastUpdated:       time.Now().UTC(),
	}
	// No reference at all is a distinct state from short windows: a fresh
	// deployment has nothing to compare against yet.
	if len(reference) == 0 {
		return status, nil
	}
	if len(reference) < MinWindowRuns || len(current) < MinWindowRuns {
		status.OverallStatus = StatusInsufficientData
		return status, nil
	}

	names := features.Names()
	refCols := columns(reference)
	curCols := columns(current)

	psiSum := 0.0
	drifted := make([]string, 0)
	for i, name := range names {
		d, p := ksTest(refCols[i], curCols[i])
		refMean := stat.Mean(refCols[i], nil)
		curMean := stat.Mean(curCols[i], nil)

		fd := FeatureDrift{
			FeatureName:    name,
			KSStatistic:    d,
			PValue:         p,
			DriftDetected:  p < ksPValueThreshold && d >= ksStatisticThreshold,
			ReferenceMean:  refMean,
			CurrentMean:    curMean,
			ShiftMagnitude: shiftMagnitude(refMean, curMean, refCols[i]),
		}
		status.FeatureDrift[name] = fd
		if fd.DriftDetected {
			drifted = append(drifted, name)
		}
		psiSum += psi(refCols[i], curCols[i])
	}
	status.PSI = psiSum / float64(len(names))

	sort.Slice(drifted, func(a, b int) bool {
		da, db := status.FeatureDrift[drifted[a]], status.FeatureDrift[drifted[b]]
		if da.ShiftMagnitude != db.ShiftMagnitude {
			return da.ShiftMagnitude > db.ShiftMagnitude
		}
		return drifted[a] < drifted[b]
	})
	if len(drifted) > maxReportedFeatures {
		drifted = drifted[:maxReportedFeatures]
	}
	status.DriftedFeatures = drifted

	driftedTotal := 0
	for _, fd := range status.FeatureDrift {
		if fd.DriftDetected {
			driftedTotal++
		}
	}
	switch {
	case status.PSI >= psiCriticalThreshold || driftedTotal > criticalFeatureCount:
		status.OverallStatus = StatusCritical
	case status.PSI >= psiWarningThreshold || driftedTotal >= 1:
		status.OverallStatus = StatusWarning
	default:
		status.OverallStatus = StatusStable
	}
	return status, nil
}

// checkWindow validates every vector in a window against the feature schema.
func checkWindow(name string, window []features.Vector) error {
	for i, v := range window {
		if err := features.CheckVector(v); err != nil {
			return fmt.Errorf("%s window, vector %d: %w", name, i, err)
		}
	}
	return nil
}

// shiftMagnitude expresses the mean shift in reference standard deviations
// so features on different scales sort comparably.
func shiftMagnitude(refMean, curMean float64, refCol []float64) float64 {
	sd := stat.StdDev(refCol, nil)
	if sd < 1e-12 {
		if refMean == curMean {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(curMean-refMean) / sd
}

// columns transposes a validated window into per-feature slices.
func columns(vectors []features.Vector) [][]float64 {
	n := features.Count()
	cols := make([][]float64, n)
	for i := range cols {
		cols[i] = make([]float64, len(vectors))
		for j, v := range vectors {
			cols[i][j] = v.Values[i]
		}
	}
	return cols
}

// Detector tracks a sliding window of recent runs against a pinned
// reference window.
type Detector struct {
	mu         sync.RWMutex
	reference  []features.Vector
	current    []features.Vector
	windowSize int
	last       *Status
}

// NewDetector returns a detector whose current window keeps at most
// windowSize recent runs.
func NewDetector(windowSize int) *Detector {
	if windowSize < MinWindowRuns {
		windowSize = MinWindowRuns
	}
	return &Detector{windowSize: windowSize}
}

// SetReference pins a new reference window. This is the only way the
// baseline moves. Vectors from another schema are rejected wholesale.
func (d *Detector) SetReference(reference []features.Vector) error {
	if err := checkWindow("reference", reference); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = append([]features.Vector(nil), reference...)
	d.last = nil
	return nil
}

// Observe appends one run's features to the current window, evicting the
// oldest entry once the window is full. A vector from another schema is
// rejected and leaves the window unchanged.
func (d *Detector) Observe(v features.Vector) error {
	if err := features.CheckVector(v); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = append(d.current, v)
	if len(d.current) > d.windowSize {
		d.current = d.current[len(d.current)-d.windowSize:]
	}
	d.last = nil
	return nil
}

// Evaluate recomputes drift for the current window. The result is cached
// until the next Observe or SetReference.
func (d *Detector) Evaluate() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil {
		return *d.last, nil
	}
	status, err := ComputeDrift(d.reference, d.current)
	if err != nil {
		return Status{}, err
	}
	d.last = &status
	return status, nil
}

// Summarize condenses a status into a recommendation for operators.
func Summarize(s Status) Summary {
	summary := Summary{
		OverallStatus:   s.OverallStatus,
		PSI:             s.PSI,
		DriftedFeatures: s.DriftedFeatures,
	}
	switch s.OverallStatus {
	case StatusCritical:
		summary.Recommendation = "Significant drift detected. Retrain the model with recent runs before trusting further predictions."
	case StatusWarning:
		if len(s.DriftedFeatures) > 0 {
			summary.Recommendation = fmt.Sprintf("Drift detected in %d feature(s). Monitor closely and consider retraining.", len(s.DriftedFeatures))
		} else {
			summary.Recommendation = "Population shift detected. Monitor closely and consider retraining."
		}
	case StatusStable:
		summary.Recommendation = "No significant drift. Model predictions remain reliable."
	case StatusInsufficientData:
		summary.Recommendation = fmt.Sprintf("Fewer than %d runs in a window. Collect more runs before evaluating drift.", MinWindowRuns)
	default:
		summary.Recommendation = "Drift state unknown. Set a reference window and collect runs."
	}
	return summary
}

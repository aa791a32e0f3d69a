package metrology

// Model Heads
//
// Every model head is a distance-weighted k-nearest-neighbour estimator over
// the scaled training matrix. Neighbours are ranked by Euclidean distance
// and weighted 1/(d+eps), so close training runs dominate the estimate:
//
//   - KNNRegressor: weighted mean of neighbour targets (point estimate).
//   - KNNQuantile: weighted empirical quantile over a wider neighbourhood,
//     used for the 5th/95th percentile thickness bounds.
//   - KNNClassifier: per-class weight aggregation yielding probabilities.
//
// Each head satisfies exactly one capability interface; the snapshot holds
// one typed head per prediction target rather than a single polymorphic
// model.

import (
	"math"
	"sort"
)

// PointPredictor produces a scalar point estimate.
type PointPredictor interface {
	PredictPoint(x []float64) (float64, error)
}

// QuantilePredictor produces an estimate of one target quantile.
type QuantilePredictor interface {
	PredictQuantile(x []float64) (float64, error)
}

// ClassPredictor produces class probabilities.
type ClassPredictor interface {
	PredictProba(x []float64) ([]float64, error)
}

const distanceEpsilon = 1e-9

type neighbor struct {
	index    int
	distance float64
	weight   float64
}

// nearestNeighbors ranks training rows by distance to x and returns the k
// closest, k clamped to the available rows.
func nearestNeighbors(points [][]float64, x []float64, k int) []neighbor {
	neighbors := make([]neighbor, len(points))
	for i, p := range points {
		d := euclideanDistance(x, p)
		neighbors[i] = neighbor{index: i, distance: d, weight: 1 / (d + distanceEpsilon)}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})
	if k > len(neighbors) {
		k = len(neighbors)
	}
	if k < 1 {
		k = 1
	}
	return neighbors[:k]
}

func euclideanDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// KNNRegressor predicts the distance-weighted mean of neighbour targets.
type KNNRegressor struct {
	Points  [][]float64 `json:"points"`
	Targets []float64   `json:"targets"`
	K       int         `json:"k"`
}

func (m *KNNRegressor) PredictPoint(x []float64) (float64, error) {
	if len(m.Points) == 0 {
		return 0, &PredictionError{Op: "regression", Err: errEmptyModel}
	}
	neighbors := nearestNeighbors(m.Points, x, m.K)

	var weightedSum, totalWeight float64
	for _, n := range neighbors {
		weightedSum += m.Targets[n.index] * n.weight
		totalWeight += n.weight
	}
	return weightedSum / totalWeight, nil
}

// KNNQuantile predicts one empirical quantile of the neighbour targets.
// It uses a wider neighbourhood than the point regressor so the tails of
// the local target distribution are represented.
type KNNQuantile struct {
	Points  [][]float64 `json:"points"`
	Targets []float64   `json:"targets"`
	K       int         `json:"k"`
	Tau     float64     `json:"tau"`
}

func (m *KNNQuantile) PredictQuantile(x []float64) (float64, error) {
	if len(m.Points) == 0 {
		return 0, &PredictionError{Op: "quantile regression", Err: errEmptyModel}
	}
	neighbors := nearestNeighbors(m.Points, x, m.K)

	type weightedTarget struct {
		value  float64
		weight float64
	}
	targets := make([]weightedTarget, len(neighbors))
	var totalWeight float64
	for i, n := range neighbors {
		targets[i] = weightedTarget{value: m.Targets[n.index], weight: n.weight}
		totalWeight += n.weight
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].value < targets[j].value })

	// Walk the weighted empirical CDF to the tau cut.
	cut := m.Tau * totalWeight
	var cumulative float64
	for _, t := range targets {
		cumulative += t.weight
		if cumulative >= cut {
			return t.value, nil
		}
	}
	return targets[len(targets)-1].value, nil
}

// KNNClassifier aggregates neighbour weights per class into probabilities.
type KNNClassifier struct {
	Points  [][]float64 `json:"points"`
	Labels  []int       `json:"labels"`
	Classes []string    `json:"classes"`
	K       int         `json:"k"`
}

// PredictProba returns probabilities in Classes order. They sum to 1.
func (m *KNNClassifier) PredictProba(x []float64) ([]float64, error) {
	if len(m.Points) == 0 {
		return nil, &PredictionError{Op: "classification", Err: errEmptyModel}
	}
	neighbors := nearestNeighbors(m.Points, x, m.K)

	probs := make([]float64, len(m.Classes))
	var totalWeight float64
	for _, n := range neighbors {
		probs[m.Labels[n.index]] += n.weight
		totalWeight += n.weight
	}
	for i := range probs {
		probs[i] /= totalWeight
	}
	return probs, nil
}

// PredictClass returns the most probable class and its probability.
func (m *KNNClassifier) PredictClass(x []float64) (string, float64, error) {
	probs, err := m.PredictProba(x)
	if err != nil {
		return "", 0, err
	}
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return m.Classes[best], probs[best], nil
}

var errEmptyModel = errEmpty{}

type errEmpty struct{}

func (errEmpty) Error() string { return "model has no training points" }

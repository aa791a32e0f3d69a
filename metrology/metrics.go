package metrology

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// regressionMetrics reports the standard error measures on a holdout set.
func regressionMetrics(actual, predicted []float64) map[string]float64 {
	n := float64(len(actual))
	if n == 0 {
		return map[string]float64{}
	}

	var sqErr, absErr, absPctErr float64
	for i := range actual {
		diff := actual[i] - predicted[i]
		sqErr += diff * diff
		absErr += math.Abs(diff)
		absPctErr += math.Abs(diff / (actual[i] + 1e-8))
	}

	return map[string]float64{
		"rmse": math.Sqrt(sqErr / n),
		"mae":  absErr / n,
		"r2":   stat.RSquaredFrom(predicted, actual, nil),
		"mape": absPctErr / n * 100,
	}
}

func accuracy(actual, predicted []int) float64 {
	if len(actual) == 0 {
		return 0
	}
	correct := 0
	for i := range actual {
		if actual[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual))
}

// binaryAUC computes ROC-AUC as the Mann-Whitney U statistic: the
// probability a random positive ranks above a random negative, with ties
// counted half. ok is false when the labels hold only one class and no
// AUC is defined.
func binaryAUC(labels []int, scores []float64) (auc float64, ok bool) {
	type scored struct {
		score float64
		label int
	}
	items := make([]scored, len(labels))
	var positives, negatives float64
	for i := range labels {
		items[i] = scored{score: scores[i], label: labels[i]}
		if labels[i] == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0, false
	}

	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	// Assign mid-ranks to tied scores.
	ranks := make([]float64, len(items))
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		mid := float64(i+j-1)/2 + 1
		for k := i; k < j; k++ {
			ranks[k] = mid
		}
		i = j
	}

	var positiveRankSum float64
	for i, item := range items {
		if item.label == 1 {
			positiveRankSum += ranks[i]
		}
	}

	u := positiveRankSum - positives*(positives+1)/2
	return u / (positives * negatives), true
}

// macroOVRAUC averages one-vs-rest binary AUC over classes that appear in
// the holdout labels.
func macroOVRAUC(labels []int, probas [][]float64, numClasses int) float64 {
	var sum float64
	counted := 0
	for c := 0; c < numClasses; c++ {
		binary := make([]int, len(labels))
		scores := make([]float64, len(labels))
		present := false
		for i, label := range labels {
			if label == c {
				binary[i] = 1
				present = true
			}
			scores[i] = probas[i][c]
		}
		if !present {
			continue
		}
		if auc, ok := binaryAUC(binary, scores); ok {
			sum += auc
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

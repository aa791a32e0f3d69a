package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Two-sample Kolmogorov-Smirnov flag thresholds. Both must trip before a
// feature counts as drifted, so tiny-but-significant shifts on large
// windows do not alarm.
const (
	ksPValueThreshold    = 0.05
	ksStatisticThreshold = 0.15
)

// ksTest compares two samples and returns the KS statistic with its
// asymptotic two-sided p-value.
func ksTest(reference, current []float64) (statistic, pValue float64) {
	ref := sortedCopy(reference)
	cur := sortedCopy(current)
	statistic = stat.KolmogorovSmirnov(ref, nil, cur, nil)
	pValue = ksPValue(statistic, len(ref), len(cur))
	return statistic, pValue
}

// ksPValue approximates the two-sided p-value with the asymptotic
// Kolmogorov distribution, using the small-sample correction from
// Numerical Recipes.
func ksPValue(d float64, n1, n2 int) float64 {
	if d <= 0 {
		return 1
	}
	en := math.Sqrt(float64(n1) * float64(n2) / float64(n1+n2))
	lambda := (en + 0.12 + 0.11/en) * d

	sum := 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

const (
	psiBinCount        = 10
	psiProportionFloor = 1e-4
)

// psi computes the Population Stability Index of current against
// reference, using quantile bins derived from the reference sample.
// Proportions are floored so an empty bin cannot blow up the logarithm.
func psi(reference, current []float64) float64 {
	if len(reference) == 0 || len(current) == 0 {
		return 0
	}
	ref := sortedCopy(reference)

	edges := make([]float64, 0, psiBinCount-1)
	for b := 1; b < psiBinCount; b++ {
		q := stat.Quantile(float64(b)/psiBinCount, stat.Empirical, ref, nil)
		if len(edges) == 0 || q > edges[len(edges)-1] {
			edges = append(edges, q)
		}
	}
	if len(edges) == 0 {
		// Constant reference feature; any movement lands in one bin.
		return 0
	}

	refProp := binProportions(reference, edges)
	curProp := binProportions(current, edges)

	value := 0.0
	for i := range refProp {
		r := math.Max(refProp[i], psiProportionFloor)
		c := math.Max(curProp[i], psiProportionFloor)
		value += (c - r) * math.Log(c/r)
	}
	return value
}

func binProportions(sample []float64, edges []float64) []float64 {
	counts := make([]float64, len(edges)+1)
	for _, x := range sample {
		bin := sort.SearchFloat64s(edges, x)
		// SearchFloat64s leaves x == edge at the edge's own index; shift
		// so each bin is closed on its lower edge and edge values open
		// the bin above.
		if bin < len(edges) && x == edges[bin] {
			bin++
		}
		counts[bin]++
	}
	total := float64(len(sample))
	for i := range counts {
		counts[i] /= total
	}
	return counts
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}

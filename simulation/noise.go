package simulation

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseConfig controls the stochastic texture of generated sensor data.
type NoiseConfig struct {
	SensorNoisePct    float64 // relative Gaussian noise per reading
	DriftRatePerMin   float64 // random-walk drift rate
	BatchVariationPct float64 // batch-to-batch variation
	OODProbability    float64 // chance a random setup is drawn out of distribution
}

// DefaultNoiseConfig mirrors the noise levels observed on the real line.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		SensorNoisePct:    0.02,
		DriftRatePerMin:   0.001,
		BatchVariationPct: 0.03,
		OODProbability:    0.05,
	}
}

// noiseGenerator produces seeded Gaussian perturbations for sensor readings.
// All randomness flows through one source, so a fixed seed reproduces an
// identical trace.
type noiseGenerator struct {
	cfg   NoiseConfig
	rng   *rand.Rand
	unit  distuv.Normal
	drift map[string]float64
}

func newNoiseGenerator(cfg NoiseConfig, src rand.Source) *noiseGenerator {
	return &noiseGenerator{
		cfg:   cfg,
		rng:   rand.New(src),
		unit:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		drift: make(map[string]float64),
	}
}

// perturb adds relative Gaussian sensor noise to a reading.
func (n *noiseGenerator) perturb(value float64) float64 {
	return value + n.unit.Rand()*value*n.cfg.SensorNoisePct
}

// gaussian draws from N(0, sigma).
func (n *noiseGenerator) gaussian(sigma float64) float64 {
	return n.unit.Rand() * sigma
}

// relJitter draws a multiplicative factor 1+N(0, pct).
func (n *noiseGenerator) relJitter(pct float64) float64 {
	return 1 + n.unit.Rand()*pct
}

// stepDrift advances the random-walk drift state for a sensor and returns
// the cumulative drift factor.
func (n *noiseGenerator) stepDrift(sensor string, dtMinutes float64) float64 {
	n.drift[sensor] += n.unit.Rand() * n.cfg.DriftRatePerMin * dtMinutes
	return n.drift[sensor]
}

func (n *noiseGenerator) resetDrift() {
	for k := range n.drift {
		delete(n.drift, k)
	}
}

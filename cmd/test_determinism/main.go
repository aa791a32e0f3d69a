package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"coating-metrology/features"
	"coating-metrology/simulation"
)

// Verifies that the simulation and feature pipeline is reproducible: the
// same setup and seed must yield bit-identical traces and feature vectors.
func main() {
	seed := flag.Int64("seed", 1234, "Seed to replay")
	runs := flag.Int("runs", 5, "Number of replays to compare")
	flag.Parse()

	log.Printf("Replaying run with seed %d, %d times\n", *seed, *runs)

	var featureSets [][]float64
	for i := 0; i < *runs; i++ {
		run, err := simulation.SimulateRun(nil, *seed)
		if err != nil {
			log.Fatalf("Replay %d failed: %v", i+1, err)
		}
		vec, err := features.Extract(run)
		if err != nil {
			log.Fatalf("Replay %d extraction failed: %v", i+1, err)
		}
		featureSets = append(featureSets, vec.Values)
		log.Printf("Replay %d: first features: %.10f, %.10f, %.10f",
			i+1, vec.Values[0], vec.Values[1], vec.Values[2])
	}

	fmt.Println("\n=== Determinism Check ===")
	identical := true
	maxDiff := 0.0
	names := features.Names()

	for i := 1; i < len(featureSets); i++ {
		for j := range featureSets[0] {
			diff := math.Abs(featureSets[0][j] - featureSets[i][j])
			if diff > maxDiff {
				maxDiff = diff
			}
			if diff != 0 {
				identical = false
				fmt.Printf("FAIL %s differs between replay 1 and replay %d: %.15f vs %.15f\n",
					names[j], i+1, featureSets[0][j], featureSets[i][j])
			}
		}
	}

	if identical {
		fmt.Println("OK: all replays produced identical feature vectors")
	} else {
		fmt.Printf("FAIL: pipeline is non-deterministic (max diff %e)\n", maxDiff)
	}
}

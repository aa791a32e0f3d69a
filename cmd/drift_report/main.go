package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"coating-metrology/db"
	"coating-metrology/drift"
	"coating-metrology/features"
	"coating-metrology/simulation"
	"coating-metrology/utils"
)

// Config holds drift report configuration
type Config struct {
	DBPath     string
	WindowSize int
	Verbose    bool
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Process Drift Report ===\n")
	log.Printf("Database: %s\n", config.DBPath)
	log.Println()

	// Step 1: Load reference and current windows
	log.Println("Step 1: Loading run windows...")
	client, err := db.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database: %v", err)
	}
	defer client.Close()

	referenceRuns, err := client.ReferenceRuns()
	if err != nil {
		log.Fatalf("ERROR: Failed to load reference runs: %v", err)
	}
	if len(referenceRuns) == 0 {
		log.Fatalf("ERROR: No reference runs found. Generate a dataset with -reference first.")
	}

	currentRuns, err := client.LastCompletedRuns(config.WindowSize)
	if err != nil {
		log.Fatalf("ERROR: Failed to load recent runs: %v", err)
	}

	log.Printf("Reference window: %d runs, current window: %d runs\n",
		len(referenceRuns), len(currentRuns))
	log.Println()

	// Step 2: Extract features for both windows
	log.Println("Step 2: Extracting features...")
	reference := featurize(referenceRuns)
	current := featurize(currentRuns)
	log.Printf("Featurized %d reference and %d current runs\n", len(reference), len(current))
	log.Println()

	// Step 3: Compute drift
	log.Println("Step 3: Computing drift statistics...")
	status, err := drift.ComputeDrift(reference, current)
	if err != nil {
		log.Fatalf("ERROR: Failed to compute drift: %v", err)
	}
	summary := drift.Summarize(status)

	log.Printf("Overall status: %s\n", status.OverallStatus)
	log.Printf("PSI: %.4f\n", status.PSI)
	log.Printf("Drifted features: %d\n", len(status.DriftedFeatures))
	for _, name := range status.DriftedFeatures {
		fd := status.FeatureDrift[name]
		log.Printf("  - %s: KS=%.3f p=%.4f shift=%.2f sd (mean %.3f -> %.3f)\n",
			name, fd.KSStatistic, fd.PValue, fd.ShiftMagnitude, fd.ReferenceMean, fd.CurrentMean)
	}
	if config.Verbose {
		for name, fd := range status.FeatureDrift {
			if !fd.DriftDetected {
				log.Printf("  (stable) %s: KS=%.3f p=%.4f\n", name, fd.KSStatistic, fd.PValue)
			}
		}
	}
	log.Println()
	log.Printf("Recommendation: %s\n", summary.Recommendation)
}

func featurize(runs []*simulation.Run) []features.Vector {
	vectors := make([]features.Vector, 0, len(runs))
	for _, run := range runs {
		vec, err := features.Extract(run)
		if err != nil {
			continue
		}
		vectors = append(vectors, vec)
	}
	return vectors
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.DBPath, "db", utils.GetEnv("METROLOGY_DB_PATH", "data/metrology.db"),
		"SQLite database path")
	flag.IntVar(&config.WindowSize, "window", 50,
		"Number of recent runs in the current window")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Also print stable features")

	flag.Parse()
	return config
}

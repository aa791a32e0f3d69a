package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"coating-metrology/db"
	"coating-metrology/features"
	"coating-metrology/metrology"
	"coating-metrology/utils"
)

// Config holds training configuration
type Config struct {
	DBPath  string
	MaxRuns int
	Seed    int64
	Verbose bool
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Quality Model Training Pipeline ===\n")
	log.Printf("Database: %s\n", config.DBPath)
	log.Println()

	startTime := time.Now()

	// Step 1: Load completed runs
	log.Println("Step 1: Loading completed runs...")
	client, err := db.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database: %v", err)
	}
	defer client.Close()

	runs, err := client.LastCompletedRuns(config.MaxRuns)
	if err != nil {
		log.Fatalf("ERROR: Failed to load runs: %v", err)
	}
	log.Printf("Loaded %d runs\n", len(runs))
	log.Println()

	// Step 2: Extract features
	log.Println("Step 2: Extracting features...")
	dataset := make([]metrology.Example, 0, len(runs))
	skipped := 0
	for _, run := range runs {
		if run.Quality == nil {
			skipped++
			continue
		}
		vec, err := features.Extract(run)
		if err != nil {
			if config.Verbose {
				log.Printf("  - skipping run %s: %v\n", run.ID, err)
			}
			skipped++
			continue
		}
		dataset = append(dataset, metrology.Example{Features: vec, Quality: *run.Quality})
	}
	log.Printf("Extracted %d feature vectors\n", len(dataset))
	if skipped > 0 {
		log.Printf("WARNING: %d runs could not be featurized\n", skipped)
	}
	log.Println()

	// Step 3: Train all heads
	log.Println("Step 3: Training model heads...")
	engine := metrology.NewEngine()
	report, err := engine.Train(dataset, metrology.WithTrainSeed(config.Seed))
	if err != nil {
		log.Fatalf("ERROR: Training failed: %v", err)
	}

	log.Printf("Trained on %d runs, evaluated on %d\n", report.TrainSize, report.TestSize)
	printModelReport(report.Thickness)
	printModelReport(report.Porosity)
	printModelReport(report.Defect)
	printModelReport(report.Grade)
	log.Println()

	// Step 4: Persist the snapshot
	log.Println("Step 4: Saving model snapshot...")
	snapshot := engine.Snapshot()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Fatalf("ERROR: Failed to serialize snapshot: %v", err)
	}
	if err := client.SaveSnapshot(snapshot.Version, snapshot.TrainedAt, payload); err != nil {
		log.Fatalf("ERROR: Failed to save snapshot: %v", err)
	}

	log.Printf("Snapshot v%d saved (%d bytes)\n", snapshot.Version, len(payload))
	log.Printf("Done in %.2fs\n", time.Since(startTime).Seconds())
}

func printModelReport(r metrology.ModelReport) {
	log.Printf("  %s:", r.Model)
	for name, value := range r.Metrics {
		log.Printf("    %-10s %.4f", name, value)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.DBPath, "db", utils.GetEnv("METROLOGY_DB_PATH", "data/metrology.db"),
		"SQLite database path")
	flag.IntVar(&config.MaxRuns, "max-runs", 1000,
		"Maximum number of recent runs to train on")
	flag.Int64Var(&config.Seed, "seed", 42,
		"Seed for the holdout split and bootstrap resampling")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Enable verbose logging")

	flag.Parse()
	return config
}

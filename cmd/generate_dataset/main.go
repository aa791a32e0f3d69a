package main

import (
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"coating-metrology/db"
	"coating-metrology/simulation"
	"coating-metrology/utils"
)

// Config holds dataset generation configuration
type Config struct {
	RunCount  int
	Seed      int64
	DBPath    string
	Reference bool
	Verbose   bool
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Coating Run Dataset Generator ===\n")
	log.Printf("Runs: %d (seed %d)\n", config.RunCount, config.Seed)
	log.Printf("Database: %s\n", config.DBPath)
	log.Println()

	startTime := time.Now()

	// Step 1: Simulate the runs
	log.Println("Step 1: Simulating coating runs...")
	simulator := simulation.NewSimulator(config.Seed)
	runs, err := simulator.GenerateDataset(config.RunCount)
	if err != nil {
		log.Fatalf("ERROR: Failed to generate dataset: %v", err)
	}

	summary := simulation.Summarize(runs)
	log.Printf("Generated %d runs (%d completed, %d failed, %d out-of-distribution)\n",
		summary.TotalRuns, summary.CompletedRuns, summary.FailedRuns, summary.OODRuns)
	if config.Verbose {
		for grade, count := range summary.GradeDistribution {
			log.Printf("  - grade %s: %d runs\n", grade, count)
		}
	}
	log.Println()

	// Step 2: Persist to SQLite
	log.Println("Step 2: Storing runs in database...")
	client, err := db.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database: %v", err)
	}
	defer client.Close()

	if err := client.StoreRuns(runs, config.Reference); err != nil {
		log.Fatalf("ERROR: Failed to store runs: %v", err)
	}

	total, err := client.TotalRuns()
	if err != nil {
		log.Fatalf("ERROR: Failed to count runs: %v", err)
	}

	log.Printf("Database now holds %d runs\n", total)
	log.Printf("Done in %.2fs\n", time.Since(startTime).Seconds())
}

func parseFlags() Config {
	config := Config{}

	flag.IntVar(&config.RunCount, "runs", 200,
		"Number of runs to simulate")
	flag.Int64Var(&config.Seed, "seed", 42,
		"Base seed for the simulator")
	flag.StringVar(&config.DBPath, "db", utils.GetEnv("METROLOGY_DB_PATH", "data/metrology.db"),
		"SQLite database path")
	flag.BoolVar(&config.Reference, "reference", false,
		"Mark generated runs as the drift reference window")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Enable verbose logging")

	flag.Parse()
	return config
}

package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"

	"github.com/joho/godotenv"

	"coating-metrology/db"
	"coating-metrology/features"
	"coating-metrology/metrology"
	"coating-metrology/utils"
)

// Config holds evaluation configuration
type Config struct {
	DBPath  string
	MaxRuns int
	Verbose bool
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Quality Model Evaluation ===\n")
	log.Printf("Database: %s\n", config.DBPath)
	log.Println()

	// Step 1: Load the active snapshot
	log.Println("Step 1: Loading active model snapshot...")
	client, err := db.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database: %v", err)
	}
	defer client.Close()

	payload, ok, err := client.LoadActiveSnapshot()
	if err != nil {
		log.Fatalf("ERROR: Failed to load snapshot: %v", err)
	}
	if !ok {
		log.Fatalf("ERROR: No trained model found. Run train_model first.")
	}

	var snapshot metrology.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		log.Fatalf("ERROR: Failed to decode snapshot: %v", err)
	}

	engine := metrology.NewEngine()
	engine.LoadSnapshot(&snapshot)
	log.Printf("Loaded snapshot v%d (trained %s, schema v%d)\n",
		snapshot.Version, snapshot.TrainedAt.Format("2006-01-02 15:04:05"), snapshot.SchemaVersion)
	log.Println()

	// Step 2: Replay recent runs through the model
	log.Println("Step 2: Evaluating against recent runs...")
	runs, err := client.LastCompletedRuns(config.MaxRuns)
	if err != nil {
		log.Fatalf("ERROR: Failed to load runs: %v", err)
	}

	var (
		evaluated    int
		thicknessErr []float64
		covered      int
		defectHits   int
		gradeHits    int
	)
	for _, run := range runs {
		if run.Quality == nil {
			continue
		}
		vec, err := features.Extract(run)
		if err != nil {
			continue
		}
		pred, err := engine.Predict(vec)
		if err != nil {
			log.Fatalf("ERROR: Prediction failed for run %s: %v", run.ID, err)
		}
		evaluated++

		actual := run.Quality.ThicknessUm
		thicknessErr = append(thicknessErr, math.Abs(pred.ThicknessUm-actual))
		if actual >= pred.ThicknessLowerUm && actual <= pred.ThicknessUpperUm {
			covered++
		}
		if (pred.DefectProbability >= 0.5) == run.Quality.DefectFlag {
			defectHits++
		}
		if pred.QualityGrade == run.Quality.QualityGrade {
			gradeHits++
		}

		if config.Verbose {
			log.Printf("  run %s: thickness %.1f (actual %.1f), grade %s (actual %s), confidence %s\n",
				run.ID, pred.ThicknessUm, actual, pred.QualityGrade, run.Quality.QualityGrade, pred.Confidence)
		}
	}

	if evaluated == 0 {
		log.Fatalf("ERROR: No runs available for evaluation")
	}
	log.Println()

	// Step 3: Report summary metrics
	log.Println("Step 3: Summary")
	log.Printf("  Runs evaluated:       %d\n", evaluated)
	log.Printf("  Thickness MAE:        %.2f um\n", mean(thicknessErr))
	log.Printf("  Interval coverage:    %.1f%% (target 90%%)\n", 100*float64(covered)/float64(evaluated))
	log.Printf("  Defect accuracy:      %.1f%%\n", 100*float64(defectHits)/float64(evaluated))
	log.Printf("  Grade accuracy:       %.1f%%\n", 100*float64(gradeHits)/float64(evaluated))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.DBPath, "db", utils.GetEnv("METROLOGY_DB_PATH", "data/metrology.db"),
		"SQLite database path")
	flag.IntVar(&config.MaxRuns, "max-runs", 200,
		"Maximum number of recent runs to evaluate against")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Enable per-run logging")

	flag.Parse()
	return config
}

package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"coating-metrology/db"
	"coating-metrology/simulation"
	"coating-metrology/utils"
)

// Config holds single-run simulation configuration
type Config struct {
	Seed      int64
	Thickness float64
	Substrate string
	Coating   string
	Distance  float64
	Speed     float64
	DBPath    string
	Store     bool
	Trace     bool
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	setup := &simulation.SetupParams{
		TargetThicknessUm: config.Thickness,
		SubstrateMaterial: config.Substrate,
		CoatingMaterial:   config.Coating,
		SprayDistanceMm:   config.Distance,
		RobotSpeedMmS:     config.Speed,
	}

	run, err := simulation.SimulateRun(setup, config.Seed)
	if err != nil {
		log.Fatalf("ERROR: Simulation failed: %v", err)
	}

	log.Printf("Run %s (batch %s) finished with status %s\n", run.ID, run.BatchID, run.Status)
	if run.IsOOD {
		log.Printf("WARNING: Setup parameters are outside the training distribution\n")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		log.Fatalf("ERROR: Failed to encode run: %v", err)
	}
	if config.Trace {
		if err := enc.Encode(run.Trace); err != nil {
			log.Fatalf("ERROR: Failed to encode trace: %v", err)
		}
	}

	if config.Store {
		client, err := db.NewSQLiteClient(config.DBPath)
		if err != nil {
			log.Fatalf("ERROR: Failed to open database: %v", err)
		}
		defer client.Close()
		if err := client.StoreRun(run, false); err != nil {
			log.Fatalf("ERROR: Failed to store run: %v", err)
		}
		log.Printf("Run stored in %s\n", config.DBPath)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.Int64Var(&config.Seed, "seed", 1,
		"Seed for the run's noise generator")
	flag.Float64Var(&config.Thickness, "thickness", 300,
		"Target coating thickness in micrometers")
	flag.StringVar(&config.Substrate, "substrate", "steel",
		"Substrate material (steel, aluminum, titanium)")
	flag.StringVar(&config.Coating, "coating", "YSZ",
		"Coating material (YSZ, alumina, chromium)")
	flag.Float64Var(&config.Distance, "distance", 120,
		"Spray distance in millimeters")
	flag.Float64Var(&config.Speed, "speed", 500,
		"Robot traverse speed in mm/s")
	flag.StringVar(&config.DBPath, "db", utils.GetEnv("METROLOGY_DB_PATH", "data/metrology.db"),
		"SQLite database path")
	flag.BoolVar(&config.Store, "store", false,
		"Persist the run to the database")
	flag.BoolVar(&config.Trace, "trace", false,
		"Print the full sensor trace")

	flag.Parse()
	return config
}

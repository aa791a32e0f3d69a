package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"coating-metrology/simulation"
	"coating-metrology/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	// Create the directory if it doesn't exist (cross-platform)
	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000" // 5 seconds
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	err = createTables(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createRunsTable := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        batch_id TEXT NOT NULL,
        status TEXT NOT NULL,
        start_time DATETIME NOT NULL,
        end_time DATETIME,
        is_ood INTEGER NOT NULL DEFAULT 0,
        setup TEXT NOT NULL,
        trace TEXT NOT NULL,
        quality TEXT,
        is_reference INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time);
    CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);
    `

	createSnapshotsTable := `
    CREATE TABLE IF NOT EXISTS model_snapshots (
        version INTEGER PRIMARY KEY,
        trained_at DATETIME NOT NULL,
        active INTEGER NOT NULL DEFAULT 0,
        payload TEXT NOT NULL
    );
    `

	createDriftReferenceTable := `
    CREATE TABLE IF NOT EXISTS drift_reference (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        vectors TEXT NOT NULL
    );
    `

	_, err := db.Exec(createRunsTable)
	if err != nil {
		return fmt.Errorf("error creating runs table: %s", err)
	}

	_, err = db.Exec(createSnapshotsTable)
	if err != nil {
		return fmt.Errorf("error creating model_snapshots table: %s", err)
	}

	_, err = db.Exec(createDriftReferenceTable)
	if err != nil {
		return fmt.Errorf("error creating drift_reference table: %s", err)
	}

	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreRun persists one simulated run, including its full sensor trace.
func (db *SQLiteClient) StoreRun(run *simulation.Run, isReference bool) error {
	setupJSON, err := json.Marshal(run.Setup)
	if err != nil {
		return fmt.Errorf("error marshaling setup: %s", err)
	}
	traceJSON, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("error marshaling trace: %s", err)
	}

	var qualityJSON *string
	if run.Quality != nil {
		qualityBytes, err := json.Marshal(run.Quality)
		if err != nil {
			return fmt.Errorf("error marshaling quality: %s", err)
		}
		qualityStr := string(qualityBytes)
		qualityJSON = &qualityStr
	}

	referenceInt := 0
	if isReference {
		referenceInt = 1
	}
	oodInt := 0
	if run.IsOOD {
		oodInt = 1
	}

	_, err = db.db.Exec(`
		INSERT OR REPLACE INTO runs (
			id, batch_id, status, start_time, end_time, is_ood,
			setup, trace, quality, is_reference
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.BatchID,
		run.Status,
		run.StartTime,
		run.EndTime,
		oodInt,
		string(setupJSON),
		string(traceJSON),
		qualityJSON,
		referenceInt,
	)
	if err != nil {
		return fmt.Errorf("error storing run: %s", err)
	}
	return nil
}

// StoreRuns persists a batch of runs in one transaction.
func (db *SQLiteClient) StoreRuns(runs []*simulation.Run, isReference bool) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO runs (
			id, batch_id, status, start_time, end_time, is_ood,
			setup, trace, quality, is_reference
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	referenceInt := 0
	if isReference {
		referenceInt = 1
	}

	for _, run := range runs {
		setupJSON, err := json.Marshal(run.Setup)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling setup: %s", err)
		}
		traceJSON, err := json.Marshal(run.Trace)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling trace: %s", err)
		}
		var qualityJSON *string
		if run.Quality != nil {
			qualityBytes, err := json.Marshal(run.Quality)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("error marshaling quality: %s", err)
			}
			qualityStr := string(qualityBytes)
			qualityJSON = &qualityStr
		}

		oodInt := 0
		if run.IsOOD {
			oodInt = 1
		}
		if _, err := stmt.Exec(run.ID, run.BatchID, run.Status, run.StartTime,
			run.EndTime, oodInt, string(setupJSON), string(traceJSON), qualityJSON, referenceInt); err != nil {
			tx.Rollback()
			return fmt.Errorf("error executing statement: %s", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID.
func (db *SQLiteClient) GetRun(id string) (*simulation.Run, bool, error) {
	row := db.db.QueryRow(`
		SELECT id, batch_id, status, start_time, end_time, is_ood, setup, trace, quality
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to retrieve run: %s", err)
	}
	return run, true, nil
}

// LastCompletedRuns returns up to limit completed runs, most recent first.
func (db *SQLiteClient) LastCompletedRuns(limit int) ([]*simulation.Run, error) {
	rows, err := db.db.Query(`
		SELECT id, batch_id, status, start_time, end_time, is_ood, setup, trace, quality
		FROM runs
		WHERE status IN (?, ?)
		ORDER BY start_time DESC
		LIMIT ?`, simulation.StatusCompleted, simulation.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %s", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ReferenceRuns returns every run flagged as reference window material.
func (db *SQLiteClient) ReferenceRuns() ([]*simulation.Run, error) {
	rows, err := db.db.Query(`
		SELECT id, batch_id, status, start_time, end_time, is_ood, setup, trace, quality
		FROM runs
		WHERE is_reference = 1
		ORDER BY start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying reference runs: %s", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (db *SQLiteClient) TotalRuns() (int, error) {
	var count int
	err := db.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting runs: %s", err)
	}
	return count, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*simulation.Run, error) {
	var run simulation.Run
	var endTime sql.NullTime
	var oodInt int
	var setupJSON, traceJSON string
	var qualityJSON *string

	err := row.Scan(
		&run.ID,
		&run.BatchID,
		&run.Status,
		&run.StartTime,
		&endTime,
		&oodInt,
		&setupJSON,
		&traceJSON,
		&qualityJSON,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	run.IsOOD = oodInt == 1
	if err := json.Unmarshal([]byte(setupJSON), &run.Setup); err != nil {
		return nil, fmt.Errorf("error unmarshaling setup: %s", err)
	}
	if err := json.Unmarshal([]byte(traceJSON), &run.Trace); err != nil {
		return nil, fmt.Errorf("error unmarshaling trace: %s", err)
	}
	if qualityJSON != nil {
		run.Quality = &simulation.QualityMetrics{}
		if err := json.Unmarshal([]byte(*qualityJSON), run.Quality); err != nil {
			return nil, fmt.Errorf("error unmarshaling quality: %s", err)
		}
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*simulation.Run, error) {
	var runs []*simulation.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning run: %s", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveSnapshot stores a serialized model snapshot and marks it active.
// Previous snapshots are kept for rollback but deactivated.
func (db *SQLiteClient) SaveSnapshot(version int, trainedAt time.Time, payload []byte) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	if _, err := tx.Exec("UPDATE model_snapshots SET active = 0"); err != nil {
		tx.Rollback()
		return fmt.Errorf("error deactivating snapshots: %s", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO model_snapshots (version, trained_at, active, payload)
		VALUES (?, ?, 1, ?)`, version, trainedAt, string(payload)); err != nil {
		tx.Rollback()
		return fmt.Errorf("error storing snapshot: %s", err)
	}

	return tx.Commit()
}

// LoadActiveSnapshot returns the payload of the active snapshot, if any.
func (db *SQLiteClient) LoadActiveSnapshot() ([]byte, bool, error) {
	var payload string
	err := db.db.QueryRow(`
		SELECT payload FROM model_snapshots WHERE active = 1
		ORDER BY version DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load snapshot: %s", err)
	}
	return []byte(payload), true, nil
}

// SaveDriftReference replaces the stored drift reference window.
func (db *SQLiteClient) SaveDriftReference(vectors []byte) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	if _, err := tx.Exec("DELETE FROM drift_reference"); err != nil {
		tx.Rollback()
		return fmt.Errorf("error clearing drift reference: %s", err)
	}
	if _, err := tx.Exec("INSERT INTO drift_reference (vectors) VALUES (?)", string(vectors)); err != nil {
		tx.Rollback()
		return fmt.Errorf("error storing drift reference: %s", err)
	}
	return tx.Commit()
}

// LoadDriftReference returns the stored drift reference window, if any.
func (db *SQLiteClient) LoadDriftReference() ([]byte, bool, error) {
	var vectors string
	err := db.db.QueryRow(`
		SELECT vectors FROM drift_reference ORDER BY id DESC LIMIT 1`).Scan(&vectors)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load drift reference: %s", err)
	}
	return []byte(vectors), true, nil
}

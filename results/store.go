package results

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/qw4990/pds_replay/experiment"
	"github.com/qw4990/pds_replay/utils"
)

// Run is the summary of one experiment run.
type Run struct {
	ID                string
	Name              string
	Started           time.Time
	Finished          time.Time
	ExecutionCost     float64
	ApplyCost         float64
	TotalWorkloadTime float64
	Error             string // empty if the run completed
}

// NewRun creates a run with a fresh id starting now.
func NewRun(name string) Run {
	return Run{ID: uuid.New().String(), Name: name, Started: time.Now()}
}

// Finish copies the totals of res into the run.
func (r *Run) Finish(res *experiment.Result, runErr error) {
	r.Finished = time.Now()
	if res != nil {
		r.ExecutionCost = res.ExecutionCost
		r.ApplyCost = res.ApplyCost
		r.TotalWorkloadTime = res.TotalWorkloadTime
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
}

// Store persists runs and their measurements in a SQLite file.
type Store struct {
	db *sql.DB
}

// OpenStore opens the store at path and creates the missing tables.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) tableExists(tn string) (bool, error) {
	var name sql.NullString
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", tn).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to determine existence of table %s: %w", tn, err)
	}
	return true, nil
}

// Init creates the runs and measurements tables if they do not exist.
func (s *Store) Init() error {
	tables := []struct {
		name, ddl string
	}{
		{"runs", "CREATE TABLE runs (" +
			"id TEXT PRIMARY KEY NOT NULL, " +
			"name TEXT NOT NULL, " +
			"started INTEGER NOT NULL, " +
			"finished INTEGER, " +
			"executionCost FLOAT NOT NULL, " +
			"applyCost FLOAT NOT NULL, " +
			"totalWorkloadTime FLOAT NOT NULL, " +
			"error TEXT" +
			")"},
		{"measurements", "CREATE TABLE measurements (" +
			"runId TEXT NOT NULL REFERENCES runs(id), " +
			"seq INTEGER NOT NULL, " +
			"round INTEGER NOT NULL, " +
			"metric TEXT NOT NULL, " +
			"value FLOAT NOT NULL, " +
			"PRIMARY KEY (runId, seq)" +
			")"},
	}
	for _, t := range tables {
		ex, err := s.tableExists(t.name)
		if err != nil {
			return fmt.Errorf("failed to init table %s: %w", t.name, err)
		}
		if ex {
			continue
		}
		if _, err := s.db.Exec(t.ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
		utils.Debugf("created results table %v", t.name)
	}
	return nil
}

// SaveRun stores the run and its measurements in one transaction, in the order of ms.
func (s *Store) SaveRun(run Run, ms []experiment.Measurement) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	var finished sql.NullInt64
	if !run.Finished.IsZero() {
		finished = sql.NullInt64{Int64: run.Finished.Unix(), Valid: true}
	}
	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}
	_, err = tx.Exec(
		"INSERT INTO runs (id, name, started, finished, executionCost, applyCost, totalWorkloadTime, error) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Name, run.Started.Unix(), finished,
		run.ExecutionCost, run.ApplyCost, run.TotalWorkloadTime, runErr,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save run: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO measurements (runId, seq, round, metric, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save measurements: %w", err)
	}
	defer stmt.Close()
	for i, m := range ms {
		if _, err := stmt.Exec(run.ID, i, m.Round, string(m.Kind), m.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save measurements: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Runs returns all stored runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(
		"SELECT id, name, started, finished, executionCost, applyCost, totalWorkloadTime, error " +
			"FROM runs ORDER BY started, id")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch runs: %w", err)
	}
	defer rows.Close()
	var ans []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			runErr   sql.NullString
		)
		err := rows.Scan(&r.ID, &r.Name, &started, &finished, &r.ExecutionCost, &r.ApplyCost, &r.TotalWorkloadTime, &runErr)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch runs: %w", err)
		}
		r.Started = time.Unix(started, 0)
		if finished.Valid {
			r.Finished = time.Unix(finished.Int64, 0)
		}
		r.Error = runErr.String
		ans = append(ans, r)
	}
	return ans, rows.Err()
}

// Measurements returns the measurements of a run in the order they were recorded.
func (s *Store) Measurements(runID string) ([]experiment.Measurement, error) {
	rows, err := s.db.Query("SELECT round, metric, value FROM measurements WHERE runId = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch measurements: %w", err)
	}
	defer rows.Close()
	var ans []experiment.Measurement
	for rows.Next() {
		var m experiment.Measurement
		var kind string
		if err := rows.Scan(&m.Round, &kind, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to fetch measurements: %w", err)
		}
		m.Kind = experiment.MetricKind(kind)
		ans = append(ans, m)
	}
	return ans, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

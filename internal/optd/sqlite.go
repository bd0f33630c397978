package optd

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	scenario_id        TEXT NOT NULL,
	scenario_json      TEXT NOT NULL,
	status             TEXT NOT NULL,
	progress           REAL NOT NULL DEFAULT 0,
	current_iteration  INTEGER NOT NULL DEFAULT 0,
	current_objective  REAL NOT NULL DEFAULT 0,
	best_objective     REAL NOT NULL DEFAULT 0,
	best_point_json    TEXT,
	error_kind         TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL,
	started_at_unix_ms INTEGER NOT NULL DEFAULT 0,
	ended_at_unix_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_scenario ON jobs(scenario_id, status);

CREATE TABLE IF NOT EXISTS iterations (
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	iteration  INTEGER NOT NULL,
	objective  REAL NOT NULL,
	best       REAL NOT NULL,
	improved   INTEGER NOT NULL,
	feasible   INTEGER NOT NULL,
	point_json TEXT,
	at_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (job_id, iteration)
);

CREATE TABLE IF NOT EXISTS results (
	job_id      TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
	result_json TEXT NOT NULL
);
`

// SQLiteStore persists jobs across daemon restarts. It satisfies the same
// Store contract as MemoryStore; the daemon picks one at startup from
// configuration.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One writer keeps modernc's file locking simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateJob(scenario *models.Scenario) (*JobRecord, error) {
	scenarioJSON, err := json.Marshal(scenario)
	if err != nil {
		return nil, fmt.Errorf("marshal scenario: %w", err)
	}

	rec := &JobRecord{
		Job: &models.Job{
			ID:              utils.GenerateJobID(),
			ScenarioID:      scenario.ID,
			Status:          models.JobStatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Scenario: scenario,
	}

	// Active check and insert run in one transaction so concurrent
	// submissions for the same scenario cannot both slip past the check.
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var active string
	err = tx.QueryRow(
		`SELECT id FROM jobs WHERE scenario_id = ? AND status IN ('pending', 'running') LIMIT 1`,
		scenario.ID,
	).Scan(&active)
	if err == nil {
		return nil, fmt.Errorf("%w: %s is active for %s", ErrAlreadyRunning, active, scenario.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check active job: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO jobs (id, scenario_id, scenario_json, status, created_at_unix_ms) VALUES (?, ?, ?, ?, ?)`,
		rec.Job.ID, rec.Job.ScenarioID, string(scenarioJSON), string(rec.Job.Status), rec.Job.CreatedAtUnixMs,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, scenario_id, scenario_json, status, progress, current_iteration,
		        current_objective, best_objective, best_point_json, error_kind, error,
		        created_at_unix_ms, started_at_unix_ms, ended_at_unix_ms
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		job           models.Job
		scenarioJSON  string
		status        string
		bestPointJSON sql.NullString
	)
	err := row.Scan(&job.ID, &job.ScenarioID, &scenarioJSON, &status, &job.Progress,
		&job.CurrentIteration, &job.CurrentObjective, &job.BestObjective, &bestPointJSON,
		&job.ErrorKind, &job.Error, &job.CreatedAtUnixMs, &job.StartedAtUnixMs, &job.EndedAtUnixMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)

	var scenario models.Scenario
	if err := json.Unmarshal([]byte(scenarioJSON), &scenario); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	if bestPointJSON.Valid && bestPointJSON.String != "" {
		if err := json.Unmarshal([]byte(bestPointJSON.String), &job.BestPoint); err != nil {
			return nil, fmt.Errorf("unmarshal best point: %w", err)
		}
	}
	return &JobRecord{Job: &job, Scenario: &scenario}, nil
}

func (s *SQLiteStore) ListJobs(limit, offset int, status models.JobStatus) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, scenario_id, scenario_json, status, progress, current_iteration,
	                 current_objective, best_objective, best_point_json, error_kind, error,
	                 created_at_unix_ms, started_at_unix_ms, ended_at_unix_ms
	          FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at_unix_ms DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*JobRecord, 0, limit)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteJob(jobID string) error {
	rec, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	if !rec.Job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobNotTerminal, jobID, rec.Job.Status)
	}
	_, err = s.db.Exec(`DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetStatus(jobID string, status models.JobStatus, errKind, errMsg string) (*JobRecord, error) {
	// Read-validate-write in one transaction; two racing transitions can
	// never both pass the state-machine check.
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT id, scenario_id, scenario_json, status, progress, current_iteration,
		        current_objective, best_objective, best_point_json, error_kind, error,
		        created_at_unix_ms, started_at_unix_ms, ended_at_unix_ms
		 FROM jobs WHERE id = ?`, jobID)
	rec, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if !validTransition(rec.Job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, rec.Job.Status, status)
	}

	rec.Job.Status = status
	if errMsg != "" {
		rec.Job.ErrorKind = errKind
		rec.Job.Error = errMsg
	}
	switch status {
	case models.JobStatusRunning:
		if rec.Job.StartedAtUnixMs == 0 {
			rec.Job.StartedAtUnixMs = nowUnixMs()
		}
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		rec.Job.EndedAtUnixMs = nowUnixMs()
	}

	_, err = tx.Exec(
		`UPDATE jobs SET status = ?, error_kind = ?, error = ?, started_at_unix_ms = ?, ended_at_unix_ms = ? WHERE id = ?`,
		string(rec.Job.Status), rec.Job.ErrorKind, rec.Job.Error, rec.Job.StartedAtUnixMs, rec.Job.EndedAtUnixMs, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateProgress(jobID string, iteration int, progress, current, best float64, bestPoint map[string]float64) error {
	var bestPointJSON any
	if bestPoint != nil {
		b, err := json.Marshal(bestPoint)
		if err != nil {
			return fmt.Errorf("marshal best point: %w", err)
		}
		bestPointJSON = string(b)
	}

	res, err := s.db.Exec(
		`UPDATE jobs SET current_iteration = ?, current_objective = ?, best_objective = ?,
		        progress = MAX(progress, ?),
		        best_point_json = COALESCE(?, best_point_json)
		 WHERE id = ?`,
		iteration, current, best, progress, bestPointJSON, jobID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func (s *SQLiteStore) AppendIteration(rec *models.IterationRecord) error {
	var pointJSON any
	if rec.Point != nil {
		b, err := json.Marshal(rec.Point)
		if err != nil {
			return fmt.Errorf("marshal point: %w", err)
		}
		pointJSON = string(b)
	}

	_, err := s.db.Exec(
		`INSERT INTO iterations (job_id, iteration, objective, best, improved, feasible, point_json, at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.Iteration, rec.Objective, rec.Best, boolToInt(rec.Improved), boolToInt(rec.Feasible), pointJSON, rec.AtUnixMs,
	)
	if err != nil {
		return fmt.Errorf("append iteration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Iterations(jobID string, limit int) ([]*models.IterationRecord, error) {
	if _, err := s.GetJob(jobID); err != nil {
		return nil, err
	}

	query := `SELECT job_id, iteration, objective, best, improved, feasible, point_json, at_unix_ms
	          FROM iterations WHERE job_id = ? ORDER BY iteration ASC`
	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.IterationRecord, 0)
	for rows.Next() {
		var (
			rec       models.IterationRecord
			improved  int
			feasible  int
			pointJSON sql.NullString
		)
		if err := rows.Scan(&rec.JobID, &rec.Iteration, &rec.Objective, &rec.Best, &improved, &feasible, &pointJSON, &rec.AtUnixMs); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		rec.Improved = improved != 0
		rec.Feasible = feasible != 0
		if pointJSON.Valid && pointJSON.String != "" {
			if err := json.Unmarshal([]byte(pointJSON.String), &rec.Point); err != nil {
				return nil, fmt.Errorf("unmarshal point: %w", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *SQLiteStore) LastIteration(jobID string) (int, error) {
	if _, err := s.GetJob(jobID); err != nil {
		return 0, err
	}
	var last sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(iteration) FROM iterations WHERE job_id = ?`, jobID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last iteration: %w", err)
	}
	return int(last.Int64), nil
}

func (s *SQLiteStore) SetResult(jobID string, rs *models.ResultSet) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO results (job_id, result_json) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET result_json = excluded.result_json`,
		jobID, string(b),
	)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(jobID string) (*models.ResultSet, error) {
	var resultJSON string
	err := s.db.QueryRow(`SELECT result_json FROM results WHERE job_id = ?`, jobID).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetJob(jobID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s", ErrResultNotReady, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var rs models.ResultSet
	if err := json.Unmarshal([]byte(resultJSON), &rs); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &rs, nil
}

func (s *SQLiteStore) ActiveJobForScenario(scenarioID string) (string, bool) {
	var jobID string
	err := s.db.QueryRow(
		`SELECT id FROM jobs WHERE scenario_id = ? AND status IN ('pending', 'running') LIMIT 1`,
		scenarioID,
	).Scan(&jobID)
	if err != nil {
		return "", false
	}
	return jobID, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

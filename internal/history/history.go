// Package history is the append-only execution ledger: runs and their
// per-test results, stored in the workspace SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"flakeradar/internal/model"
)

type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Run is one recorded analysis ingestion.
type Run struct {
	ID          string         `json:"id"`
	TS          int64          `json:"run_ts"`
	Project     string         `json:"project"`
	BuildID     string         `json:"build_id,omitempty"`
	CommitSHA   string         `json:"commit_sha,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// InsertRun records a run and all of its test results in one
// transaction. Returns the generated run id.
func (s Store) InsertRun(ctx context.Context, run Run, results []model.TestResult) (string, error) {
	if run.Project == "" {
		return "", errors.New("project required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	meta, err := json.Marshal(run.Meta)
	if err != nil {
		return "", fmt.Errorf("marshal run meta: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id,run_ts,project,build_id,commit_sha,environment,meta_json) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.TS, run.Project, nullable(run.BuildID), nullable(run.CommitSHA), nullable(run.Environment), string(meta)); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO test_results(run_id,full_name,suite,status,duration_ms,error_type,error_message,error_details) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, r := range results {
		var dur any
		if r.DurationMS != nil {
			dur = *r.DurationMS
		}
		if _, err := stmt.ExecContext(ctx, run.ID, r.FullName, nullable(r.Suite), r.Status, dur,
			nullable(r.ErrorType), nullable(r.ErrorMessage), nullable(r.ErrorDetails)); err != nil {
			return "", fmt.Errorf("insert result %s: %w", r.FullName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

// FetchRecent returns every execution belonging to the project's most
// recent windowRuns runs, ordered oldest first. The explicit
// run_ts/id ordering keeps transition counting meaningful regardless
// of storage layout.
func (s Store) FetchRecent(ctx context.Context, project string, windowRuns int) ([]model.TestResult, error) {
	if windowRuns <= 0 {
		windowRuns = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT t.full_name, COALESCE(t.suite,''), t.status, r.run_ts, t.duration_ms,
		       COALESCE(t.error_type,''), COALESCE(t.error_message,''), COALESCE(t.error_details,'')
		  FROM test_results t
		  JOIN runs r ON r.id = t.run_id
		 WHERE r.id IN (SELECT id FROM runs WHERE project=? ORDER BY run_ts DESC LIMIT ?)
		 ORDER BY r.run_ts ASC, t.id ASC`, project, windowRuns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// FetchTestHistory returns the most recent executions of one test,
// newest first.
func (s Store) FetchTestHistory(ctx context.Context, project, fullName string, limit int) ([]model.TestResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT t.full_name, COALESCE(t.suite,''), t.status, r.run_ts, t.duration_ms,
		       COALESCE(t.error_type,''), COALESCE(t.error_message,''), COALESCE(t.error_details,'')
		  FROM test_results t
		  JOIN runs r ON r.id = t.run_id
		 WHERE r.project=? AND t.full_name=?
		 ORDER BY r.run_ts DESC, t.id DESC
		 LIMIT ?`, project, fullName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// GetRun returns run metadata by id.
func (s Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		run   Run
		meta  sql.NullString
		build sql.NullString
		sha   sql.NullString
		env   sql.NullString
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id,run_ts,project,build_id,commit_sha,environment,meta_json FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.TS, &run.Project, &build, &sha, &env, &meta)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	run.BuildID = build.String
	run.CommitSHA = sha.String
	run.Environment = env.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &run.Meta); err != nil {
			return Run{}, fmt.Errorf("unmarshal run meta: %w", err)
		}
	}
	return run, nil
}

// CountRuns returns how many runs the project has recorded.
func (s Store) CountRuns(ctx context.Context, project string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE project=?`, project).Scan(&n)
	return n, err
}

func scanResults(rows *sql.Rows) ([]model.TestResult, error) {
	var out []model.TestResult
	for rows.Next() {
		var (
			r   model.TestResult
			dur sql.NullInt64
		)
		if err := rows.Scan(&r.FullName, &r.Suite, &r.Status, &r.RunTS, &dur,
			&r.ErrorType, &r.ErrorMessage, &r.ErrorDetails); err != nil {
			return nil, err
		}
		if dur.Valid {
			d := dur.Int64
			r.DurationMS = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

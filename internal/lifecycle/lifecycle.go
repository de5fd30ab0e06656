// Package lifecycle tracks when each test entered and exited a flaky
// state. It is the sole owner of flaky_lifecycle rows.
//
// A record is OPEN while fixed_ts is null and CLOSED once set. Closed
// records are immutable; if a test turns flaky again later, a new
// record is opened. At most one OPEN record exists per
// (project, full_name) at any time.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"flakeradar/internal/model"
)

const secondsPerDay = 86400

type Tracker struct {
	DB *sql.DB
}

// TrackResult reports what one invocation changed.
type TrackResult struct {
	Opened  []model.LifecycleRecord
	Updated []model.LifecycleRecord
	Closed  []model.LifecycleRecord
}

// Track reconciles lifecycle rows against the classifier output at
// time now. All mutations run in a single transaction; on any error
// nothing is committed.
func (t Tracker) Track(ctx context.Context, project string, stats map[string]model.FlakinessRecord, now time.Time) (TrackResult, error) {
	var res TrackResult
	ts := now.Unix()

	currentlyFlaky := make(map[string]model.FlakinessRecord)
	for name, rec := range stats {
		if rec.SuspectFlaky {
			currentlyFlaky[name] = rec
		}
	}

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return TrackResult{}, fmt.Errorf("begin lifecycle tx: %w", err)
	}
	defer tx.Rollback()

	open, err := openRecordsTx(ctx, tx, project)
	if err != nil {
		return TrackResult{}, err
	}
	openByName := make(map[string]model.LifecycleRecord, len(open))
	for _, rec := range open {
		openByName[rec.FullName] = rec
	}

	for name, stat := range currentlyFlaky {
		prev, exists := openByName[name]
		if !exists {
			rec := model.LifecycleRecord{
				FullName:      name,
				Project:       project,
				FirstDetected: ts,
				LastSeen:      ts,
				TotalFailures: int64(stat.FailCount),
			}
			out, err := tx.ExecContext(ctx,
				`INSERT INTO flaky_lifecycle(full_name,project,first_detected,last_seen,days_flaky,total_failures) VALUES (?,?,?,?,0,?)`,
				name, project, ts, ts, stat.FailCount)
			if err != nil {
				return TrackResult{}, fmt.Errorf("open lifecycle %s: %w", name, err)
			}
			rec.ID, _ = out.LastInsertId()
			res.Opened = append(res.Opened, rec)
			continue
		}
		days := (ts - prev.FirstDetected) / secondsPerDay
		if _, err := tx.ExecContext(ctx,
			`UPDATE flaky_lifecycle SET last_seen=?, total_failures=total_failures+?, days_flaky=? WHERE id=? AND fixed_ts IS NULL`,
			ts, stat.FailCount, days, prev.ID); err != nil {
			return TrackResult{}, fmt.Errorf("update lifecycle %s: %w", name, err)
		}
		prev.LastSeen = ts
		prev.TotalFailures += int64(stat.FailCount)
		prev.DaysFlaky = days
		res.Updated = append(res.Updated, prev)
	}

	for _, prev := range open {
		if _, still := currentlyFlaky[prev.FullName]; still {
			continue
		}
		days := (ts - prev.FirstDetected) / secondsPerDay
		if _, err := tx.ExecContext(ctx,
			`UPDATE flaky_lifecycle SET fixed_ts=?, days_flaky=? WHERE id=? AND fixed_ts IS NULL`,
			ts, days, prev.ID); err != nil {
			return TrackResult{}, fmt.Errorf("close lifecycle %s: %w", prev.FullName, err)
		}
		prev.FixedTS = ts
		prev.DaysFlaky = days
		res.Closed = append(res.Closed, prev)
	}

	if err := tx.Commit(); err != nil {
		return TrackResult{}, fmt.Errorf("commit lifecycle tx: %w", err)
	}
	return res, nil
}

// OpenRecords returns the project's currently open lifecycle rows.
func (t Tracker) OpenRecords(ctx context.Context, project string) ([]model.LifecycleRecord, error) {
	rows, err := t.DB.QueryContext(ctx,
		`SELECT id,full_name,project,first_detected,last_seen,COALESCE(fixed_ts,0),days_flaky,total_failures
		   FROM flaky_lifecycle WHERE project=? AND fixed_ts IS NULL`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// WorstOffenders ranks all lifecycle rows by elapsed flaky duration
// (live for open rows, stored for closed) then cumulative failures,
// and returns the top limit.
func (t Tracker) WorstOffenders(ctx context.Context, project string, limit int, now time.Time) ([]model.LifecycleRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := t.DB.QueryContext(ctx, `
		SELECT id,full_name,project,first_detected,last_seen,COALESCE(fixed_ts,0),days_flaky,total_failures
		  FROM flaky_lifecycle
		 WHERE project=?
		 ORDER BY CASE WHEN fixed_ts IS NULL THEN (? - first_detected)/86400 ELSE days_flaky END DESC,
		          total_failures DESC
		 LIMIT ?`, project, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// History returns every lifecycle row ever recorded for one test,
// oldest first. Useful for inspecting repeated flaky periods.
func (t Tracker) History(ctx context.Context, project, fullName string) ([]model.LifecycleRecord, error) {
	rows, err := t.DB.QueryContext(ctx,
		`SELECT id,full_name,project,first_detected,last_seen,COALESCE(fixed_ts,0),days_flaky,total_failures
		   FROM flaky_lifecycle WHERE project=? AND full_name=? ORDER BY first_detected ASC`, project, fullName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func openRecordsTx(ctx context.Context, tx *sql.Tx, project string) ([]model.LifecycleRecord, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id,full_name,project,first_detected,last_seen,COALESCE(fixed_ts,0),days_flaky,total_failures
		   FROM flaky_lifecycle WHERE project=? AND fixed_ts IS NULL`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]model.LifecycleRecord, error) {
	var out []model.LifecycleRecord
	for rows.Next() {
		var rec model.LifecycleRecord
		if err := rows.Scan(&rec.ID, &rec.FullName, &rec.Project, &rec.FirstDetected,
			&rec.LastSeen, &rec.FixedTS, &rec.DaysFlaky, &rec.TotalFailures); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

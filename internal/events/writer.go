// Package events appends analysis events to the journal table, giving
// dashboards a local substitute for broker fan-out.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append records one event. Pass a non-nil tx to join an enclosing
// transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, project, runID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := `INSERT INTO events(ts,type,project,run_id,payload_json) VALUES (?,?,?,?,?)`
	args := []any{ts, evtType, nullable(project), nullable(runID), string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

// Event is one journal row.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Project string `json:"project,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}

// Tail returns the most recent events, newest first.
func (w Writer) Tail(ctx context.Context, project string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,COALESCE(project,''),COALESCE(run_id,''),payload_json FROM events`
	var args []any
	if project != "" {
		query += ` WHERE project=?`
		args = append(args, project)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Project, &e.RunID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

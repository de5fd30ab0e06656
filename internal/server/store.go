package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store holds the team-side tables of the dev server: teams, their API
// tokens (hashed), and submitted analyses.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type Token struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name,omitempty"`
	TokenHash string `json:"-"`
	CreatedAt string `json:"created_at"`
}

type Submission struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Project     string `json:"project"`
	Environment string `json:"environment,omitempty"`
	Contributor string `json:"contributor,omitempty"`
	BuildID     string `json:"build_id,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	SubmittedAt string `json:"submitted_at"`
	TotalTests  int    `json:"total_tests"`
	FlakyCount  int    `json:"flaky_count"`
	ReportJSON  string `json:"-"`
}

// HashToken returns the stable SHA-256 hex digest used to store and
// look up API tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// CreateTeam inserts a team and its first token. The plaintext token
// is returned exactly once; only its hash is stored.
func (s Store) CreateTeam(ctx context.Context, name string) (Team, string, error) {
	if strings.TrimSpace(name) == "" {
		return Team{}, "", errors.New("team name required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	team := Team{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: now}
	plaintext := "frt_" + uuid.NewString()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Team{}, "", err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO teams(id,name,created_at) VALUES (?,?,?)`,
		team.ID, team.Name, team.CreatedAt); err != nil {
		return Team{}, "", fmt.Errorf("insert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO team_tokens(id,team_id,token_hash,name,created_at) VALUES (?,?,?,?,?)`,
		uuid.NewString(), team.ID, HashToken(plaintext), "default", now); err != nil {
		return Team{}, "", fmt.Errorf("insert token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Team{}, "", err
	}
	return team, plaintext, nil
}

// CreateToken mints an additional token for an existing team.
func (s Store) CreateToken(ctx context.Context, teamID, name string) (string, error) {
	plaintext := "frt_" + uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO team_tokens(id,team_id,token_hash,name,created_at) VALUES (?,?,?,?,?)`,
		uuid.NewString(), teamID, HashToken(plaintext), nullable(name), now)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// TokenByHash resolves a token hash to its team, stamping last_used.
func (s Store) TokenByHash(ctx context.Context, hash string) (Token, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,team_id,COALESCE(name,''),token_hash,created_at FROM team_tokens WHERE token_hash=? LIMIT 1`, hash)
	var t Token
	err := row.Scan(&t.ID, &t.TeamID, &t.Name, &t.TokenHash, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, err
	}
	_, _ = s.DB.ExecContext(ctx, `UPDATE team_tokens SET last_used=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), t.ID)
	return t, nil
}

// GetTeam returns a team by id.
func (s Store) GetTeam(ctx context.Context, id string) (Team, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM teams WHERE id=?`, id)
	var t Team
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Team{}, ErrNotFound
	}
	return t, err
}

// InsertSubmission records a submitted analysis.
func (s Store) InsertSubmission(ctx context.Context, sub Submission, report any) (Submission, error) {
	sub.ID = uuid.NewString()
	sub.SubmittedAt = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(report)
	if err != nil {
		return Submission{}, fmt.Errorf("marshal report: %w", err)
	}
	sub.ReportJSON = string(payload)
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO team_submissions(id,team_id,project,environment,contributor,build_id,commit_sha,submitted_at,total_tests,flaky_count,report_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sub.ID, sub.TeamID, sub.Project, nullable(sub.Environment), nullable(sub.Contributor),
		nullable(sub.BuildID), nullable(sub.CommitSHA), sub.SubmittedAt, sub.TotalTests, sub.FlakyCount, sub.ReportJSON)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

// DashboardSummary aggregates a project's submissions.
type DashboardSummary struct {
	Project      string       `json:"project"`
	Submissions  int          `json:"submissions"`
	TotalTests   int          `json:"total_tests"`
	FlakyCount   int          `json:"flaky_count"`
	Contributors []string     `json:"contributors"`
	Environments []string     `json:"environments"`
	Recent       []Submission `json:"recent"`
}

// Dashboard builds the per-project summary from stored submissions.
func (s Store) Dashboard(ctx context.Context, teamID, project string) (DashboardSummary, error) {
	out := DashboardSummary{Project: project}
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tests),0), COALESCE(MAX(flaky_count),0)
		  FROM team_submissions WHERE team_id=? AND project=?`, teamID, project).
		Scan(&out.Submissions, &out.TotalTests, &out.FlakyCount)
	if err != nil {
		return DashboardSummary{}, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id,team_id,project,COALESCE(environment,''),COALESCE(contributor,''),
		       COALESCE(build_id,''),COALESCE(commit_sha,''),submitted_at,total_tests,flaky_count
		  FROM team_submissions WHERE team_id=? AND project=?
		 ORDER BY submitted_at DESC LIMIT 10`, teamID, project)
	if err != nil {
		return DashboardSummary{}, err
	}
	defer rows.Close()
	seenContrib := make(map[string]bool)
	seenEnv := make(map[string]bool)
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.TeamID, &sub.Project, &sub.Environment, &sub.Contributor,
			&sub.BuildID, &sub.CommitSHA, &sub.SubmittedAt, &sub.TotalTests, &sub.FlakyCount); err != nil {
			return DashboardSummary{}, err
		}
		out.Recent = append(out.Recent, sub)
		if sub.Contributor != "" && !seenContrib[sub.Contributor] {
			seenContrib[sub.Contributor] = true
			out.Contributors = append(out.Contributors, sub.Contributor)
		}
		if sub.Environment != "" && !seenEnv[sub.Environment] {
			seenEnv[sub.Environment] = true
			out.Environments = append(out.Environments, sub.Environment)
		}
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

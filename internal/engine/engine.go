// Package engine orchestrates one analysis invocation: persist the
// run, classify the history window, reconcile flaky lifecycles, and
// cluster this run's failures into a single report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"database/sql"

	"flakeradar/internal/cluster"
	"flakeradar/internal/events"
	"flakeradar/internal/flaky"
	"flakeradar/internal/history"
	"flakeradar/internal/lifecycle"
	"flakeradar/internal/model"
)

// ErrInvalidInput marks malformed execution rows. Surfaced before any
// persistence happens, so lifecycle state is never corrupted by bad
// input.
var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultWindowRuns    = 50
	DefaultOffenderLimit = 10
)

type Engine struct {
	DB      *sql.DB
	History history.Store
	Tracker lifecycle.Tracker
	Events  events.Writer
	Now     func() time.Time
}

// New wires an engine onto an open history database.
func New(conn *sql.DB) Engine {
	return Engine{
		DB:      conn,
		History: history.Store{DB: conn},
		Tracker: lifecycle.Tracker{DB: conn},
		Events:  events.Writer{DB: conn},
		Now:     time.Now,
	}
}

type AnalyzeOptions struct {
	Project     string
	Results     []model.TestResult
	BuildID     string
	CommitSHA   string
	Environment string
	Meta        map[string]any

	// WindowRuns bounds the history window to the last N runs of the
	// project. OffenderLimit caps the worst-offenders list.
	WindowRuns    int
	OffenderLimit int
}

// Analyze runs one full analysis pass. The lifecycle reconciliation is
// a single transaction; if it fails, the run itself stays recorded but
// no lifecycle row is touched.
func (e Engine) Analyze(ctx context.Context, opts AnalyzeOptions) (*model.Report, error) {
	if opts.Project == "" {
		return nil, fmt.Errorf("%w: project required", ErrInvalidInput)
	}
	if err := validateResults(opts.Results); err != nil {
		return nil, err
	}
	if opts.WindowRuns <= 0 {
		opts.WindowRuns = DefaultWindowRuns
	}
	if opts.OffenderLimit <= 0 {
		opts.OffenderLimit = DefaultOffenderLimit
	}
	now := e.Now()

	runID, err := e.History.InsertRun(ctx, history.Run{
		TS:          now.Unix(),
		Project:     opts.Project,
		BuildID:     opts.BuildID,
		CommitSHA:   opts.CommitSHA,
		Environment: opts.Environment,
		Meta:        opts.Meta,
	}, opts.Results)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	window, err := e.History.FetchRecent(ctx, opts.Project, opts.WindowRuns)
	if err != nil {
		return nil, fmt.Errorf("fetch history window: %w", err)
	}

	stats := flaky.Compute(window)

	tracked, err := e.Tracker.Track(ctx, opts.Project, stats, now)
	if err != nil {
		return nil, fmt.Errorf("track lifecycle: %w", err)
	}
	offenders, err := e.Tracker.WorstOffenders(ctx, opts.Project, opts.OffenderLimit, now)
	if err != nil {
		return nil, fmt.Errorf("worst offenders: %w", err)
	}

	clusters := cluster.Failures(opts.Results)

	report := compose(opts, runID, now, stats, offenders, clusters)
	report.NewlyClosed = tracked.Closed

	if err := e.Events.Append(ctx, nil, "analysis.completed", opts.Project, runID, events.Payload{
		"total_tests": report.TotalTests,
		"flaky_count": report.FlakyCount,
		"clusters":    len(clusters),
		"build_id":    opts.BuildID,
		"commit_sha":  opts.CommitSHA,
	}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	return report, nil
}

func compose(opts AnalyzeOptions, runID string, now time.Time,
	stats map[string]model.FlakinessRecord, offenders []model.LifecycleRecord,
	clusters map[string]model.FailureCluster) *model.Report {

	tests := make([]model.FlakinessRecord, 0, len(stats))
	flakyCount := 0
	for _, rec := range stats {
		tests = append(tests, rec)
		if rec.SuspectFlaky {
			flakyCount++
		}
	}
	sort.Slice(tests, func(i, j int) bool {
		if tests[i].FlakeRate != tests[j].FlakeRate {
			return tests[i].FlakeRate > tests[j].FlakeRate
		}
		return tests[i].FullName < tests[j].FullName
	})

	return &model.Report{
		Project:        opts.Project,
		RunID:          runID,
		BuildID:        opts.BuildID,
		CommitSHA:      opts.CommitSHA,
		Environment:    opts.Environment,
		GeneratedAt:    now.Unix(),
		TotalTests:     len(opts.Results),
		FlakyCount:     flakyCount,
		Tests:          tests,
		WorstOffenders: offenders,
		Clusters:       clusters,
	}
}

func validateResults(results []model.TestResult) error {
	for i, r := range results {
		if r.FullName == "" {
			return fmt.Errorf("%w: result %d has empty full_name", ErrInvalidInput, i)
		}
		switch r.Status {
		case model.StatusPass, model.StatusFail, model.StatusError, model.StatusSkipped:
		default:
			return fmt.Errorf("%w: result %s has unknown status %q", ErrInvalidInput, r.FullName, r.Status)
		}
	}
	return nil
}

// SortedClusters orders clusters strongest first for display.
func SortedClusters(clusters map[string]model.FailureCluster) []model.FailureCluster {
	out := make([]model.FailureCluster, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := model.SeverityRank(out[i].Severity), model.SeverityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

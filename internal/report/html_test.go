package report_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flakeradar/internal/model"
	"flakeradar/internal/report"
)

func TestRender(t *testing.T) {
	r := &model.Report{
		Project:     "api",
		RunID:       "run-1",
		BuildID:     "build-9",
		Environment: "local",
		GeneratedAt: 1700000000,
		TotalTests:  2,
		FlakyCount:  1,
		Tests: []model.FlakinessRecord{
			{FullName: "a#x", PassCount: 3, FailCount: 3, TotalRuns: 6, Transitions: 5,
				FlakeRate: 0.5, ConfidenceScore: 0.8, Classification: model.ClassTrulyFlaky, SuspectFlaky: true},
			{FullName: "a#y", PassCount: 6, TotalRuns: 6, Classification: model.ClassStable},
		},
		WorstOffenders: []model.LifecycleRecord{
			{FullName: "a#x", FirstDetected: 1700000000 - 2*86400, TotalFailures: 3},
		},
		Clusters: map[string]model.FailureCluster{
			"database_connectivity": {
				Signature:      "database_connectivity",
				Count:          3,
				AffectedTests:  []string{"a#x"},
				CommonKeywords: []string{"database", "connection"},
				StackPattern:   "no_stack_trace",
				Severity:       model.SeverityMedium,
				Recommendation: "Check connection pool sizing and database availability.",
			},
		},
	}
	path := filepath.Join(t.TempDir(), "report.html")
	if err := report.Render(r, path); err != nil {
		t.Fatalf("render: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{
		"FlakeRadar Report: api",
		"a#x",
		"truly_flaky",
		"database_connectivity",
		"database, connection",
		">2<", // open offender shows live elapsed days
		"still flaky",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !strings.Contains(html, "50.0%") {
		t.Errorf("flake rate not formatted: %s", html)
	}
}

func TestRenderEscapesContent(t *testing.T) {
	r := &model.Report{
		Project:     "api",
		GeneratedAt: 1700000000,
		Tests: []model.FlakinessRecord{
			{FullName: "a#<script>alert(1)</script>", Classification: model.ClassStable},
		},
	}
	path := filepath.Join(t.TempDir(), "report.html")
	if err := report.Render(r, path); err != nil {
		t.Fatalf("render: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "<script>alert(1)</script>") {
		t.Error("test name not escaped")
	}
}

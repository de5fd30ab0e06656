package model_test

import (
	"testing"

	"flakeradar/internal/model"
)

func TestFilterByConfidenceIsAProjection(t *testing.T) {
	report := model.Report{
		FlakyCount: 2,
		Tests: []model.FlakinessRecord{
			{FullName: "a#high", ConfidenceScore: 0.9, SuspectFlaky: true},
			{FullName: "a#mid", ConfidenceScore: 0.5, SuspectFlaky: true},
			{FullName: "a#low", ConfidenceScore: 0.1},
		},
	}
	filtered := report.FilterByConfidence(0.5)
	if len(filtered.Tests) != 2 {
		t.Fatalf("filtered = %d tests, want 2", len(filtered.Tests))
	}
	if filtered.FlakyCount != 2 {
		t.Errorf("flaky count = %d, want 2", filtered.FlakyCount)
	}
	// threshold is inclusive
	if filtered.Tests[1].FullName != "a#mid" {
		t.Errorf("tests = %+v", filtered.Tests)
	}
	// the receiver is untouched
	if len(report.Tests) != 3 || report.FlakyCount != 2 {
		t.Errorf("original mutated: %+v", report)
	}

	none := report.FilterByConfidence(0.95)
	if len(none.Tests) != 0 || none.FlakyCount != 0 {
		t.Errorf("strict filter = %+v", none)
	}
}

func TestCurrentDaysFlaky(t *testing.T) {
	open := model.LifecycleRecord{FirstDetected: 0}
	if got := open.CurrentDaysFlaky(5 * 86400); got != 5 {
		t.Errorf("open days = %d, want 5", got)
	}
	closed := model.LifecycleRecord{FirstDetected: 0, FixedTS: 2 * 86400, DaysFlaky: 2}
	if got := closed.CurrentDaysFlaky(100 * 86400); got != 2 {
		t.Errorf("closed days = %d, want stored 2", got)
	}
}

func TestFailed(t *testing.T) {
	cases := map[string]bool{
		model.StatusPass:    false,
		model.StatusFail:    true,
		model.StatusError:   true,
		model.StatusSkipped: false,
	}
	for status, want := range cases {
		if got := (model.TestResult{Status: status}).Failed(); got != want {
			t.Errorf("Failed(%s) = %v", status, got)
		}
	}
}

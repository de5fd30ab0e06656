// Package model defines the shared value types flowing between the
// classifier, clusterer, lifecycle tracker, and report layers.
package model

// Test execution statuses as recorded in the history store.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Flakiness classifications.
const (
	ClassStable        = "stable"
	ClassTrulyFlaky    = "truly_flaky"
	ClassAlwaysFailing = "always_failing"
)

// Cluster severity tiers, ordered weakest to strongest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// TestResult is a single test execution parsed from a results file or
// fetched from the history store. FullName is the stable identity
// (classname#method).
type TestResult struct {
	FullName     string `json:"full_name"`
	Suite        string `json:"suite,omitempty"`
	Status       string `json:"status"`
	RunTS        int64  `json:"run_ts,omitempty"`
	DurationMS   *int64 `json:"duration_ms,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// Failed reports whether the execution counts as a failure for
// flakiness and clustering purposes (fail and error are merged).
func (r TestResult) Failed() bool {
	return r.Status == StatusFail || r.Status == StatusError
}

// FlakinessRecord is the classifier output for one test. Recomputed on
// every analysis, never persisted.
type FlakinessRecord struct {
	FullName        string  `json:"full_name"`
	PassCount       int     `json:"pass_count"`
	FailCount       int     `json:"fail_count"`
	TotalRuns       int     `json:"total_runs"`
	Transitions     int     `json:"transitions"`
	FlakeRate       float64 `json:"flake_rate"`
	ConfidenceScore float64 `json:"confidence_score"`
	Classification  string  `json:"classification"`
	SuspectFlaky    bool    `json:"suspect_flaky"`
}

// LifecycleRecord is one open-or-closed period during which a test was
// continuously classified as flaky. FixedTS == 0 means the record is
// still open. A closed record is immutable; a later re-detection opens
// a fresh record.
type LifecycleRecord struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Project       string `json:"project"`
	FirstDetected int64  `json:"first_detected"`
	LastSeen      int64  `json:"last_seen"`
	FixedTS       int64  `json:"fixed_ts,omitempty"`
	DaysFlaky     int64  `json:"days_flaky"`
	TotalFailures int64  `json:"total_failures"`
}

// Open reports whether the flaky period is still ongoing.
func (l LifecycleRecord) Open() bool { return l.FixedTS == 0 }

// CurrentDaysFlaky returns the live elapsed days for open records and
// the stored duration for closed ones.
func (l LifecycleRecord) CurrentDaysFlaky(now int64) int64 {
	if l.Open() {
		return (now - l.FirstDetected) / 86400
	}
	return l.DaysFlaky
}

// FailureCluster groups one run's failing executions by inferred root
// cause signature.
type FailureCluster struct {
	Signature      string   `json:"signature"`
	Count          int      `json:"count"`
	AffectedTests  []string `json:"affected_tests"`
	ErrorTypes     []string `json:"error_types"`
	CommonKeywords []string `json:"common_keywords"`
	StackPattern   string   `json:"stack_pattern"`
	Severity       string   `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

// SeverityRank maps a severity tier to a sortable weight.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Report is the consolidated output of one analysis invocation. It is
// ephemeral; only lifecycle rows persist between invocations.
type Report struct {
	Project        string                    `json:"project"`
	RunID          string                    `json:"run_id"`
	BuildID        string                    `json:"build_id"`
	CommitSHA      string                    `json:"commit_sha"`
	Environment    string                    `json:"environment"`
	GeneratedAt    int64                     `json:"generated_at"`
	TotalTests     int                       `json:"total_tests"`
	FlakyCount     int                       `json:"flaky_count"`
	Tests          []FlakinessRecord         `json:"tests"`
	WorstOffenders []LifecycleRecord         `json:"worst_offenders"`
	Clusters       map[string]FailureCluster `json:"clusters"`
	NewlyClosed    []LifecycleRecord         `json:"newly_closed,omitempty"`
}

// FilterByConfidence returns a copy of the report keeping only tests at
// or above the given confidence score. Read-only projection; the
// receiver and persisted state are untouched.
func (r Report) FilterByConfidence(min float64) Report {
	out := r
	out.Tests = nil
	out.FlakyCount = 0
	for _, t := range r.Tests {
		if t.ConfidenceScore >= min {
			out.Tests = append(out.Tests, t)
			if t.SuspectFlaky {
				out.FlakyCount++
			}
		}
	}
	return out
}

// Package flaky classifies per-test execution histories as stable,
// truly flaky, or always failing, with a statistical confidence score.
// All functions are pure; degenerate inputs yield confidence 0 rather
// than errors.
package flaky

import (
	"math"
	"sort"

	"flakeradar/internal/model"
)

// wilsonZ is the z-value for a 95% confidence interval.
const wilsonZ = 1.96

// Truly-flaky classification requires at least this confidence.
const ConfidenceThreshold = 0.7

// Minimum runs before an all-fail history counts as always_failing.
const minRunsAlwaysFailing = 3

// Compute groups executions by FullName, orders each sequence by
// timestamp, and classifies every test. Rows may arrive in any order;
// the sort is stable so same-timestamp rows keep insertion order.
func Compute(results []model.TestResult) map[string]model.FlakinessRecord {
	histories := make(map[string][]model.TestResult)
	for _, r := range results {
		if r.FullName == "" {
			continue
		}
		histories[r.FullName] = append(histories[r.FullName], r)
	}

	out := make(map[string]model.FlakinessRecord, len(histories))
	for name, seq := range histories {
		sort.SliceStable(seq, func(i, j int) bool { return seq[i].RunTS < seq[j].RunTS })
		statuses := make([]string, len(seq))
		for i, r := range seq {
			statuses[i] = r.Status
		}
		out[name] = Classify(name, statuses)
	}
	return out
}

// Classify computes the flakiness record for one test's time-ordered
// status sequence.
func Classify(name string, statuses []string) model.FlakinessRecord {
	var passCount, failCount int
	for _, s := range statuses {
		switch s {
		case model.StatusPass:
			passCount++
		case model.StatusFail, model.StatusError:
			failCount++
		}
	}
	total := len(statuses)
	transitions := 0
	for i := 1; i < total; i++ {
		if statuses[i] != statuses[i-1] {
			transitions++
		}
	}
	flakeRate := 0.0
	if total > 0 {
		flakeRate = float64(failCount) / float64(total)
	}

	confidence := Confidence(passCount, failCount, total, transitions)

	trulyFlaky := passCount > 0 && failCount > 0 && confidence >= ConfidenceThreshold
	alwaysFailing := failCount > 0 && passCount == 0 && total >= minRunsAlwaysFailing

	classification := model.ClassStable
	switch {
	case trulyFlaky:
		classification = model.ClassTrulyFlaky
	case alwaysFailing:
		classification = model.ClassAlwaysFailing
	}

	return model.FlakinessRecord{
		FullName:        name,
		PassCount:       passCount,
		FailCount:       failCount,
		TotalRuns:       total,
		Transitions:     transitions,
		FlakeRate:       flakeRate,
		ConfidenceScore: confidence,
		Classification:  classification,
		SuspectFlaky:    trulyFlaky || alwaysFailing,
	}
}

// Confidence estimates, on [0,1], how likely the observed pass/fail mix
// reflects true flakiness rather than noise. A uniform history cannot
// be flaky and scores 0, as does a history shorter than two runs.
//
// The statistical component is a Wilson score interval at 95%: a narrow
// interval whose center sits away from 0 and 1 indicates a genuinely
// intermittent failure rate. That is damped by a sample-size factor
// (plateau at 20 runs) and a transition factor (50%+ adjacent-run
// transitions saturate it).
func Confidence(passCount, failCount, total, transitions int) float64 {
	if total < 2 {
		return 0
	}
	if passCount == 0 || failCount == 0 {
		return 0
	}

	sampleSizeFactor := math.Min(1, float64(total)/20)

	transitionRate := float64(transitions) / float64(total-1)
	transitionFactor := math.Min(1, transitionRate*2)

	p := float64(failCount) / float64(total)
	n := float64(total)
	denom := 1 + wilsonZ*wilsonZ/n
	center := (p + wilsonZ*wilsonZ/(2*n)) / denom
	margin := wilsonZ * math.Sqrt((p*(1-p)+wilsonZ*wilsonZ/(4*n))/n) / denom

	intervalWidth := 2 * margin
	distanceFromEdges := math.Min(center, 1-center)
	statistical := clamp01((1 - intervalWidth) * distanceFromEdges * 2)

	return math.Min(1, sampleSizeFactor*transitionFactor*statistical)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

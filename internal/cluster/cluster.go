// Package cluster groups a single run's failing executions by inferred
// root-cause signature. Pure transform; nothing here touches storage.
package cluster

import (
	"regexp"
	"sort"
	"strings"

	"flakeradar/internal/model"
)

// category is one row of the ordered signature table. Evaluated
// top-to-bottom against the lower-cased error message; the first row
// with any keyword hit wins, so row order encodes category priority.
type category struct {
	signature string
	keywords  []string
}

var categories = []category{
	{"database_connectivity", []string{"connection", "timeout", "pool", "database", "sql", "jdbc"}},
	{"network_api_issues", []string{"network", "http", "api", "socket", "connection refused", "unreachable"}},
	{"timing_race_conditions", []string{"timeout", "wait", "sleep", "race", "timing", "async", "thread"}},
	{"resource_constraints", []string{"memory", "disk", "cpu", "resource", "limit", "quota", "space"}},
	{"auth_permission_issues", []string{"auth", "permission", "unauthorized", "forbidden", "token", "credential"}},
	{"data_state_issues", []string{"data", "state", "null", "empty", "missing", "not found", "invalid"}},
	{"environment_config", []string{"config", "environment", "property", "setting", "variable"}},
}

var recommendations = map[string]string{
	"database_connectivity":  "Database: check connection pool settings, database server health, and network connectivity",
	"network_api_issues":     "Network: verify API endpoints, check network connectivity, review timeout settings",
	"timing_race_conditions": "Timing: add proper waits, review async operations, check for race conditions",
	"resource_constraints":   "Resources: monitor memory/CPU usage, check disk space, review resource limits",
	"auth_permission_issues": "Auth: verify credentials, check permissions, review token expiration",
	"data_state_issues":      "Data: check data consistency, review null handling, verify test data setup",
	"environment_config":     "Config: review environment variables, check configuration files, verify settings",
}

const defaultRecommendation = "Unknown: manual investigation required"

var (
	wordRe      = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9_]{2,}\b`)
	exceptionRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]*Exception)\b`)
)

// Common English words excluded from keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "had": true, "with": true,
	"have": true, "this": true, "will": true, "his": true, "they": true,
	"from": true, "been": true, "said": true, "each": true, "which": true,
	"their": true, "time": true, "were": true, "way": true, "about": true,
	"would": true, "there": true, "could": true, "other": true, "after": true,
	"first": true, "well": true, "who": true, "may": true, "down": true,
	"side": true, "now": true, "find": true, "head": true, "long": true,
	"too": true, "any": true, "say": true, "she": true, "use": true,
	"how": true, "when": true, "much": true, "these": true, "your": true,
	"many": true,
}

// Failures clusters the failing executions (status fail or error) from
// one run. Non-failing rows are ignored.
func Failures(results []model.TestResult) map[string]model.FailureCluster {
	groups := make(map[string][]model.TestResult)
	var order []string
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		sig := Signature(r)
		if _, ok := groups[sig]; !ok {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], r)
	}

	clusters := make(map[string]model.FailureCluster, len(groups))
	for _, sig := range order {
		failures := groups[sig]
		messages := make([]string, len(failures))
		traces := make([]string, len(failures))
		for i, f := range failures {
			messages[i] = f.ErrorMessage
			traces[i] = f.ErrorDetails
		}
		clusters[sig] = model.FailureCluster{
			Signature:      sig,
			Count:          len(failures),
			AffectedTests:  uniqueNames(failures),
			ErrorTypes:     uniqueErrorTypes(failures),
			CommonKeywords: commonKeywords(messages),
			StackPattern:   stackPattern(traces),
			Severity:       severity(failures),
			Recommendation: Recommendation(sig),
		}
	}
	return clusters
}

// Signature maps a failing execution to its root-cause category key.
func Signature(r model.TestResult) string {
	msg := strings.ToLower(r.ErrorMessage)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(msg, kw) {
				return c.signature
			}
		}
	}
	if r.ErrorType != "" {
		parts := strings.Split(r.ErrorType, ".")
		return "error_type_" + strings.ToLower(parts[len(parts)-1])
	}
	return "unknown_error_pattern"
}

// Recommendation returns remediation advice for a signature.
func Recommendation(signature string) string {
	if rec, ok := recommendations[signature]; ok {
		return rec
	}
	return defaultRecommendation
}

func uniqueNames(failures []model.TestResult) []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range failures {
		if !seen[f.FullName] {
			seen[f.FullName] = true
			names = append(names, f.FullName)
		}
	}
	return names
}

func uniqueErrorTypes(failures []model.TestResult) []string {
	seen := make(map[string]bool)
	var types []string
	for _, f := range failures {
		if f.ErrorType != "" && !seen[f.ErrorType] {
			seen[f.ErrorType] = true
			types = append(types, f.ErrorType)
		}
	}
	return types
}

// commonKeywords returns the five most frequent meaningful tokens
// across the group's error messages. Ties break by first appearance.
func commonKeywords(messages []string) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	idx := 0
	for _, msg := range messages {
		if msg == "" {
			continue
		}
		for _, w := range wordRe.FindAllString(strings.ToLower(msg), -1) {
			if stopWords[w] || len(w) <= 2 {
				continue
			}
			if _, ok := firstSeen[w]; !ok {
				firstSeen[w] = idx
				idx++
			}
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return firstSeen[words[i]] < firstSeen[words[j]]
	})
	if len(words) > 5 {
		words = words[:5]
	}
	return words
}

// stackPattern finds the most frequent <Name>Exception token across
// the group's stack traces.
func stackPattern(traces []string) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	any := false
	idx := 0
	for _, trace := range traces {
		if trace == "" {
			continue
		}
		any = true
		for _, m := range exceptionRe.FindAllString(trace, -1) {
			if _, ok := firstSeen[m]; !ok {
				firstSeen[m] = idx
				idx++
			}
			counts[m]++
		}
	}
	if !any {
		return "no_stack_trace"
	}
	best := ""
	for name := range counts {
		if best == "" || counts[name] > counts[best] ||
			(counts[name] == counts[best] && firstSeen[name] < firstSeen[best]) {
			best = name
		}
	}
	if best == "" {
		return "generic_stack_trace"
	}
	return "exception_" + strings.ToLower(best)
}

// severity grades a cluster by failure volume and spread. Thresholds
// are monotone: growing either count or distinct tests never lowers
// the tier.
func severity(failures []model.TestResult) string {
	distinct := len(uniqueNames(failures))
	count := len(failures)
	switch {
	case distinct >= 5 && count >= 10:
		return model.SeverityCritical
	case distinct >= 3 && count >= 5:
		return model.SeverityHigh
	case distinct >= 2 || count >= 3:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Package report renders the analysis report as a standalone HTML
// page.
package report

import (
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"flakeradar/internal/engine"
	"flakeradar/internal/model"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>FlakeRadar · {{.Report.Project}}</title>
<style>
 body { font-family: -apple-system, Segoe UI, sans-serif; margin: 2rem; color: #1f2430; }
 h1 { margin-bottom: 0; }
 .meta { color: #667; margin-bottom: 1.5rem; }
 table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
 th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #dde; }
 th { background: #f4f6fa; }
 .flaky { color: #b00020; font-weight: 600; }
 .stable { color: #2e7d32; }
 .sev-critical { color: #b00020; font-weight: 700; }
 .sev-high { color: #e65100; font-weight: 600; }
 .sev-medium { color: #f9a825; }
 .sev-low { color: #667; }
 .rec { color: #445; font-size: 0.9em; }
</style>
</head>
<body>
<h1>FlakeRadar Report: {{.Report.Project}}</h1>
<p class="meta">run {{.Report.RunID}} · build {{.Report.BuildID}} · commit {{.Report.CommitSHA}} ·
 {{.Report.Environment}} · generated {{.Generated}}</p>
<p>{{.Report.TotalTests}} executions this run · {{.Report.FlakyCount}} suspect flaky tests in window</p>

<h2>Tests</h2>
<table>
<tr><th>Test</th><th>Pass</th><th>Fail</th><th>Total</th><th>Transitions</th><th>Rate</th><th>Confidence</th><th>Classification</th></tr>
{{range .Report.Tests}}
<tr>
 <td>{{.FullName}}</td><td>{{.PassCount}}</td><td>{{.FailCount}}</td><td>{{.TotalRuns}}</td>
 <td>{{.Transitions}}</td><td>{{printf "%.1f%%" (pct .FlakeRate)}}</td>
 <td>{{printf "%.2f" .ConfidenceScore}}</td>
 <td class="{{if .SuspectFlaky}}flaky{{else}}stable{{end}}">{{.Classification}}</td>
</tr>
{{end}}
</table>

{{if .Report.WorstOffenders}}
<h2>Worst Offenders</h2>
<table>
<tr><th>Test</th><th>Days Flaky</th><th>Failures</th><th>Status</th></tr>
{{range .Report.WorstOffenders}}
<tr>
 <td>{{.FullName}}</td><td>{{.CurrentDaysFlaky $.Now}}</td><td>{{.TotalFailures}}</td>
 <td>{{if .Open}}still flaky{{else}}fixed{{end}}</td>
</tr>
{{end}}
</table>
{{end}}

{{if .Clusters}}
<h2>Root Cause Clusters</h2>
<table>
<tr><th>Signature</th><th>Severity</th><th>Failures</th><th>Tests</th><th>Keywords</th><th>Stack Pattern</th></tr>
{{range .Clusters}}
<tr>
 <td>{{.Signature}}<div class="rec">{{.Recommendation}}</div></td>
 <td class="sev-{{.Severity}}">{{.Severity}}</td>
 <td>{{.Count}}</td><td>{{len .AffectedTests}}</td>
 <td>{{join .CommonKeywords ", "}}</td><td>{{.StackPattern}}</td>
</tr>
{{end}}
</table>
{{end}}
</body>
</html>
`

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":  func(v float64) float64 { return v * 100 },
	"join": strings.Join,
}).Parse(pageTemplate))

type pageData struct {
	Report    *model.Report
	Clusters  []model.FailureCluster
	Generated string
	Now       int64
}

// Render writes the HTML report to path.
func Render(r *model.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	data := pageData{
		Report:    r,
		Clusters:  engine.SortedClusters(r.Clusters),
		Generated: time.Unix(r.GeneratedAt, 0).UTC().Format(time.RFC3339),
		Now:       r.GeneratedAt,
	}
	if err := page.Execute(f, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

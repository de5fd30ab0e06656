package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flakeradar/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir(), "api")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.Name != "api" {
		t.Errorf("project = %q", cfg.Project.Name)
	}
	if cfg.Analysis.WindowRuns != 50 || cfg.Analysis.OffenderLimit != 10 {
		t.Errorf("analysis defaults = %+v", cfg.Analysis)
	}
	if cfg.Team.Tier != config.TierFree {
		t.Errorf("tier = %q, want free", cfg.Team.Tier)
	}
}

func TestLoadParsesFileAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `project:
  name: checkout
  suite: regression
analysis:
  window_runs: 20
team:
  tier: team
  backend_url: https://flakeradar.example.com
`
	if err := os.WriteFile(config.Path(dir), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir, "ignored-fallback")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.Name != "checkout" || cfg.Project.Suite != "regression" {
		t.Errorf("project = %+v", cfg.Project)
	}
	if cfg.Analysis.WindowRuns != 20 {
		t.Errorf("window runs = %d", cfg.Analysis.WindowRuns)
	}
	// unset fields still default
	if cfg.Analysis.OffenderLimit != 10 {
		t.Errorf("offender limit = %d, want default 10", cfg.Analysis.OffenderLimit)
	}
	if cfg.Team.Tier != config.TierTeam {
		t.Errorf("tier = %q", cfg.Team.Tier)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"analysis:\n  min_confidence: 1.5\n",
		"team:\n  tier: platinum\n",
		"team:\n  tier: team\n", // team tier without backend url
	}
	for _, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Errorf("config accepted: %q", raw)
		}
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := config.Default("api")
	cfg.Analysis.MinConfidence = 0.7
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	back, err := config.FromYAML(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back.Project.Name != "api" || back.Analysis.MinConfidence != 0.7 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestPath(t *testing.T) {
	if got := config.Path("/ws"); got != filepath.Join("/ws", "flakeradar.yml") {
		t.Errorf("path = %q", got)
	}
	if got := config.Path(""); !strings.HasSuffix(got, "flakeradar.yml") {
		t.Errorf("path = %q", got)
	}
}

func TestDetectEnvironment(t *testing.T) {
	for _, v := range []string{"JENKINS_URL", "GITHUB_ACTIONS", "GITLAB_CI", "CIRCLECI", "TRAVIS", "CI"} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	if got := config.DetectEnvironment(); got != "local" {
		t.Errorf("clean env = %q, want local", got)
	}
	t.Setenv("GITHUB_ACTIONS", "true")
	if got := config.DetectEnvironment(); got != "github-actions" {
		t.Errorf("github env = %q", got)
	}
	// jenkins wins over the generic CI flag
	t.Setenv("JENKINS_URL", "http://jenkins.local")
	if got := config.DetectEnvironment(); got != "jenkins" {
		t.Errorf("jenkins env = %q", got)
	}
}

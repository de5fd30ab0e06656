// Package config models flakeradar.yml plus the environment-driven
// settings (FLAKERADAR_* variables bound through viper in the CLI).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const FileName = "flakeradar.yml"

// Tiers gate team features; free runs fully local.
const (
	TierFree = "free"
	TierTeam = "team"
)

// Config models flakeradar.yml.
type Config struct {
	Project struct {
		Name  string `yaml:"name"`
		Suite string `yaml:"suite,omitempty"`
	} `yaml:"project"`
	Analysis struct {
		WindowRuns    int     `yaml:"window_runs"`
		OffenderLimit int     `yaml:"offender_limit"`
		MinConfidence float64 `yaml:"min_confidence"`
	} `yaml:"analysis"`
	Team struct {
		Tier        string `yaml:"tier"`
		BackendURL  string `yaml:"backend_url,omitempty"`
		Environment string `yaml:"environment,omitempty"`
	} `yaml:"team"`
}

// Default returns a config seeded for the given project.
func Default(project string) *Config {
	cfg := &Config{}
	cfg.Project.Name = project
	cfg.Analysis.WindowRuns = 50
	cfg.Analysis.OffenderLimit = 10
	cfg.Analysis.MinConfidence = 0
	cfg.Team.Tier = TierFree
	return cfg
}

// Path returns the config location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates the workspace config. A missing file is not
// an error; defaults apply.
func Load(workspace, project string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(project), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = project
	}
	return cfg, nil
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyDefaults(c *Config) {
	if c.Analysis.WindowRuns == 0 {
		c.Analysis.WindowRuns = 50
	}
	if c.Analysis.OffenderLimit == 0 {
		c.Analysis.OffenderLimit = 10
	}
	if c.Team.Tier == "" {
		c.Team.Tier = TierFree
	}
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Analysis.WindowRuns < 0 {
		return fmt.Errorf("config.analysis.window_runs must be positive")
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("config.analysis.min_confidence must be within [0,1]")
	}
	switch c.Team.Tier {
	case TierFree, TierTeam:
	default:
		return fmt.Errorf("config.team.tier must be %q or %q", TierFree, TierTeam)
	}
	if c.Team.Tier == TierTeam && c.Team.BackendURL == "" {
		return fmt.Errorf("config.team.backend_url is required for tier %q", TierTeam)
	}
	return nil
}

// DetectEnvironment infers the CI system from well-known environment
// variables, falling back to "local".
func DetectEnvironment() string {
	switch {
	case os.Getenv("JENKINS_URL") != "":
		return "jenkins"
	case os.Getenv("GITHUB_ACTIONS") != "":
		return "github-actions"
	case os.Getenv("GITLAB_CI") != "":
		return "gitlab-ci"
	case os.Getenv("CIRCLECI") != "":
		return "circle-ci"
	case os.Getenv("TRAVIS") != "":
		return "travis-ci"
	case os.Getenv("CI") != "":
		return "ci"
	default:
		return "local"
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flakeradar/internal/config"
	"flakeradar/internal/db"
	"flakeradar/internal/engine"
	"flakeradar/internal/migrate"
	"flakeradar/internal/model"
	"flakeradar/internal/parsers"
	"flakeradar/internal/report"
	"flakeradar/internal/server"
	"flakeradar/internal/team"
)

var rootCmd = &cobra.Command{
	Use:   "flakeradar",
	Short: "FlakeRadar CLI",
	Long: `FlakeRadar finds and tracks flaky tests from your CI result files.
It ingests JUnit/TestNG XML, keeps an execution history in a local SQLite
workspace, classifies each test as stable, truly flaky, or always failing,
clusters this run's failures by probable root cause, and tracks how long
each flaky test stays unfixed. Results render as a table, JSON, or an HTML
report, and can be shared through a team backend ('flakeradar serve' runs a
local one).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLAKERADAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project name (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(offendersCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(teamCmd())
}

func analyzeCmd() *cobra.Command {
	var (
		results       string
		build         string
		commit        string
		reportOut     string
		windowRuns    int
		offenderLimit int
		minConfidence float64
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze test results and update flaky tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, cfg, err := resolveProject()
			if err != nil {
				return err
			}
			if results == "" {
				return fmt.Errorf("--results required")
			}
			if windowRuns == 0 {
				windowRuns = viper.GetInt("window-runs")
			}
			if windowRuns == 0 {
				windowRuns = cfg.Analysis.WindowRuns
			}
			if offenderLimit == 0 {
				offenderLimit = cfg.Analysis.OffenderLimit
			}

			parsed, skipped, err := parsers.ParseGlob(results, project)
			if err != nil {
				return err
			}
			for _, p := range skipped {
				fmt.Fprintf(os.Stderr, "skipping unknown format file: %s\n", p)
			}

			environment := cfg.Team.Environment
			if environment == "" {
				environment = config.DetectEnvironment()
			}

			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Analyze(ctx, engine.AnalyzeOptions{
					Project:       project,
					Results:       parsed,
					BuildID:       build,
					CommitSHA:     commit,
					Environment:   environment,
					WindowRuns:    windowRuns,
					OffenderLimit: offenderLimit,
					Meta:          map[string]any{"results_glob": results},
				})
				if err != nil {
					return err
				}
				if minConfidence == 0 {
					minConfidence = cfg.Analysis.MinConfidence
				}
				view := rep.FilterByConfidence(minConfidence)

				if viper.GetBool("json") {
					return printJSON(view)
				}
				printSummary(&view, rep.GeneratedAt)

				if reportOut != "" {
					if err := report.Render(rep, reportOut); err != nil {
						return err
					}
					fmt.Printf("Report written: %s\n", reportOut)
				}

				submitToTeam(ctx, cfg, rep, environment, build, commit)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&results, "results", "", "glob for JUnit/TestNG XML results")
	cmd.Flags().StringVar(&build, "build", "local-build", "build id (CI)")
	cmd.Flags().StringVar(&commit, "commit", "local", "git commit SHA")
	cmd.Flags().StringVar(&reportOut, "report-out", "", "HTML report path")
	cmd.Flags().IntVar(&windowRuns, "window-runs", 0, "history window in runs")
	cmd.Flags().IntVar(&offenderLimit, "offender-limit", 0, "worst offender count")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "hide tests below this confidence")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}

func printSummary(rep *model.Report, now int64) {
	fmt.Printf("Project %s: %d executions this run, %d suspect flaky in window\n",
		rep.Project, rep.TotalTests, rep.FlakyCount)

	if len(rep.WorstOffenders) > 0 {
		fmt.Println("\nWorst flaky offenders:")
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Test", "Days Flaky", "Failures", "Status"})
		for _, o := range rep.WorstOffenders {
			status := "fixed"
			if o.Open() {
				status = "still flaky"
			}
			tw.AppendRow(table.Row{o.FullName, o.CurrentDaysFlaky(now), o.TotalFailures, status})
		}
		tw.Render()
	}

	if len(rep.Clusters) > 0 {
		fmt.Println("\nRoot cause clusters:")
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Signature", "Severity", "Failures", "Tests", "Recommendation"})
		for _, c := range engine.SortedClusters(rep.Clusters) {
			tw.AppendRow(table.Row{c.Signature, c.Severity, c.Count, len(c.AffectedTests), c.Recommendation})
		}
		tw.Render()
	}

	fmt.Println()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Test", "Pass", "Fail", "Total", "Trans", "Rate", "Conf", "Class"})
	for _, t := range rep.Tests {
		tw.AppendRow(table.Row{
			t.FullName, t.PassCount, t.FailCount, t.TotalRuns, t.Transitions,
			fmt.Sprintf("%.1f%%", t.FlakeRate*100),
			fmt.Sprintf("%.2f", t.ConfidenceScore),
			t.Classification,
		})
	}
	tw.Render()
}

// submitToTeam is best-effort: a broken backend never fails the local
// analysis.
func submitToTeam(ctx context.Context, cfg *config.Config, rep *model.Report, environment, build, commit string) {
	backendURL := viper.GetString("team-url")
	if backendURL == "" {
		backendURL = cfg.Team.BackendURL
	}
	token := viper.GetString("team-token")
	if cfg.Team.Tier != config.TierTeam || backendURL == "" {
		return
	}
	client := team.New(backendURL, token)
	res, err := client.Submit(ctx, team.Submission{
		Project:     rep.Project,
		Environment: environment,
		Contributor: os.Getenv("USER"),
		BuildID:     build,
		CommitSHA:   commit,
		Report:      rep,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "team submission failed (analysis completed locally): %v\n", err)
		return
	}
	fmt.Println("Results submitted to team backend")
	if res.DashboardURL != "" {
		fmt.Printf("Team dashboard: %s%s\n", strings.TrimRight(backendURL, "/"), res.DashboardURL)
	}
}

func offendersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "offenders",
		Short: "Show tests flaky the longest",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _, err := resolveProject()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := e.Now()
				offenders, err := e.Tracker.WorstOffenders(ctx, project, limit, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(offenders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Test", "First Detected", "Days Flaky", "Failures", "Status"})
				for _, o := range offenders {
					status := "fixed"
					if o.Open() {
						status = "still flaky"
					}
					tw.AppendRow(table.Row{
						o.FullName,
						time.Unix(o.FirstDetected, 0).UTC().Format("2006-01-02"),
						o.CurrentDaysFlaky(now.Unix()), o.TotalFailures, status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max offenders")
	return cmd
}

func historyCmd() *cobra.Command {
	var testName string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions of one test",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _, err := resolveProject()
			if err != nil {
				return err
			}
			if testName == "" {
				return fmt.Errorf("--test required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.History.FetchTestHistory(ctx, project, testName, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Status", "Error"})
				for _, r := range rows {
					tw.AppendRow(table.Row{
						time.Unix(r.RunTS, 0).UTC().Format(time.RFC3339),
						r.Status, truncate(r.ErrorMessage, 80),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&testName, "test", "", "full test name (class#method)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Analysis event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent analysis events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Events.Tail(ctx, viper.GetString("project"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				for _, evt := range evts {
					fmt.Printf("%s %s project=%s run=%s %s\n", evt.TS, evt.Type, evt.Project, evt.RunID, evt.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default flakeradar.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("--project required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			data, err := config.Default(project).ToYAML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveProject()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local team backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := openDB(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("FLAKERADAR_JWT_SECRET is required for session auth")
			}
			handler, err := server.New(server.Config{
				Store:    server.Store{DB: conn},
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving FlakeRadar team API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8377", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage local team backend data",
	}
	cmd.AddCommand(teamCreateCmd())
	cmd.AddCommand(teamTokenCmd())
	return cmd
}

func teamCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team and print its API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s server.Store) error {
				t, token, err := s.CreateTeam(ctx, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"team": t, "token": token})
				}
				fmt.Printf("Team %s created (id %s)\n", t.Name, t.ID)
				fmt.Printf("API token (store it now; shown once): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "team name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamTokenCmd() *cobra.Command {
	var teamID, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an additional API token for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s server.Store) error {
				if _, err := s.GetTeam(ctx, teamID); err != nil {
					return err
				}
				token, err := s.CreateToken(ctx, teamID, name)
				if err != nil {
					return err
				}
				fmt.Printf("API token (store it now; shown once): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	cmd.Flags().StringVar(&name, "name", "", "token label")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func resolveProject() (string, *config.Config, error) {
	workspace := viper.GetString("workspace")
	override := viper.GetString("project")
	cfg, err := config.Load(workspace, override)
	if err != nil {
		return "", nil, err
	}
	project := override
	if project == "" {
		project = cfg.Project.Name
	}
	if project == "" {
		return "", nil, fmt.Errorf("project not specified; use --project or flakeradar.yml")
	}
	return project, cfg, nil
}

func openDB(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openDB(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn))
}

func withStore(ctx context.Context, fn func(context.Context, server.Store) error) error {
	conn, err := openDB(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, server.Store{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

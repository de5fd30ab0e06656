package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flakeradar/internal/db"
	"flakeradar/internal/migrate"
	"flakeradar/internal/model"
	"flakeradar/internal/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Store: server.Store{DB: conn},
		Auth:  server.AuthConfig{JWTSecret: "test-secret"},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func createTeam(t *testing.T, ts *httptest.Server, name string) (teamID, token string) {
	t.Helper()
	var out struct {
		Team  server.Team `json:"team"`
		Token string      `json:"token"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v0/teams", "", map[string]string{"name": name}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create team: status %d", resp.StatusCode)
	}
	return out.Team.ID, out.Token
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestCreateTeamMintsToken(t *testing.T) {
	ts := newTestServer(t)
	teamID, token := createTeam(t, ts, "payments")
	if teamID == "" {
		t.Error("empty team id")
	}
	if !strings.HasPrefix(token, "frt_") {
		t.Errorf("token = %q, want frt_ prefix", token)
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v0/dashboard/api")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Errorf("error code = %q", envelope.Error.Code)
	}

	// garbage tokens are rejected, not treated as missing
	resp = doJSON(t, http.MethodGet, ts.URL+"/v0/dashboard/api", "frt_bogus", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want 401", resp.StatusCode)
	}
}

func TestSubmitAndDashboard(t *testing.T) {
	ts := newTestServer(t)
	_, token := createTeam(t, ts, "payments")

	report := &model.Report{
		Project:    "api",
		TotalTests: 42,
		FlakyCount: 3,
	}
	var submitOut struct {
		ID           string `json:"id"`
		DashboardURL string `json:"dashboard_url"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v0/results", token, map[string]any{
		"project":     "api",
		"environment": "github_actions",
		"contributor": "dev@example.com",
		"report":      report,
	}, &submitOut)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if submitOut.ID == "" || submitOut.DashboardURL != "/v0/dashboard/api" {
		t.Errorf("submit response = %+v", submitOut)
	}

	var dash server.DashboardSummary
	resp = doJSON(t, http.MethodGet, ts.URL+"/v0/dashboard/api", token, nil, &dash)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	if dash.Submissions != 1 || dash.TotalTests != 42 || dash.FlakyCount != 3 {
		t.Errorf("dashboard = %+v", dash)
	}
	if len(dash.Contributors) != 1 || dash.Contributors[0] != "dev@example.com" {
		t.Errorf("contributors = %v", dash.Contributors)
	}
	if len(dash.Environments) != 1 || dash.Environments[0] != "github_actions" {
		t.Errorf("environments = %v", dash.Environments)
	}
}

func TestSubmitRequiresReport(t *testing.T) {
	ts := newTestServer(t)
	_, token := createTeam(t, ts, "payments")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v0/results", token, map[string]any{
		"project": "api",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionTokenGrantsAccess(t *testing.T) {
	ts := newTestServer(t)
	_, apiToken := createTeam(t, ts, "payments")

	var session struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v0/session", apiToken, nil, &session)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", resp.StatusCode)
	}
	if session.Token == "" || session.ExpiresIn != 3600 {
		t.Errorf("session = %+v", session)
	}

	// the JWT works in place of the API token
	resp = doJSON(t, http.MethodGet, ts.URL+"/v0/dashboard/api", session.Token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("dashboard with session token: status = %d", resp.StatusCode)
	}
}

func TestTeamsAreIsolated(t *testing.T) {
	ts := newTestServer(t)
	_, tokenA := createTeam(t, ts, "team-a")
	_, tokenB := createTeam(t, ts, "team-b")

	report := &model.Report{Project: "api", TotalTests: 5}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v0/results", tokenA, map[string]any{
		"project": "api",
		"report":  report,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	var dash server.DashboardSummary
	resp = doJSON(t, http.MethodGet, ts.URL+"/v0/dashboard/api", tokenB, nil, &dash)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	if dash.Submissions != 0 {
		t.Errorf("team b sees %d of team a's submissions", dash.Submissions)
	}
}

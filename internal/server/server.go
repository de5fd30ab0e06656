// Package server is the local team dev server: a stand-in for a hosted
// FlakeRadar backend that accepts analysis submissions and serves a
// per-project dashboard summary. Storage shares the workspace SQLite
// database.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"flakeradar/internal/model"
)

// Config for the HTTP handler.
type Config struct {
	Store    Store
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unauthorized"`
	Message string         `json:"message" example:"authentication required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// New returns an HTTP handler exposing the team API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Store))
	hcfg := huma.DefaultConfig("FlakeRadar Team API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTeams(group, cfg.Store, cfg.Auth)
	registerSession(group, cfg.Store, cfg.Auth)
	registerResults(group, cfg.Store)
	registerDashboard(group, cfg.Store)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type createTeamRequest struct {
	Name string `json:"name" minLength:"1"`
}

type createTeamResponse struct {
	Team  Team   `json:"team"`
	Token string `json:"token"`
}

func registerTeams(api huma.API, store Store, _ AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-team",
		Method:      http.MethodPost,
		Path:        "/teams",
		Summary:     "Create a team and mint its first API token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body createTeamRequest `json:"body"`
	}) (*struct {
		Body createTeamResponse `json:"body"`
	}, error) {
		team, token, err := store.CreateTeam(ctx, input.Body.Name)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body createTeamResponse `json:"body"`
		}{Body: createTeamResponse{Team: team, Token: token}}, nil
	})
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// registerSession exchanges an API token (already validated by the
// middleware) for a short-lived JWT used by dashboard polling.
func registerSession(api huma.API, _ Store, authCfg AuthConfig) {
	const ttl = time.Hour
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/session",
		Summary:     "Mint a session JWT from an API token",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sessionResponse `json:"body"`
	}, error) {
		teamID, herr := teamIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		token, err := signSessionToken(authCfg.JWTSecret, teamID, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body sessionResponse `json:"body"`
		}{Body: sessionResponse{Token: token, ExpiresIn: int(ttl.Seconds())}}, nil
	})
}

type submitRequest struct {
	Project     string        `json:"project" minLength:"1"`
	Environment string        `json:"environment,omitempty"`
	Contributor string        `json:"contributor,omitempty"`
	BuildID     string        `json:"build_id,omitempty"`
	CommitSHA   string        `json:"commit_sha,omitempty"`
	Report      *model.Report `json:"report"`
}

type submitResponse struct {
	ID           string `json:"id"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

func registerResults(api huma.API, store Store) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-results",
		Method:      http.MethodPost,
		Path:        "/results",
		Summary:     "Submit an analysis report",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body submitRequest `json:"body"`
	}) (*struct {
		Body submitResponse `json:"body"`
	}, error) {
		teamID, herr := teamIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if input.Body.Report == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "report is required", nil)
		}
		sub := Submission{
			TeamID:      teamID,
			Project:     input.Body.Project,
			Environment: input.Body.Environment,
			Contributor: input.Body.Contributor,
			BuildID:     input.Body.BuildID,
			CommitSHA:   input.Body.CommitSHA,
			TotalTests:  input.Body.Report.TotalTests,
			FlakyCount:  input.Body.Report.FlakyCount,
		}
		saved, err := store.InsertSubmission(ctx, sub, input.Body.Report)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body submitResponse `json:"body"`
		}{Body: submitResponse{
			ID:           saved.ID,
			DashboardURL: "/v0/dashboard/" + input.Body.Project,
		}}, nil
	})
}

func registerDashboard(api huma.API, store Store) {
	type dashboardPath struct {
		Project string `path:"project"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard/{project}",
		Summary:     "Per-project team dashboard summary",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *dashboardPath) (*struct {
		Body DashboardSummary `json:"body"`
	}, error) {
		teamID, herr := teamIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		summary, err := store.Dashboard(ctx, teamID, input.Project)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DashboardSummary `json:"body"`
		}{Body: summary}, nil
	})
}

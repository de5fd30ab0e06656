// Package team is a minimal HTTP client for a FlakeRadar team backend
// (the bundled dev server or a hosted one). Submission is best-effort
// from the CLI's point of view; callers decide whether failures matter.
package team

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flakeradar/internal/model"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("team backend: status=%d body=%s", e.StatusCode, e.Body)
}

// Submission is the payload accepted by the backend's results endpoint.
type Submission struct {
	Project     string        `json:"project"`
	Environment string        `json:"environment,omitempty"`
	Contributor string        `json:"contributor,omitempty"`
	BuildID     string        `json:"build_id,omitempty"`
	CommitSHA   string        `json:"commit_sha,omitempty"`
	Report      *model.Report `json:"report"`
}

// SubmitResult is the backend's acknowledgement.
type SubmitResult struct {
	ID           string `json:"id"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

// Submit posts an analysis report to the team backend.
func (c *Client) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v0/results", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var out SubmitResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &out, nil
}

// Dashboard fetches the backend's per-project summary.
func (c *Client) Dashboard(ctx context.Context, project string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v0/dashboard/"+project, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode dashboard response: %w", err)
	}
	return out, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

package amvalisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AMVALI HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	ProjectType      string   `json:"project_type"`
	MunicipalityID   string   `json:"municipality_id"`
	MunicipalityName string   `json:"municipality_name"`
	Priority         int      `json:"priority"`
	Complexity       *string  `json:"complexity,omitempty"`
	Status           string   `json:"status"`
	IPRScore         float64  `json:"ipr_score"`
	AssignedTeam     []string `json:"assigned_team"`
	Version          int64    `json:"version"`
	CreatedAt        string   `json:"created_at"`
}

// TeamMember represents a technician with capacity figures.
type TeamMember struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Specialties     []string `json:"specialties"`
	ActiveProjects  int      `json:"active_projects"`
	CapacityPercent float64  `json:"capacity_percent"`
}

// CapacityWarning flags an over-allocated technician.
type CapacityWarning struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	CapacityPercent float64 `json:"capacity_percent"`
}

// AllocationResult is the outcome of a team allocation.
type AllocationResult struct {
	Project  Project           `json:"project"`
	Warnings []CapacityWarning `json:"warnings"`
}

// Diagnosis is a complexity verdict.
type Diagnosis struct {
	Complexity      string   `json:"complexity"`
	Confidence      float64  `json:"confidence"`
	Justification   string   `json:"justification"`
	Recommendations []string `json:"recommendations"`
}

// User represents an account (partial).
type User struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	MunicipalityID *string `json:"municipality_id,omitempty"`
}

type authResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body := map[string]any{"email": email, "password": password}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/auth/me", nil, &resp)
	return resp, err
}

// CreateProject submits a project request.
func (c *Client) CreateProject(ctx context.Context, title, projectType, municipalityID string, priority int) (Project, error) {
	body := map[string]any{
		"title":           title,
		"project_type":    projectType,
		"municipality_id": municipalityID,
		"priority":        priority,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// Projects lists projects visible to the caller.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

// Project fetches a project by id.
func (c *Client) Project(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/projects/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Queue returns the ranked priority queue.
func (c *Client) Queue(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/queue", nil, &resp)
	return resp, err
}

// UpdateStage marks a stage in progress or completed.
func (c *Client) UpdateStage(ctx context.Context, projectID string, stageIndex int, status, notes string) (Project, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Project
	endpoint := fmt.Sprintf("v1/projects/%s/stages/%d", url.PathEscape(projectID), stageIndex)
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Team lists technicians with capacity figures.
func (c *Client) Team(ctx context.Context) ([]TeamMember, error) {
	var resp []TeamMember
	err := c.do(ctx, http.MethodGet, "v1/team", nil, &resp)
	return resp, err
}

// AllocateTeam replaces the project's assigned technicians.
func (c *Client) AllocateTeam(ctx context.Context, projectID string, userIDs []string) (AllocationResult, error) {
	body := map[string]any{
		"project_id": projectID,
		"user_ids":   userIDs,
	}
	var resp AllocationResult
	err := c.do(ctx, http.MethodPost, "v1/team/allocate", body, &resp)
	return resp, err
}

// DiagnoseComplexity runs the complexity advisor for a project.
func (c *Client) DiagnoseComplexity(ctx context.Context, projectID string) (Diagnosis, error) {
	body := map[string]any{"project_id": projectID}
	var resp Diagnosis
	err := c.do(ctx, http.MethodPost, "v1/ai/diagnose-complexity", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

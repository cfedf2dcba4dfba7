// Package client provides typed access to the project management API for
// interactive tools.
package client

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

// Client talks to the API with bearer auth and per-request correlation IDs.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Rule    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Rule != "" {
		return fmt.Sprintf("api request failed (%d %s/%s): %s", e.Status, e.Code, e.Rule, e.Message)
	}
	return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token, correlationID string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if strings.TrimSpace(correlationID) != "" {
		req.Header.Set("X-Correlation-Id", strings.TrimSpace(correlationID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := extractError(resp.Body)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) APIError {
	if body == nil {
		return APIError{}
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return APIError{}
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Rule    string `json:"rule"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return APIError{Message: strings.TrimSpace(string(data))}
	}
	return APIError{
		Code:    payload.Error.Code,
		Rule:    payload.Error.Rule,
		Message: payload.Error.Message,
	}
}

// CommandResult is the acknowledgement envelope for accepted mutations.
type CommandResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	ResourceID    string `json:"resourceId,omitempty"`
}

// Project reflects the API project payload.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProjectDetail is the full aggregate as returned by GET /projects/{id}.
type ProjectDetail struct {
	Project       Project        `json:"project"`
	Services      []Service      `json:"services"`
	Relationships []Relationship `json:"relationships"`
	Deployments   []Deployment   `json:"deployments"`
}

// Service reflects the API service payload.
type Service struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Relationship reflects a dependency edge between two services.
type Relationship struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	SourceServiceID string    `json:"sourceServiceId"`
	TargetServiceID string    `json:"targetServiceId"`
	Type            string    `json:"type"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DeploymentStep is one entry of a deployment's step list.
type DeploymentStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      string     `json:"output,omitempty"`
}

// Deployment reflects the API deployment payload.
type Deployment struct {
	ID               string           `json:"id"`
	ProjectID        string           `json:"projectId"`
	Environment      string           `json:"environment"`
	Status           string           `json:"status"`
	Strategy         string           `json:"strategy"`
	Version          string           `json:"version"`
	Steps            []DeploymentStep `json:"steps"`
	CurrentStep      int              `json:"currentStep"`
	TotalSteps       int              `json:"totalSteps"`
	PercentComplete  int              `json:"percentComplete"`
	ApprovalRequired bool             `json:"approvalRequired"`
	Approved         bool             `json:"approved"`
	FailureReason    string           `json:"failureReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// CreateProjectInput is the payload for CreateProject.
type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, token, correlationID string, input CreateProjectInput) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/projects", input, token, correlationID, &res)
	return res, err
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context, token string) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects", nil, token, "", &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// GetProject returns the full aggregate.
func (c *Client) GetProject(ctx context.Context, token, projectID string) (ProjectDetail, error) {
	var detail ProjectDetail
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, token, "", &detail)
	return detail, err
}

// DeleteProject archives a project.
func (c *Client) DeleteProject(ctx context.Context, token, correlationID, projectID string) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, token, correlationID, &res)
	return res, err
}

// AddServiceInput is the payload for AddService.
type AddServiceInput struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// AddService registers a service under a project.
func (c *Client) AddService(ctx context.Context, token, correlationID, projectID string, input AddServiceInput) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/services", input, token, correlationID, &res)
	return res, err
}

// RemoveService deletes a service; force cascades its relationships.
func (c *Client) RemoveService(ctx context.Context, token, correlationID, projectID, serviceID string, force bool) (CommandResult, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/services/" + url.PathEscape(serviceID)
	if force {
		path += "?force=true"
	}
	var res CommandResult
	err := c.do(ctx, http.MethodDelete, path, nil, token, correlationID, &res)
	return res, err
}

// RelationshipInput is the payload for EstablishRelationship.
type RelationshipInput struct {
	SourceServiceID string `json:"sourceServiceId"`
	TargetServiceID string `json:"targetServiceId"`
	Type            string `json:"type"`
}

// EstablishRelationship inserts a dependency edge.
func (c *Client) EstablishRelationship(ctx context.Context, token, correlationID, projectID string, input RelationshipInput) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/relationships", input, token, correlationID, &res)
	return res, err
}

// RemoveRelationship deletes a dependency edge.
func (c *Client) RemoveRelationship(ctx context.Context, token, correlationID, projectID, relationshipID string) (CommandResult, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/relationships/" + url.PathEscape(relationshipID)
	var res CommandResult
	err := c.do(ctx, http.MethodDelete, path, nil, token, correlationID, &res)
	return res, err
}

// StartDeploymentInput is the payload for StartDeployment.
type StartDeploymentInput struct {
	Environment string `json:"environment"`
	Strategy    string `json:"strategy"`
	Version     string `json:"version"`
}

// StartDeployment requests a deployment of a project.
func (c *Client) StartDeployment(ctx context.Context, token, correlationID, projectID string, input StartDeploymentInput) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/deploy", input, token, correlationID, &res)
	return res, err
}

// ListDeployments returns a project's deployment history.
func (c *Client) ListDeployments(ctx context.Context, token, projectID string) ([]Deployment, error) {
	var resp struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/deployments", nil, token, "", &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// GetDeployment returns deployment progress.
func (c *Client) GetDeployment(ctx context.Context, token, deploymentID string) (Deployment, error) {
	var dep Deployment
	err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), nil, token, "", &dep)
	return dep, err
}

// ApproveDeployment releases a parked production deployment.
func (c *Client) ApproveDeployment(ctx context.Context, token, correlationID, deploymentID string) (CommandResult, error) {
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/deployments/"+url.PathEscape(deploymentID)+"/approve", nil, token, correlationID, &res)
	return res, err
}

// CancelDeployment aborts a pending or running deployment.
func (c *Client) CancelDeployment(ctx context.Context, token, correlationID, deploymentID, reason string) (CommandResult, error) {
	body := map[string]string{"reason": reason}
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/deployments/"+url.PathEscape(deploymentID)+"/cancel", body, token, correlationID, &res)
	return res, err
}

// RollbackDeployment reverses a running or failed deployment.
func (c *Client) RollbackDeployment(ctx context.Context, token, correlationID, deploymentID, reason string) (CommandResult, error) {
	body := map[string]string{"reason": reason}
	var res CommandResult
	err := c.do(ctx, http.MethodPost, "/deployments/"+url.PathEscape(deploymentID)+"/rollback", body, token, correlationID, &res)
	return res, err
}

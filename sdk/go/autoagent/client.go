// Package autoagent is a small Go client for the AutoAgent REST API.
package autoagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Run states reported by the API.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StatePaused  = "paused"
	StateStopped = "stopped"
	StateErrored = "errored"
)

// Client wraps the HTTP interactions with the AutoAgent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ModelSettings overrides the model parameters of a single run.
type ModelSettings struct {
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Language     string  `json:"language,omitempty"`
	CustomAPIKey string  `json:"custom_api_key,omitempty"`
}

// RunRequest is the payload required to start a run. Nil fields use the
// daemon defaults.
type RunRequest struct {
	Goal          string         `json:"goal"`
	MaxLoops      *int           `json:"max_loops,omitempty"`
	TaskSelection string         `json:"task_selection,omitempty"`
	Analysis      *bool          `json:"analysis,omitempty"`
	FollowUps     *bool          `json:"follow_ups,omitempty"`
	Summary       *bool          `json:"summary,omitempty"`
	Settings      *ModelSettings `json:"settings,omitempty"`
}

// Stats counts the tasks of a run by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Executing int `json:"executing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Task is one unit of work derived from the goal.
type Task struct {
	ID       string `json:"id"`
	Value    string `json:"value"`
	Status   string `json:"status"`
	Result   string `json:"result,omitempty"`
	Seq      int    `json:"seq"`
	ParentID string `json:"parent_id,omitempty"`
}

// Message is one entry of the run's message feed.
type Message struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Value  string `json:"value"`
	Status string `json:"status,omitempty"`
	Info   string `json:"info,omitempty"`
	Final  bool   `json:"final,omitempty"`
}

// Run is a snapshot of a run. Tasks and Messages are only filled by GetRun.
type Run struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Stats     Stats     `json:"stats"`
	Tasks     []Task    `json:"tasks,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Finished reports whether the run will make no further progress.
func (r Run) Finished() bool {
	return r.State == StateStopped || r.State == StateErrored
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("autoagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("autoagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AutoAgent API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// StartRun creates a run and returns its initial snapshot.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (Run, error) {
	var run Run
	if err := c.send(ctx, http.MethodPost, "/api/v1/runs", nil, req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a run with its tasks and messages.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := c.send(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var runs []Run
	if err := c.send(ctx, http.MethodGet, "/api/v1/runs", query, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// StopRun asks the run to stop after the current step.
func (c *Client) StopRun(ctx context.Context, id string) (Run, error) {
	return c.control(ctx, id, "stop")
}

// PauseRun asks the run to pause after the current step.
func (c *Client) PauseRun(ctx context.Context, id string) (Run, error) {
	return c.control(ctx, id, "pause")
}

// ResumeRun continues a paused run.
func (c *Client) ResumeRun(ctx context.Context, id string) (Run, error) {
	return c.control(ctx, id, "resume")
}

// WaitForRun polls the run until it is finished or ctx is done.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		if run.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) control(ctx context.Context, id, action string) (Run, error) {
	var run Run
	endpoint := "/api/v1/runs/" + url.PathEscape(id) + "/" + action
	if err := c.send(ctx, http.MethodPost, endpoint, nil, nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

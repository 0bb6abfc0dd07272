package growboardsdk

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

// Client is a minimal Growboard HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string // legacy header auth, dev servers only
	ActorName   string
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

// Task represents the API task model.
type Task struct {
	ID       int64  `json:"id"`
	Niche    string `json:"niche"`
	Platform string `json:"platform"`
	Name     string `json:"name"`
	Points   int64  `json:"points"`
	URL      string `json:"url,omitempty"`
}

// ProgressRecord represents one actor's standing on one task.
type ProgressRecord struct {
	ActorID   string `json:"actor_id"`
	TaskID    int64  `json:"task_id"`
	ActorName string `json:"actor_name"`
	Completed bool   `json:"completed"`
	Points    int64  `json:"points"`
	Evidence  string `json:"evidence,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// ClaimResult reports the outcome of claiming a task.
type ClaimResult struct {
	Outcome string         `json:"outcome"`
	Task    Task           `json:"task"`
	Record  ProgressRecord `json:"record"`
}

// ProofResult reports whether submitted evidence was stored.
type ProofResult struct {
	Consumed bool            `json:"consumed"`
	TaskID   int64           `json:"task_id"`
	Record   *ProgressRecord `json:"record,omitempty"`
}

// DecisionResult reports the outcome of approve/reject.
type DecisionResult struct {
	Outcome string         `json:"outcome"`
	Points  int64          `json:"points,omitempty"`
	Record  ProgressRecord `json:"record,omitempty"`
}

// Stats summarizes an actor's ledger.
type Stats struct {
	ActorID     string           `json:"actor_id"`
	TotalPoints int64            `json:"total_points"`
	Completed   int              `json:"completed"`
	InProgress  int              `json:"in_progress"`
	Records     []ProgressRecord `json:"records"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	ActorLabel string `json:"actor_label"`
	Points     int64  `json:"points"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a catalog task (admin).
func (c *Client) CreateTask(ctx context.Context, niche, platform, name string, points int64, taskURL string) (Task, error) {
	body := map[string]any{
		"niche":    niche,
		"platform": platform,
		"name":     name,
		"points":   points,
	}
	if taskURL != "" {
		body["url"] = taskURL
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// ListTasks returns catalog tasks, optionally filtered.
func (c *Client) ListTasks(ctx context.Context, niche, platform string) ([]Task, error) {
	var resp []Task
	q := url.Values{}
	if niche != "" {
		q.Set("niche", niche)
	}
	if platform != "" {
		q.Set("platform", platform)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteTask removes a catalog task (admin).
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", taskID), nil, nil)
}

// Claim marks a task in progress for the authenticated actor.
func (c *Client) Claim(ctx context.Context, taskID int64, actorName string) (ClaimResult, error) {
	var body any
	if actorName != "" {
		body = map[string]any{"actor_name": actorName}
	}
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/claim", taskID), body, &resp)
	return resp, err
}

// RequestProof arms proof collection for a task.
func (c *Client) RequestProof(ctx context.Context, taskID int64) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/proof", taskID), nil, &resp)
	return resp.Task, err
}

// SubmitProof sends evidence for whichever task is currently armed.
func (c *Client) SubmitProof(ctx context.Context, evidence string) (ProofResult, error) {
	var resp ProofResult
	err := c.do(ctx, http.MethodPost, "proofs", map[string]any{"evidence": evidence}, &resp)
	return resp, err
}

// Approve accepts an actor's submission and awards points (admin).
func (c *Client) Approve(ctx context.Context, taskID int64, actorID string) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/approve", taskID), map[string]any{"actor_id": actorID}, &resp)
	return resp, err
}

// Reject clears an actor's submission (admin).
func (c *Client) Reject(ctx context.Context, taskID int64, actorID string) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/reject", taskID), map[string]any{"actor_id": actorID}, &resp)
	return resp, err
}

// Stats returns an actor's progress summary.
func (c *Client) Stats(ctx context.Context, actorID string) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("actors/%s/stats", url.PathEscape(actorID)), nil, &resp)
	return resp, err
}

// Leaderboard returns the top earners.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var resp []LeaderboardEntry
	endpoint := "leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("leaderboard?limit=%d", limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if c.ActorName != "" {
			req.Header.Set("X-Actor-Name", c.ActorName)
		}
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
	return strings.TrimRight(c.BaseURL, "/") + "/v0"
}

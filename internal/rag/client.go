// Package rag is a client for the code retrieval service that indexes
// project repositories and answers documentation queries over them.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the retrieval service HTTP API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	MaxWait      time.Duration
	PollInterval time.Duration
	QueryTimeout time.Duration
}

// SetupRequest registers a repository for indexing.
type SetupRequest struct {
	RepoID        string `json:"repo_id"`
	RepoURLOrPath string `json:"repo_url_or_path"`
	ForceReclone  bool   `json:"force_reclone"`
	ForceReindex  bool   `json:"force_reindex"`
	AccessToken   string `json:"access_token,omitempty"`
}

// RepoStatus reports the indexing state of a repository.
type RepoStatus struct {
	RepoID      string `json:"repo_id"`
	Status      string `json:"status"`
	IndexStatus string `json:"index_status"`
	Message     string `json:"message"`
}

// QueryRequest asks the service to rewrite a partial document using code
// context.
type QueryRequest struct {
	RepoID        string `json:"repo_id"`
	SysPrompt     string `json:"sys_prompt"`
	QueryText     string `json:"query_text"`
	RewritePrompt string `json:"rewrite_prompt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rag service error: status=%d body=%s", e.StatusCode, e.Body)
}

var ErrSetupTimeout = errors.New("repository setup did not finish in time")

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Setup starts repository indexing. The service answers 202 before the
// work finishes, so callers poll Status afterwards.
func (c *Client) Setup(ctx context.Context, req SetupRequest) error {
	return c.do(ctx, http.MethodPost, "repository/setup", req, nil, 0)
}

// Status reports the current indexing state for a repository.
func (c *Client) Status(ctx context.Context, repoID string) (RepoStatus, error) {
	var st RepoStatus
	err := c.do(ctx, http.MethodGet, "repository/status/"+url.PathEscape(repoID), nil, &st, 0)
	return st, err
}

// SetupAndWait starts indexing and polls until the repository reaches a
// terminal status or MaxWait elapses.
func (c *Client) SetupAndWait(ctx context.Context, req SetupRequest) (RepoStatus, error) {
	if err := c.Setup(ctx, req); err != nil {
		return RepoStatus{}, err
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Minute
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	deadline := time.Now().Add(maxWait)
	for {
		st, err := c.Status(ctx, req.RepoID)
		if err != nil {
			return RepoStatus{}, err
		}
		switch st.Status {
		case StatusCompleted:
			return st, nil
		case StatusFailed:
			return st, fmt.Errorf("repository setup failed: %s", st.Message)
		}
		if time.Now().After(deadline) {
			return st, ErrSetupTimeout
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Query sends a documentation query and decodes the JSON answer. Models
// sometimes wrap their output in markdown code fences, so those are
// stripped before decoding.
func (c *Client) Query(ctx context.Context, req QueryRequest) (map[string]any, error) {
	var raw json.RawMessage
	timeout := c.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if err := c.do(ctx, http.MethodPost, "query/stream", req, &raw, timeout); err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err == nil {
		return result, nil
	}
	cleaned := stripFences(string(raw))
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("decode rag answer: %w", err)
	}
	return result, nil
}

func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	if strings.Contains(s, "```") {
		parts := strings.Split(s, "```")
		if len(parts) >= 3 {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(s)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, timeout time.Duration) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = data
			return nil
		}
		return json.Unmarshal(data, out)
	}
	return nil
}

// Package callback delivers a generated OpenAPI document to the place a
// project configured: a commit pushed to its git repository, or a POST to
// a custom HTTP endpoint.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"apigen/internal/domain"
	"apigen/internal/gitrepo"
	"apigen/internal/openapi"
)

var ErrDelivery = errors.New("callback delivery failed")

// Request carries everything a dispatcher needs for one delivery.
type Request struct {
	Project  domain.Project
	TaskID   string
	Document openapi.Document
}

// Result describes what a delivery did.
type Result struct {
	Variant   string
	NoChanges bool
	Detail    string
}

// Dispatcher delivers a document for a project.
type Dispatcher interface {
	Deliver(ctx context.Context, req Request) (Result, error)
}

// Registry builds the right dispatcher for a project's callback type.
type Registry struct {
	Repos      *gitrepo.Manager
	TargetPath string
	Client     *http.Client
	Timeout    time.Duration
}

// ForProject returns the dispatcher matching the project configuration.
func (r *Registry) ForProject(p domain.Project) (Dispatcher, error) {
	switch p.CallbackType {
	case domain.CallbackPushToRepo, "":
		if p.GitRepoURL == "" {
			return nil, fmt.Errorf("%w: project has no git repository url", ErrDelivery)
		}
		return &gitPush{repos: r.Repos, targetPath: r.TargetPath}, nil
	case domain.CallbackCustomAPI:
		if p.CustomCallbackURL == "" {
			return nil, fmt.Errorf("%w: project has no custom callback url", ErrDelivery)
		}
		return &customAPI{client: r.Client, timeout: r.Timeout}, nil
	default:
		return nil, fmt.Errorf("%w: unknown callback type %q", ErrDelivery, p.CallbackType)
	}
}

// gitPush writes the document into the project clone and pushes a commit.
type gitPush struct {
	repos      *gitrepo.Manager
	targetPath string
}

func (g *gitPush) Deliver(ctx context.Context, req Request) (Result, error) {
	res := Result{Variant: domain.CallbackPushToRepo}
	release := g.repos.Lock(req.Project.ID)
	defer release()

	dir, err := g.repos.Ensure(ctx, req.Project.ID, req.Project.GitRepoURL, req.Project.GitAuthToken)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	data, err := req.Document.Encode()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	target := filepath.Join(dir, g.targetPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	msg := fmt.Sprintf("Update OpenAPI spec for %s (task %s)", req.Project.Name, req.TaskID)
	pushed, err := g.repos.CommitAndPush(ctx, req.Project.ID, g.targetPath, msg)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if !pushed {
		res.NoChanges = true
		res.Detail = "document unchanged, nothing pushed"
		return res, nil
	}
	res.Detail = "pushed " + g.targetPath
	return res, nil
}

// customAPI POSTs the document to the project's callback endpoint.
type customAPI struct {
	client  *http.Client
	timeout time.Duration
}

func (c *customAPI) Deliver(ctx context.Context, req Request) (Result, error) {
	res := Result{Variant: domain.CallbackCustomAPI}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body := map[string]any{
		"repo":    req.Project.GitRepoURL,
		"openapi": req.Document,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Project.CustomCallbackURL, &buf)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Project.CustomCallbackToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Project.CustomCallbackToken)
	}
	client := c.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return res, fmt.Errorf("%w: endpoint returned %d: %s", ErrDelivery, resp.StatusCode, b)
	}
	res.Detail = fmt.Sprintf("posted to %s", req.Project.CustomCallbackURL)
	return res, nil
}

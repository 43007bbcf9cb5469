// Package engine owns the project and task lifecycle and runs the
// documentation generation pipeline.
package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"apigen/internal/callback"
	"apigen/internal/config"
	"apigen/internal/domain"
	"apigen/internal/enrich"
	"apigen/internal/events"
	"apigen/internal/fetch"
	"apigen/internal/gitrepo"
	"apigen/internal/rag"
	"apigen/internal/repo"
)

var (
	ErrGenerationInProgress = errors.New("a generation task is already running for this project")
	ErrInvalidTransition    = errors.New("invalid task status transition")
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Fetcher   *fetch.Fetcher
	Enricher  *enrich.Enricher
	RAG       *rag.Client
	Repos     *gitrepo.Manager
	Callbacks *callback.Registry
	Now       func() time.Time
	Log       *log.Logger

	jobs chan job
}

type job struct {
	projectID string
	taskID    string
}

func New(db *sql.DB, cfg *config.Config, reposDir string) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	repos := gitrepo.NewManager(reposDir)
	var ragClient *rag.Client
	if cfg.RAG.BaseURL != "" {
		ragClient = &rag.Client{
			BaseURL:      cfg.RAG.BaseURL,
			APIKey:       cfg.RAG.APIKey,
			MaxWait:      cfg.RAGSetupMaxWait(),
			PollInterval: cfg.RAGPollInterval(),
			QueryTimeout: cfg.RAGQueryTimeout(),
		}
	}
	e := &Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Fetcher: &fetch.Fetcher{Timeout: cfg.FetchTimeout()},
		RAG:     ragClient,
		Repos:   repos,
		Callbacks: &callback.Registry{
			Repos:      repos,
			TargetPath: cfg.Callback.TargetPath,
			Timeout:    cfg.CallbackTimeout(),
		},
		Now:  time.Now,
		jobs: make(chan job, cfg.Workers.QueueSize),
	}
	if ragClient != nil {
		e.Enricher = &enrich.Enricher{RAG: ragClient}
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// ProjectCreateOptions are parameters for registering a project.
type ProjectCreateOptions struct {
	Name                string
	SourceOpenAPIURL    string
	GitRepoURL          string
	GitAuthToken        string
	SourceLanguage      string
	CallbackType        string
	CustomCallbackURL   string
	CustomCallbackToken string
}

// CreateProject registers a project and mints its bearer token. The plain
// token is returned exactly once; only its hash is stored.
func (e *Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, string, error) {
	if opts.Name == "" {
		return domain.Project{}, "", errors.New("name is required")
	}
	if opts.CallbackType == "" {
		opts.CallbackType = domain.CallbackPushToRepo
	}
	if err := validateCallback(opts.CallbackType, opts.GitRepoURL, opts.CustomCallbackURL); err != nil {
		return domain.Project{}, "", err
	}
	if opts.SourceOpenAPIURL == "" && opts.GitRepoURL == "" {
		return domain.Project{}, "", errors.New("a source openapi url or a git repository url is required")
	}
	if _, err := e.Repo.GetProjectByName(ctx, opts.Name); err == nil {
		return domain.Project{}, "", fmt.Errorf("project %s already exists", opts.Name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, "", err
	}

	token, err := newToken()
	if err != nil {
		return domain.Project{}, "", err
	}
	now := e.timestamp()
	p := domain.Project{
		ID:                  uuid.NewString(),
		Name:                opts.Name,
		SourceOpenAPIURL:    opts.SourceOpenAPIURL,
		GitRepoURL:          opts.GitRepoURL,
		GitAuthToken:        opts.GitAuthToken,
		SourceLanguage:      opts.SourceLanguage,
		CallbackType:        opts.CallbackType,
		CustomCallbackURL:   opts.CustomCallbackURL,
		CustomCallbackToken: opts.CustomCallbackToken,
		TokenHash:           repo.HashToken(token),
		Status:              domain.ProjectInit,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, "", fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, nil, "project.created", p.ID, "", events.EventPayload{"name": p.Name, "callback_type": p.CallbackType}); err != nil {
		e.logf("engine: append project.created event: %v", err)
	}
	return p, token, nil
}

// UpdateProject applies a partial update and returns the new state.
func (e *Engine) UpdateProject(ctx context.Context, id string, upd repo.ProjectUpdate) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	callbackType := p.CallbackType
	if upd.CallbackType != nil {
		callbackType = *upd.CallbackType
	}
	gitURL := p.GitRepoURL
	if upd.GitRepoURL != nil {
		gitURL = *upd.GitRepoURL
	}
	customURL := p.CustomCallbackURL
	if upd.CustomCallbackURL != nil {
		customURL = *upd.CustomCallbackURL
	}
	if err := validateCallback(callbackType, gitURL, customURL); err != nil {
		return domain.Project{}, err
	}
	upd.Status = nil
	upd.TokenHash = nil
	if err := e.Repo.UpdateProject(ctx, id, upd, e.timestamp()); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, nil, "project.updated", id, "", nil); err != nil {
		e.logf("engine: append project.updated event: %v", err)
	}
	return e.Repo.GetProject(ctx, id)
}

// RotateToken mints a fresh bearer token for the project and returns it.
func (e *Engine) RotateToken(ctx context.Context, id string) (string, error) {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return "", err
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	hash := repo.HashToken(token)
	if err := e.Repo.UpdateProject(ctx, id, repo.ProjectUpdate{TokenHash: &hash}, e.timestamp()); err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, nil, "project.token_rotated", id, "", nil); err != nil {
		e.logf("engine: append project.token_rotated event: %v", err)
	}
	return token, nil
}

// DeleteProject removes a project and everything hanging off it.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	if err := e.Repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, nil, "project.deleted", id, "", nil); err != nil {
		e.logf("engine: append project.deleted event: %v", err)
	}
	return nil
}

func validateCallback(callbackType, gitURL, customURL string) error {
	switch callbackType {
	case domain.CallbackPushToRepo:
		if gitURL == "" {
			return errors.New("push_to_repo callback requires a git repository url")
		}
	case domain.CallbackCustomAPI:
		if customURL == "" {
			return errors.New("custom_api callback requires a callback url")
		}
	default:
		return fmt.Errorf("unknown callback type %q", callbackType)
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ag_" + hex.EncodeToString(buf), nil
}

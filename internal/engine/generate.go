package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"apigen/internal/callback"
	"apigen/internal/domain"
	"apigen/internal/events"
	"apigen/internal/fetch"
	"apigen/internal/openapi"
	"apigen/internal/rag"
	"apigen/internal/repo"
)

func ensureTaskTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.TaskPending:
		if newStatus == domain.TaskProcessing || newStatus == domain.TaskFailed {
			return nil
		}
	case domain.TaskProcessing:
		if newStatus == domain.TaskSuccess || newStatus == domain.TaskFailed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
}

// StartGeneration creates a generation task for the project and enqueues
// it. At most one non-terminal task may exist per project.
func (e *Engine) StartGeneration(ctx context.Context, projectID string) (string, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	busy, err := e.Repo.HasNonTerminalTask(ctx, tx, p.ID)
	if err != nil {
		return "", err
	}
	if busy {
		return "", ErrGenerationInProgress
	}
	now := e.timestamp()
	t := domain.Task{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Status:    domain.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", p.ID, t.ID, nil); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	select {
	case e.jobs <- job{projectID: p.ID, taskID: t.ID}:
	default:
		// Queue full: fail the task right away instead of blocking the API.
		if ferr := e.failTask(context.WithoutCancel(ctx), t.ID, p.ID, "generation queue is full"); ferr != nil {
			e.logf("engine: fail task %s: %v", t.ID, ferr)
		}
		return "", errors.New("generation queue is full")
	}
	return t.ID, nil
}

// StartWorkers launches n workers that consume queued generation jobs
// until ctx is canceled.
func (e *Engine) StartWorkers(ctx context.Context, n int) *sync.WaitGroup {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-e.jobs:
					e.runGeneration(ctx, j)
				}
			}
		}()
	}
	return &wg
}

func (e *Engine) runGeneration(ctx context.Context, j job) {
	if err := e.markProcessing(ctx, j.taskID, j.projectID); err != nil {
		e.logf("engine: task %s: mark processing: %v", j.taskID, err)
		if ferr := e.failTask(context.WithoutCancel(ctx), j.taskID, j.projectID,
			fmt.Sprintf("could not start processing: %v", err)); ferr != nil {
			e.logf("engine: fail task %s: %v", j.taskID, ferr)
		}
		return
	}
	result, err := e.generate(ctx, j)
	if err != nil {
		e.logf("engine: task %s failed: %v", j.taskID, err)
		if ferr := e.failTask(context.WithoutCancel(ctx), j.taskID, j.projectID, classifyError(err)); ferr != nil {
			e.logf("engine: fail task %s: %v", j.taskID, ferr)
		}
		return
	}
	if err := e.completeTask(ctx, j, result); err != nil {
		// Delivery already happened; the task must still reach a
		// terminal state or the project stays locked for new runs.
		e.logf("engine: complete task %s: %v", j.taskID, err)
		if ferr := e.failTask(context.WithoutCancel(ctx), j.taskID, j.projectID,
			fmt.Sprintf("failed to record success: %v", err)); ferr != nil {
			e.logf("engine: fail task %s: %v", j.taskID, ferr)
		}
	}
}

type generationResult struct {
	document openapi.Document
	diff     openapi.SpecDiff
	delivery callback.Result
}

func (e *Engine) generate(ctx context.Context, j job) (generationResult, error) {
	var res generationResult
	p, err := e.Repo.GetProject(ctx, j.projectID)
	if err != nil {
		return res, err
	}

	current, err := e.fetchCurrent(ctx, p)
	if err != nil {
		return res, fmt.Errorf("fetch source document: %w", err)
	}
	previous, err := e.previousDocument(ctx, p)
	if err != nil {
		return res, err
	}

	merged, err := openapi.MergeDescriptions(previous, current)
	if err != nil {
		return res, err
	}
	diff := openapi.Diff(previous, merged)
	e.logf("engine: task %s: diff %s", j.taskID, diff.Summary())

	document := merged
	if !diff.Empty() && e.Enricher != nil && e.RAG != nil && p.GitRepoURL != "" {
		if err := e.indexRepository(ctx, p); err != nil {
			return res, fmt.Errorf("index repository: %w", err)
		}
		document, err = e.Enricher.Apply(ctx, merged, diff, p.Name, p.SourceLanguage)
		if err != nil {
			return res, fmt.Errorf("enrich document: %w", err)
		}
	}

	dispatcher, err := e.Callbacks.ForProject(p)
	if err != nil {
		return res, err
	}
	delivery, err := dispatcher.Deliver(ctx, callback.Request{Project: p, TaskID: j.taskID, Document: document})
	if err != nil {
		return res, err
	}

	res.document = document
	res.diff = diff
	res.delivery = delivery
	return res, nil
}

func (e *Engine) fetchCurrent(ctx context.Context, p domain.Project) (openapi.Document, error) {
	if p.SourceOpenAPIURL != "" {
		return e.Fetcher.Remote(ctx, p.SourceOpenAPIURL)
	}
	if p.GitRepoURL != "" {
		release := e.Repos.Lock(p.ID)
		defer release()
		dir, err := e.Repos.Ensure(ctx, p.ID, p.GitRepoURL, p.GitAuthToken)
		if err != nil {
			return nil, err
		}
		return e.Fetcher.FromRepo(dir, e.Config.Source.SpecPath)
	}
	return nil, errors.New("project has neither a source openapi url nor a git repository")
}

// previousDocument prefers stored history; a custom_api project with no
// history may still hold the last document at its callback endpoint.
func (e *Engine) previousDocument(ctx context.Context, p domain.Project) (openapi.Document, error) {
	stored, err := e.Repo.LatestSpec(ctx, p.ID)
	switch {
	case err == nil:
		return openapi.Parse([]byte(stored.Body))
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	if p.CallbackType == domain.CallbackCustomAPI && p.CustomCallbackURL != "" {
		doc, err := e.Fetcher.PreviousFromCallback(ctx, p.CustomCallbackURL, p.CustomCallbackToken)
		if err != nil {
			e.logf("engine: no previous document from callback endpoint: %v", err)
			return nil, nil
		}
		return doc, nil
	}
	return nil, nil
}

func (e *Engine) indexRepository(ctx context.Context, p domain.Project) error {
	st, err := e.RAG.SetupAndWait(ctx, rag.SetupRequest{
		RepoID:        p.Name,
		RepoURLOrPath: p.GitRepoURL,
		AccessToken:   p.GitAuthToken,
	})
	if err != nil {
		return err
	}
	e.logf("engine: repository %s indexed: %s", p.Name, st.IndexStatus)
	return nil
}

func (e *Engine) markProcessing(ctx context.Context, taskID, projectID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskProcessing {
		return nil
	}
	if err := ensureTaskTransition(t.Status, domain.TaskProcessing); err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.timestamp()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, domain.TaskProcessing, nil, nil, now); err != nil {
		return err
	}
	if err := setProjectStatusTx(ctx, tx, projectID, domain.ProjectPending, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.processing", projectID, taskID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) completeTask(ctx context.Context, j job, res generationResult) error {
	body, err := res.document.Encode()
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, j.taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskSuccess {
		// Duplicate completion signal; the stored spec already exists.
		return nil
	}
	if err := ensureTaskTransition(t.Status, domain.TaskSuccess); err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.timestamp()
	summary := fmt.Sprintf("generated document (%s); delivery: %s", res.diff.Summary(), res.delivery.Detail)
	if res.delivery.NoChanges {
		summary = fmt.Sprintf("no changes (%s); %s", res.diff.Summary(), res.delivery.Detail)
	}
	if err := e.Repo.UpdateTaskStatus(ctx, tx, j.taskID, domain.TaskSuccess, &summary, nil, now); err != nil {
		return err
	}
	if err := e.Repo.InsertSpec(ctx, tx, domain.StoredSpec{
		ID:        uuid.NewString(),
		ProjectID: j.projectID,
		TaskID:    j.taskID,
		Body:      string(body),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "spec.stored", j.projectID, j.taskID, nil); err != nil {
		return err
	}
	if err := setProjectStatusTx(ctx, tx, j.projectID, domain.ProjectActive, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.success", j.projectID, j.taskID, events.EventPayload{
		"diff":     res.diff.Summary(),
		"delivery": res.delivery.Variant,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) failTask(ctx context.Context, taskID, projectID, msg string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskFailed {
		// A failed task stays as first recorded; repeated signals are no-ops.
		return nil
	}
	if err := ensureTaskTransition(t.Status, domain.TaskFailed); err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.timestamp()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, domain.TaskFailed, nil, &msg, now); err != nil {
		return err
	}
	if err := setProjectStatusTx(ctx, tx, projectID, domain.ProjectFailed, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.failed", projectID, taskID, events.EventPayload{"error": msg}); err != nil {
		return err
	}
	return tx.Commit()
}

func setProjectStatusTx(ctx context.Context, tx *sql.Tx, projectID, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, updatedAt, projectID)
	return err
}

// classifyError keeps operator-facing task errors short and stable.
func classifyError(err error) string {
	switch {
	case errors.Is(err, fetch.ErrTimeout):
		return "source fetch timed out"
	case errors.Is(err, fetch.ErrUnreachable):
		return "source unreachable"
	case errors.Is(err, fetch.ErrParse):
		return "source returned an invalid document"
	}
	return err.Error()
}

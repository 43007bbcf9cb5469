package engine

import (
	"context"
	"errors"
	"testing"

	"apigen/internal/callback"
	"apigen/internal/config"
	"apigen/internal/db"
	"apigen/internal/domain"
	"apigen/internal/migrate"
	"apigen/internal/openapi"
)

func TestEnsureTaskTransition(t *testing.T) {
	allowed := [][2]string{
		{domain.TaskPending, domain.TaskProcessing},
		{domain.TaskPending, domain.TaskFailed},
		{domain.TaskProcessing, domain.TaskSuccess},
		{domain.TaskProcessing, domain.TaskFailed},
		{domain.TaskSuccess, domain.TaskSuccess},
		{domain.TaskFailed, domain.TaskFailed},
	}
	for _, tr := range allowed {
		if err := ensureTaskTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tr[0], tr[1], err)
		}
	}
	denied := [][2]string{
		{domain.TaskPending, domain.TaskSuccess},
		{domain.TaskProcessing, domain.TaskPending},
		{domain.TaskSuccess, domain.TaskFailed},
		{domain.TaskSuccess, domain.TaskPending},
		{domain.TaskFailed, domain.TaskProcessing},
		{domain.TaskFailed, domain.TaskSuccess},
	}
	for _, tr := range denied {
		err := ensureTaskTransition(tr[0], tr[1])
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s should be rejected, got %v", tr[0], tr[1], err)
		}
	}
}

// newIdleEngine builds an engine without workers so queued tasks stay
// pending until the test drives them.
func newIdleEngine(t *testing.T) *Engine {
	t.Helper()
	ws := db.NewWorkspace(t.TempDir())
	conn, err := ws.Open()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Apply(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, config.Default(), ws.ReposDir())
}

func countEvents(t *testing.T, e *Engine, projectID, eventType string) int {
	t.Helper()
	evs, err := e.Repo.TailEvents(context.Background(), projectID, 100)
	if err != nil {
		t.Fatalf("tail events: %v", err)
	}
	n := 0
	for _, ev := range evs {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestRepeatedFailureSignalIsNoOp(t *testing.T) {
	e := newIdleEngine(t)
	ctx := context.Background()

	p, _, err := e.CreateProject(ctx, ProjectCreateOptions{Name: "dup-fail", GitRepoURL: "https://example.com/repo.git"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	taskID, err := e.StartGeneration(ctx, p.ID)
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}
	if err := e.markProcessing(ctx, taskID, p.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := e.failTask(ctx, taskID, p.ID, "first failure"); err != nil {
		t.Fatalf("fail task: %v", err)
	}
	if err := e.failTask(ctx, taskID, p.ID, "second failure"); err != nil {
		t.Fatalf("repeated failure signal should be a no-op, got %v", err)
	}

	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.ErrorMessage == nil || *task.ErrorMessage != "first failure" {
		t.Fatalf("error message mutated by repeated signal: %v", task.ErrorMessage)
	}
	if n := countEvents(t, e, p.ID, "task.failed"); n != 1 {
		t.Fatalf("task.failed events = %d, want 1", n)
	}
}

func TestRepeatedCompletionSignalIsNoOp(t *testing.T) {
	e := newIdleEngine(t)
	ctx := context.Background()

	p, _, err := e.CreateProject(ctx, ProjectCreateOptions{Name: "dup-success", GitRepoURL: "https://example.com/repo.git"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	taskID, err := e.StartGeneration(ctx, p.ID)
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}
	if err := e.markProcessing(ctx, taskID, p.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	res := generationResult{
		document: openapi.Document{"openapi": "3.0.0"},
		delivery: callback.Result{Variant: domain.CallbackPushToRepo, Detail: "pushed"},
	}
	j := job{projectID: p.ID, taskID: taskID}
	if err := e.completeTask(ctx, j, res); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if err := e.completeTask(ctx, j, res); err != nil {
		t.Fatalf("repeated completion signal should be a no-op, got %v", err)
	}

	specs, err := e.Repo.ListSpecs(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("list specs: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("stored specs = %d, want 1", len(specs))
	}
	if n := countEvents(t, e, p.ID, "task.success"); n != 1 {
		t.Fatalf("task.success events = %d, want 1", n)
	}
}

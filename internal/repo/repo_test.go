package repo_test

import (
	"context"
	"errors"
	"testing"

	"apigen/internal/db"
	"apigen/internal/domain"
	"apigen/internal/migrate"
	"apigen/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.NewWorkspace(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Apply(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertProject(t *testing.T, r repo.Repo, id, name string) {
	t.Helper()
	err := r.InsertProject(context.Background(), domain.Project{
		ID:           id,
		Name:         name,
		GitRepoURL:   "https://example.com/" + name + ".git",
		CallbackType: domain.CallbackPushToRepo,
		TokenHash:    repo.HashToken("tok-" + id),
		Status:       domain.ProjectInit,
		CreatedAt:    "2026-08-30T10:00:00Z",
		UpdatedAt:    "2026-08-30T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
}

func TestLatestSpecOrdering(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", "pets")

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, task := range []string{"t1", "t2"} {
		err := r.InsertTask(ctx, tx, domain.Task{
			ID: task, ProjectID: "p1", Status: domain.TaskSuccess,
			CreatedAt: "2026-08-30T10:00:00Z", UpdatedAt: "2026-08-30T10:00:00Z",
		})
		if err != nil {
			t.Fatalf("insert task %s: %v", task, err)
		}
	}
	specs := []domain.StoredSpec{
		{ID: "s1", ProjectID: "p1", TaskID: "t1", Body: `{"v":1}`, CreatedAt: "2026-08-30T10:00:00Z"},
		{ID: "s2", ProjectID: "p1", TaskID: "t2", Body: `{"v":2}`, CreatedAt: "2026-08-30T11:00:00Z"},
		// Same timestamp as s2: the higher id wins the tiebreak.
		{ID: "s3", ProjectID: "p1", TaskID: "t2", Body: `{"v":3}`, CreatedAt: "2026-08-30T11:00:00Z"},
	}
	for _, s := range specs {
		if err := r.InsertSpec(ctx, tx, s); err != nil {
			t.Fatalf("insert spec %s: %v", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	latest, err := r.LatestSpec(ctx, "p1")
	if err != nil {
		t.Fatalf("latest spec: %v", err)
	}
	if latest.ID != "s3" {
		t.Fatalf("expected s3 as latest, got %s", latest.ID)
	}

	all, err := r.ListSpecs(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("list specs: %v", err)
	}
	if len(all) != 3 || all[0].ID != "s3" {
		t.Fatalf("unexpected ordering: %+v", all)
	}

	if _, err := r.LatestSpec(ctx, "other"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}

func TestUpdateProjectPartial(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", "pets")

	lang := "python"
	err := r.UpdateProject(ctx, "p1", repo.ProjectUpdate{SourceLanguage: &lang}, "2026-08-30T12:00:00Z")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	p, err := r.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.SourceLanguage != "python" || p.GitRepoURL == "" {
		t.Fatalf("partial update touched the wrong fields: %+v", p)
	}
	if p.UpdatedAt != "2026-08-30T12:00:00Z" {
		t.Fatalf("updated_at not written: %s", p.UpdatedAt)
	}

	if err := r.UpdateProject(ctx, "missing", repo.ProjectUpdate{SourceLanguage: &lang}, "x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", "pets")

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertTask(ctx, tx, domain.Task{
		ID: "t1", ProjectID: "p1", Status: domain.TaskSuccess,
		CreatedAt: "2026-08-30T10:00:00Z", UpdatedAt: "2026-08-30T10:00:00Z",
	}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := r.InsertSpec(ctx, tx, domain.StoredSpec{
		ID: "s1", ProjectID: "p1", TaskID: "t1", Body: `{}`, CreatedAt: "2026-08-30T10:00:00Z",
	}); err != nil {
		t.Fatalf("insert spec: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := r.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetTask(ctx, "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task must be gone, got %v", err)
	}
	if _, err := r.GetSpecByTask(ctx, "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("spec must be gone, got %v", err)
	}
}

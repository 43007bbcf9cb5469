package repo

import (
	"context"
	"database/sql"

	"apigen/internal/domain"
)

const taskColumns = `id, project_id, status, result, error_message, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.ProjectID, &t.Status, &t.Result, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id, project_id, status, result, error_message, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Status, t.Result, t.ErrorMessage, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) ListTasks(ctx context.Context, projectID string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=?
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id, status string, result, errMsg *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?,
		result=COALESCE(?, result), error_message=COALESCE(?, error_message), updated_at=?
		WHERE id=?`, status, result, errMsg, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasNonTerminalTask reports whether the project has a pending or processing task.
// Callers use it inside the same transaction that inserts a new task so that
// at most one generation can run per project.
func (r Repo) HasNonTerminalTask(ctx context.Context, tx *sql.Tx, projectID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND status IN (?,?)`,
		projectID, domain.TaskPending, domain.TaskProcessing).Scan(&n)
	return n > 0, err
}

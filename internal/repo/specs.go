package repo

import (
	"context"
	"database/sql"

	"apigen/internal/domain"
)

const specColumns = `id, project_id, task_id, body, created_at`

func scanSpec(scan func(dest ...any) error) (domain.StoredSpec, error) {
	var s domain.StoredSpec
	err := scan(&s.ID, &s.ProjectID, &s.TaskID, &s.Body, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertSpec(ctx context.Context, tx *sql.Tx, s domain.StoredSpec) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO specs(id, project_id, task_id, body, created_at)
		VALUES (?,?,?,?,?)`, s.ID, s.ProjectID, s.TaskID, s.Body, s.CreatedAt)
	return err
}

// LatestSpec returns the most recent stored document for a project.
func (r Repo) LatestSpec(ctx context.Context, projectID string) (domain.StoredSpec, error) {
	return scanSpec(r.DB.QueryRowContext(ctx, `SELECT `+specColumns+` FROM specs WHERE project_id=?
		ORDER BY created_at DESC, id DESC LIMIT 1`, projectID).Scan)
}

func (r Repo) GetSpecByTask(ctx context.Context, taskID string) (domain.StoredSpec, error) {
	return scanSpec(r.DB.QueryRowContext(ctx, `SELECT `+specColumns+` FROM specs WHERE task_id=?`, taskID).Scan)
}

func (r Repo) ListSpecs(ctx context.Context, projectID string, limit int) ([]domain.StoredSpec, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+specColumns+` FROM specs WHERE project_id=?
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoredSpec
	for rows.Next() {
		s, err := scanSpec(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

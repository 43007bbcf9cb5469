package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"apigen/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// HashToken returns a stable SHA-256 hex digest for a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const projectColumns = `id, name,
	COALESCE(source_openapi_url,''), COALESCE(git_repo_url,''), COALESCE(git_auth_token,''),
	COALESCE(source_language,''), callback_type,
	COALESCE(custom_callback_url,''), COALESCE(custom_callback_token,''),
	token_hash, status, created_at, updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name,
		&p.SourceOpenAPIURL, &p.GitRepoURL, &p.GitAuthToken,
		&p.SourceLanguage, &p.CallbackType,
		&p.CustomCallbackURL, &p.CustomCallbackToken,
		&p.TokenHash, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(
		id, name, source_openapi_url, git_repo_url, git_auth_token, source_language,
		callback_type, custom_callback_url, custom_callback_token, token_hash, status,
		created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.SourceOpenAPIURL), nullable(p.GitRepoURL), nullable(p.GitAuthToken),
		nullable(p.SourceLanguage), p.CallbackType, nullable(p.CustomCallbackURL), nullable(p.CustomCallbackToken),
		p.TokenHash, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name=?`, name))
}

// GetProjectByTokenHash resolves the project a bearer token belongs to.
func (r Repo) GetProjectByTokenHash(ctx context.Context, hash string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE token_hash=? LIMIT 1`, hash))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name,
			&p.SourceOpenAPIURL, &p.GitRepoURL, &p.GitAuthToken,
			&p.SourceLanguage, &p.CallbackType,
			&p.CustomCallbackURL, &p.CustomCallbackToken,
			&p.TokenHash, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectUpdate lists the mutable project fields. Nil means keep current value.
type ProjectUpdate struct {
	SourceOpenAPIURL    *string
	GitRepoURL          *string
	GitAuthToken        *string
	SourceLanguage      *string
	CallbackType        *string
	CustomCallbackURL   *string
	CustomCallbackToken *string
	TokenHash           *string
	Status              *string
}

func (r Repo) UpdateProject(ctx context.Context, id string, upd ProjectUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("source_openapi_url", upd.SourceOpenAPIURL)
	set("git_repo_url", upd.GitRepoURL)
	set("git_auth_token", upd.GitAuthToken)
	set("source_language", upd.SourceLanguage)
	set("callback_type", upd.CallbackType)
	set("custom_callback_url", upd.CustomCallbackURL)
	set("custom_callback_token", upd.CustomCallbackToken)
	if upd.TokenHash != nil {
		fields = append(fields, "token_hash=?")
		args = append(args, *upd.TokenHash)
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateProjectStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateWorkspace(ctx context.Context, name string) (*Workspace, error) {
	ws := &Workspace{Name: name}
	query := `INSERT INTO workspaces (name) VALUES ($1) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&ws.ID, &ws.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%w: %s", ErrWorkspaceExists, name)
		}
		return nil, err
	}
	return ws, nil
}

func (r *PostgresRepo) GetWorkspace(ctx context.Context, name string) (*Workspace, error) {
	ws := &Workspace{}
	query := `SELECT id, name, created_at FROM workspaces WHERE name = $1`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (r *PostgresRepo) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	query := `SELECT id, name, created_at FROM workspaces ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func (r *PostgresRepo) DeleteWorkspace(ctx context.Context, name string) error {
	// files rows go with it via ON DELETE CASCADE
	query := `DELETE FROM workspaces WHERE name = $1`
	_, err := r.db.ExecContext(ctx, query, name)
	return err
}

func (r *PostgresRepo) CountWorkspaces(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) UpsertFile(ctx context.Context, workspace, filename, hash string) error {
	query := `INSERT INTO files (workspace_id, filename, content_hash, status)
		SELECT id, $2, $3, 'uploaded' FROM workspaces WHERE name = $1
		ON CONFLICT (workspace_id, filename)
		DO UPDATE SET content_hash = EXCLUDED.content_hash, status = 'uploaded', failed_stage = '', error = '', updated_at = NOW()`
	res, err := r.db.ExecContext(ctx, query, workspace, filename, hash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) ListFiles(ctx context.Context, workspace string) ([]File, error) {
	query := `SELECT f.id, f.filename, f.status, f.failed_stage, f.error, f.content_hash, f.created_at, f.updated_at
		FROM files f JOIN workspaces w ON w.id = f.workspace_id
		WHERE w.name = $1 ORDER BY f.created_at`
	rows, err := r.db.QueryContext(ctx, query, workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Filename, &f.Status, &f.FailedStage, &f.Error, &f.ContentHash, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *PostgresRepo) CountFiles(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) UpdateFileStatus(ctx context.Context, workspace, filename, status string) error {
	query := `UPDATE files SET status = $3, failed_stage = '', error = '', updated_at = NOW()
		WHERE filename = $2 AND workspace_id = (SELECT id FROM workspaces WHERE name = $1)`
	_, err := r.db.ExecContext(ctx, query, workspace, filename, status)
	return err
}

func (r *PostgresRepo) MarkFileFailed(ctx context.Context, workspace, filename, stage, reason string) error {
	query := `UPDATE files SET status = 'failed', failed_stage = $3, error = $4, updated_at = NOW()
		WHERE filename = $2 AND workspace_id = (SELECT id FROM workspaces WHERE name = $1)`
	_, err := r.db.ExecContext(ctx, query, workspace, filename, stage, reason)
	return err
}

package job

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepo_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO failed_jobs`).
		WithArgs("docs", "report.pdf", "ingest-pipeline", []byte(`{}`), "embedding failed").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "retries"}).AddRow("job-1", now, 0))

	repo := NewPostgresRepo(db)
	j := &Job{
		Workspace: "docs",
		Filename:  "report.pdf",
		Handler:   "ingest-pipeline",
		Payload:   []byte(`{}`),
		Error:     "embedding failed",
	}
	err = repo.Save(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "job-1", j.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "workspace", "filename", "handler", "payload", "error", "retries", "created_at"}).
		AddRow("job-1", "docs", "a.pdf", "ingest-pipeline", []byte(`{"workspace":"docs"}`), "err a", 0, now).
		AddRow("job-2", "docs", "b.pdf", "ingest-pipeline", []byte(`{"workspace":"docs"}`), "err b", 1, now)
	mock.ExpectQuery(`SELECT id, workspace, filename, handler, payload, error, retries, created_at FROM failed_jobs`).
		WillReturnRows(rows)

	repo := NewPostgresRepo(db)
	jobs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "err b", jobs[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, workspace, filename, handler, payload, error, retries, created_at FROM failed_jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace", "filename", "handler", "payload", "error", "retries", "created_at"}).
			AddRow("job-1", "docs", "a.pdf", "ingest-pipeline", []byte(`{}`), "boom", 0, now))

	repo := NewPostgresRepo(db)
	j, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "docs", j.Workspace)
	assert.Equal(t, "boom", j.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM failed_jobs WHERE id`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	require.NoError(t, repo.Delete(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewPostgresRepo(db)
	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

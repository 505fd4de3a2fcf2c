package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clash-intelligence/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type JobRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewJobRepository(sqlDB *sql.DB, logger zerolog.Logger) *JobRepository {
	return &JobRepository{db: sqlDB, logger: logger}
}

// Enqueue creates a pending job for the clan, or returns the existing
// in-flight job when one is already pending or running. The partial unique
// index on (clan_tag) for in-flight statuses makes the check-and-insert a
// single atomic statement, so two concurrent callers can never both create
// a job for the same clan. The second return reports whether a new job was
// created.
func (r *JobRepository) Enqueue(ctx context.Context, clanTag string) (*domain.IngestJob, bool, error) {
	clanTag = domain.NormalizeTag(clanTag)
	id, err := gonanoid.New()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate nanoid: %w", err)
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, clan_tag, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		id, clanTag, domain.JobPending, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	job, err := r.inflight(ctx, clanTag)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		// The in-flight job finished between insert and read; surface the
		// one we just created if it stuck, otherwise retry once.
		if inserted > 0 {
			job, err = r.Get(ctx, id)
			if err != nil {
				return nil, false, err
			}
		}
		if job == nil {
			return r.Enqueue(ctx, clanTag)
		}
	}
	return job, inserted > 0, nil
}

func (r *JobRepository) inflight(ctx context.Context, clanTag string) (*domain.IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, clan_tag, status, attempts, error, created_at, started_at, completed_at, updated_at
		FROM ingest_jobs
		WHERE clan_tag = ? AND status IN (?, ?)`,
		clanTag, domain.JobPending, domain.JobRunning)
	return scanJob(row)
}

// NextPending returns the oldest pending job, or nil when the queue is
// drained.
func (r *JobRepository) NextPending(ctx context.Context) (*domain.IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, clan_tag, status, attempts, error, created_at, started_at, completed_at, updated_at
		FROM ingest_jobs
		WHERE status = ?
		ORDER BY created_at
		LIMIT 1`, domain.JobPending)
	return scanJob(row)
}

// Get returns the job by id, or nil when unknown.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, clan_tag, status, attempts, error, created_at, started_at, completed_at, updated_at
		FROM ingest_jobs
		WHERE id = ?`, id)
	return scanJob(row)
}

// MarkRunning transitions pending -> running and bumps the attempt count.
// The status guard in the WHERE clause enforces the monotonic state
// machine: a job already past pending is left untouched.
func (r *JobRepository) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.transition(ctx, `
		UPDATE ingest_jobs
		SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		id, domain.JobRunning, now, now, id, domain.JobPending)
}

// MarkCompleted transitions running -> completed.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.transition(ctx, `
		UPDATE ingest_jobs
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		id, domain.JobCompleted, now, now, id, domain.JobRunning)
}

// MarkFailed transitions running -> failed with an attached message.
func (r *JobRepository) MarkFailed(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	return r.transition(ctx, `
		UPDATE ingest_jobs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		id, domain.JobFailed, message, now, now, id, domain.JobRunning)
}

func (r *JobRepository) transition(ctx context.Context, query, id string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: invalid state transition", id)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.IngestJob, error) {
	var job domain.IngestJob
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ClanTag, &job.Status, &job.Attempts, &job.Error,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

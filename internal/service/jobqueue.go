package service

import (
	"context"
	"fmt"
	"time"

	"clash-intelligence/internal/constants"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// pollInterval bounds how long a pending job can sit unnoticed if a wake
// signal is missed (e.g. enqueue from another process).
const pollInterval = 15 * time.Second

// JobQueue sequences derivation passes: at most one in-flight job per clan
// (enforced by the repository's atomic enqueue) and a single worker
// draining pending jobs in order. Status is poll-only; the queue guarantees
// an eventual terminal state, not latency.
type JobQueue struct {
	jobs   *repository.JobRepository
	ingest *IngestionService
	logger zerolog.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewJobQueue(jobs *repository.JobRepository, ingest *IngestionService, logger zerolog.Logger) *JobQueue {
	return &JobQueue{
		jobs:   jobs,
		ingest: ingest,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue schedules a derivation pass for the clan. When a pass for the
// same clan is already pending or running the existing job is returned
// instead of creating a duplicate.
func (q *JobQueue) Enqueue(ctx context.Context, clanTag string) (*domain.IngestJob, error) {
	job, created, err := q.jobs.Enqueue(ctx, clanTag)
	if err != nil {
		return nil, err
	}
	if created {
		q.logger.Info().Str("job_id", job.ID).Str("clan_tag", job.ClanTag).Msg("ingestion job enqueued")
		select {
		case q.wake <- struct{}{}:
		default:
		}
	} else {
		q.logger.Debug().Str("job_id", job.ID).Str("clan_tag", job.ClanTag).Msg("returning existing in-flight job")
	}
	return job, nil
}

// Status returns the job record for polling callers.
func (q *JobQueue) Status(ctx context.Context, jobID string) (*domain.IngestJob, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

// Start launches the worker loop. Stop cancels it and waits for the
// in-flight job to finish.
func (q *JobQueue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.group, ctx = errgroup.WithContext(ctx)
	q.group.Go(func() error {
		q.run(ctx)
		return nil
	})
	q.logger.Info().Msg("job queue worker started")
}

func (q *JobQueue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	if err := q.group.Wait(); err != nil {
		q.logger.Error().Err(err).Msg("job queue worker failed")
	}
	q.logger.Info().Msg("job queue worker stopped")
}

func (q *JobQueue) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		q.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// drain claims and runs pending jobs until the queue is empty.
func (q *JobQueue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := q.jobs.NextPending(ctx)
		if err != nil {
			q.logger.Error().Err(err).Msg("failed to claim next job")
			return
		}
		if job == nil {
			return
		}
		q.execute(ctx, job)
	}
}

func (q *JobQueue) execute(ctx context.Context, job *domain.IngestJob) {
	logger := q.logger.With().Str("job_id", job.ID).Str("clan_tag", job.ClanTag).Logger()

	if err := q.jobs.MarkRunning(ctx, job.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job running")
		return
	}

	passCtx, cancel := context.WithTimeout(ctx, constants.IngestPassTimeout)
	defer cancel()

	if err := q.ingest.RunPass(passCtx, job.ClanTag); err != nil {
		logger.Error().Err(err).Msg("ingestion job failed")
		if markErr := q.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark job failed")
		}
		return
	}

	if err := q.jobs.MarkCompleted(context.WithoutCancel(ctx), job.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job completed")
		return
	}
	logger.Info().Msg("ingestion job completed")
}

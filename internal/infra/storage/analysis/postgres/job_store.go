package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/infra/storage"
)

var _ analysis.JobRepository = (*JobStore)(nil)

// JobStore persists per-stage jobs in PostgreSQL. The unique constraint on
// (run_id, kind) enforces the one-job-per-stage rule at the database level.
type JobStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a job registry backed by the given pool.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *JobStore {
	return &JobStore{pool: pool, tracer: tracer}
}

// Create inserts a job in status CREATED, translating the unique constraint
// violation into analysis.ErrDuplicateJob.
func (s *JobStore) Create(ctx context.Context, runID int64, kind analysis.WorkerKind, config json.RawMessage) (*analysis.Job, error) {
	var job *analysis.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_job", []attribute.KeyValue{
		attribute.Int64("run_id", runID),
		attribute.String("worker_kind", kind.String()),
	}, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO analysis_jobs (run_id, kind, config, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			runID, kind.String(), config, analysis.JobStatusCreated.String(),
		)

		created := analysis.Job{
			RunID:  runID,
			Kind:   kind,
			Config: config,
			Status: analysis.JobStatusCreated,
		}
		if err := row.Scan(&created.ID, &created.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("run %d kind %s: %w", runID, kind, analysis.ErrDuplicateJob)
			}
			return fmt.Errorf("insert job: %w", err)
		}
		job = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns the job with the given id or analysis.ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, id int64) (*analysis.Job, error) {
	return s.queryOne(ctx, "postgres.get_job",
		[]attribute.KeyValue{attribute.Int64("job_id", id)},
		`SELECT id, run_id, kind, config, status, created_at, started_at, finished_at
		 FROM analysis_jobs WHERE id = $1`, id)
}

// GetForRun returns the run's job for the given worker kind.
func (s *JobStore) GetForRun(ctx context.Context, runID int64, kind analysis.WorkerKind) (*analysis.Job, error) {
	return s.queryOne(ctx, "postgres.get_job_for_run",
		[]attribute.KeyValue{
			attribute.Int64("run_id", runID),
			attribute.String("worker_kind", kind.String()),
		},
		`SELECT id, run_id, kind, config, status, created_at, started_at, finished_at
		 FROM analysis_jobs WHERE run_id = $1 AND kind = $2`, runID, kind.String())
}

// ListForRun returns every job created for the run, ordered by id.
func (s *JobStore) ListForRun(ctx context.Context, runID int64) ([]*analysis.Job, error) {
	return s.queryMany(ctx, "postgres.list_jobs_for_run",
		[]attribute.KeyValue{attribute.Int64("run_id", runID)},
		`SELECT id, run_id, kind, config, status, created_at, started_at, finished_at
		 FROM analysis_jobs WHERE run_id = $1 ORDER BY id`, runID)
}

// UpdateStatus moves the job through its state machine under a row lock,
// stamping started_at on RUNNING and finished_at on terminal statuses.
func (s *JobStore) UpdateStatus(ctx context.Context, id int64, status analysis.JobStatus) (*analysis.Job, error) {
	var job *analysis.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_job_status", []attribute.KeyValue{
		attribute.Int64("job_id", id),
		attribute.String("status", status.String()),
	}, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var current string
			err := tx.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return analysis.ErrJobNotFound
			}
			if err != nil {
				return fmt.Errorf("lock job %d: %w", id, err)
			}

			currentStatus, err := analysis.ParseJobStatus(current)
			if err != nil {
				return err
			}
			if err := currentStatus.ValidateTransition(status); err != nil {
				return fmt.Errorf("job %d: %w", id, err)
			}

			row := tx.QueryRow(ctx, `
				UPDATE analysis_jobs
				SET status = $2,
				    started_at = CASE WHEN $3 THEN now() ELSE started_at END,
				    finished_at = CASE WHEN $4 THEN now() ELSE finished_at END
				WHERE id = $1
				RETURNING id, run_id, kind, config, status, created_at, started_at, finished_at`,
				id, status.String(), status == analysis.JobStatusRunning, status.IsTerminal(),
			)
			updated, err := scanJob(row)
			if err != nil {
				return err
			}
			job = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TryTransition applies (from -> to) with a single conditional update. The
// database's row-level locking makes this the linearization point for racing
// writers: exactly one of them observes rows_affected = 1.
func (s *JobStore) TryTransition(ctx context.Context, id int64, from, to analysis.JobStatus) (bool, error) {
	if err := from.ValidateTransition(to); err != nil {
		return false, fmt.Errorf("job %d: %w", id, err)
	}

	var applied bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.try_transition_job", []attribute.KeyValue{
		attribute.Int64("job_id", id),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	}, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE analysis_jobs
			SET status = $3,
			    started_at = CASE WHEN $4 THEN now() ELSE started_at END,
			    finished_at = CASE WHEN $5 THEN now() ELSE finished_at END
			WHERE id = $1 AND status = $2`,
			id, from.String(), to.String(), to == analysis.JobStatusRunning, to.IsTerminal(),
		)
		if err != nil {
			return fmt.Errorf("transition job %d: %w", id, err)
		}
		applied = tag.RowsAffected() == 1
		if !applied {
			// Distinguish a lost race from a missing row.
			var exists bool
			if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check job %d: %w", id, err)
			}
			if !exists {
				return analysis.ErrJobNotFound
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListActive returns RUNNING jobs of the given kind that were created before
// the cutoff, ordered by id.
func (s *JobStore) ListActive(ctx context.Context, kind analysis.WorkerKind, before time.Time) ([]*analysis.Job, error) {
	return s.queryMany(ctx, "postgres.list_active_jobs",
		[]attribute.KeyValue{attribute.String("worker_kind", kind.String())},
		`SELECT id, run_id, kind, config, status, created_at, started_at, finished_at
		 FROM analysis_jobs
		 WHERE kind = $1 AND status = $2 AND created_at < $3
		 ORDER BY id`,
		kind.String(), analysis.JobStatusRunning.String(), before)
}

// Delete removes the job.
func (s *JobStore) Delete(ctx context.Context, id int64) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_job", []attribute.KeyValue{
		attribute.Int64("job_id", id),
	}, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_jobs WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete job %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return analysis.ErrJobNotFound
		}
		return nil
	})
}

func (s *JobStore) queryOne(ctx context.Context, spanName string, attrs []attribute.KeyValue, sql string, args ...any) (*analysis.Job, error) {
	var job *analysis.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, attrs, func(ctx context.Context) error {
		loaded, err := scanJob(s.pool.QueryRow(ctx, sql, args...))
		if err != nil {
			return err
		}
		job = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobStore) queryMany(ctx context.Context, spanName string, attrs []attribute.KeyValue, sql string, args ...any) ([]*analysis.Job, error) {
	var jobs []*analysis.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("query jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*analysis.Job, error) {
	var job analysis.Job
	var kind, status string
	err := row.Scan(
		&job.ID,
		&job.RunID,
		&kind,
		&job.Config,
		&status,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, analysis.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Kind, err = analysis.ParseWorkerKind(kind)
	if err != nil {
		return nil, err
	}
	job.Status, err = analysis.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/infra/storage"
)

var _ analysis.RunRepository = (*RunStore)(nil)

// RunStore persists runs in PostgreSQL.
type RunStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRunStore creates a run registry backed by the given pool.
func NewRunStore(pool *pgxpool.Pool, tracer trace.Tracer) *RunStore {
	return &RunStore{pool: pool, tracer: tracer}
}

// Create inserts a run with the next per-repository index inside a
// serializable transaction. Concurrent creations for the same repository
// conflict on the MAX(run_index) read; losers are retried until each run
// holds a distinct, gapless index.
func (s *RunStore) Create(ctx context.Context, n analysis.NewRun) (*analysis.Run, error) {
	var run *analysis.Run
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_run", []attribute.KeyValue{
		attribute.Int64("repository_id", n.RepositoryID),
		attribute.String("revision", n.Revision),
	}, func(ctx context.Context) error {
		return retrySerializable(ctx, func() error {
			return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
				row := tx.QueryRow(ctx, `
					INSERT INTO analysis_runs (repository_id, run_index, revision, path, config, trace_id, labels, status)
					VALUES (
						$1,
						(SELECT COALESCE(MAX(run_index), 0) + 1 FROM analysis_runs WHERE repository_id = $1),
						$2, $3, $4, $5, $6, $7
					)
					RETURNING id, run_index, created_at`,
					n.RepositoryID, n.Revision, n.Path, n.Config, n.TraceID, n.Labels, analysis.RunStatusCreated.String(),
				)

				created := analysis.Run{
					RepositoryID: n.RepositoryID,
					Revision:     n.Revision,
					Path:         n.Path,
					Config:       n.Config,
					TraceID:      n.TraceID,
					Labels:       n.Labels,
					Status:       analysis.RunStatusCreated,
				}
				if err := row.Scan(&created.ID, &created.Index, &created.CreatedAt); err != nil {
					return fmt.Errorf("insert run: %w", err)
				}
				run = &created
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns the run with the given id or analysis.ErrRunNotFound.
func (s *RunStore) Get(ctx context.Context, id int64) (*analysis.Run, error) {
	var run *analysis.Run
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_run", []attribute.KeyValue{
		attribute.Int64("run_id", id),
	}, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, repository_id, run_index, revision, path, config, trace_id, labels, status, created_at, finished_at
			FROM analysis_runs WHERE id = $1`, id)

		loaded, err := scanRun(row)
		if err != nil {
			return err
		}
		run = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateStatus moves the run through its state machine under a row lock so
// concurrent writers serialize on the run, stamping finished_at on terminal
// statuses.
func (s *RunStore) UpdateStatus(ctx context.Context, id int64, status analysis.RunStatus) (*analysis.Run, error) {
	var run *analysis.Run
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_run_status", []attribute.KeyValue{
		attribute.Int64("run_id", id),
		attribute.String("status", status.String()),
	}, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var current string
			err := tx.QueryRow(ctx, `SELECT status FROM analysis_runs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return analysis.ErrRunNotFound
			}
			if err != nil {
				return fmt.Errorf("lock run %d: %w", id, err)
			}

			currentStatus, err := analysis.ParseRunStatus(current)
			if err != nil {
				return err
			}
			if err := currentStatus.ValidateTransition(status); err != nil {
				return fmt.Errorf("run %d: %w", id, err)
			}

			row := tx.QueryRow(ctx, `
				UPDATE analysis_runs
				SET status = $2,
				    finished_at = CASE WHEN $3 THEN now() ELSE finished_at END
				WHERE id = $1
				RETURNING id, repository_id, run_index, revision, path, config, trace_id, labels, status, created_at, finished_at`,
				id, status.String(), status.IsTerminal(),
			)
			updated, err := scanRun(row)
			if err != nil {
				return err
			}
			run = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (*analysis.Run, error) {
	var run analysis.Run
	var status string
	err := row.Scan(
		&run.ID,
		&run.RepositoryID,
		&run.Index,
		&run.Revision,
		&run.Path,
		&run.Config,
		&run.TraceID,
		&run.Labels,
		&status,
		&run.CreatedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, analysis.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status, err = analysis.ParseRunStatus(status)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

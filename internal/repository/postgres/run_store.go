package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cassiomorais/payflow/pkg/durable"
)

const uniqueViolation = "23505"

// RunStore implements durable.Store. The run document lives in a JSONB column;
// state, wake_at and version are mirrored into columns for scheduling and
// optimistic concurrency.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, s.pool)
}

func encodeRun(run *durable.Run) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	return data, nil
}

func decodeRun(data []byte, version int) (*durable.Run, error) {
	run := &durable.Run{}
	if err := json.Unmarshal(data, run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	run.Version = version
	return run, nil
}

func (s *RunStore) Create(ctx context.Context, run *durable.Run) error {
	run.Version = 1
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db(ctx).Exec(ctx,
		`INSERT INTO workflow_runs (id, kind, key, state, wake_at, version, data, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Kind, run.Key, string(run.State), run.WakeAt, run.Version, data,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return durable.ErrRunExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*durable.Run, error) {
	var (
		data    []byte
		version int
	)
	err := s.db(ctx).QueryRow(ctx,
		`SELECT data, version FROM workflow_runs WHERE id = $1`, id,
	).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, durable.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(data, version)
}

// Save writes the run if its version still matches the stored one.
func (s *RunStore) Save(ctx context.Context, run *durable.Run) error {
	expected := run.Version
	next := *run
	next.Version = expected + 1
	data, err := encodeRun(&next)
	if err != nil {
		return err
	}

	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE workflow_runs
		 SET state = $1, wake_at = $2, version = $3, data = $4, updated_at = $5, completed_at = $6
		 WHERE id = $7 AND version = $8`,
		string(run.State), run.WakeAt, next.Version, data, run.UpdatedAt, run.CompletedAt,
		run.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)`, run.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if !exists {
			return durable.ErrRunNotFound
		}
		return durable.ErrVersionConflict
	}
	run.Version = next.Version
	return nil
}

func (s *RunStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db(ctx).Query(ctx,
		`SELECT id FROM workflow_runs
		 WHERE state IN ('running', 'suspended') AND wake_at IS NOT NULL AND wake_at <= $1
		 ORDER BY wake_at ASC
		 LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan due runs: %w", err)
	}
	return ids, nil
}

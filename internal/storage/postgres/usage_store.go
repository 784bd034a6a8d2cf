package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studylens/video-pipeline/internal/pipeline"
	"github.com/studylens/video-pipeline/internal/quota"
)

// UsageStore persists quota accounting rows in Postgres.
//
// Assumed schema:
//
//	CREATE TABLE quota_usage (
//	    subject_id         TEXT NOT NULL,
//	    quota_type         TEXT NOT NULL,
//	    period_start       TIMESTAMPTZ NOT NULL,
//	    period_end         TIMESTAMPTZ NOT NULL,
//	    used_amount        BIGINT NOT NULL DEFAULT 0,
//	    last_resource_id   TEXT NOT NULL DEFAULT '',
//	    last_resource_type TEXT NOT NULL DEFAULT '',
//	    updated_at         TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (subject_id, quota_type, period_start)
//	);
type UsageStore struct {
	pool  querier
	clock pipeline.Clock
}

// NewUsageStore connects a pgx pool to the quota_usage table.
func NewUsageStore(ctx context.Context, dsn string, clock pipeline.Clock) (*UsageStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &UsageStore{pool: pool, clock: clock}, nil
}

// NewUsageStoreWithPool wraps an existing pool; used by tests.
func NewUsageStoreWithPool(pool querier, clock pipeline.Clock) *UsageStore {
	return &UsageStore{pool: pool, clock: clock}
}

// Close releases the underlying pool.
func (s *UsageStore) Close() {
	s.pool.Close()
}

// Usage returns the used amount for the period, zero when no row exists.
func (s *UsageStore) Usage(ctx context.Context, subjectID string, t pipeline.QuotaType, periodStart time.Time) (int64, error) {
	query := `
		SELECT used_amount FROM quota_usage
		WHERE subject_id = $1 AND quota_type = $2 AND period_start = $3
	`
	var used int64
	err := s.pool.QueryRow(ctx, query, subjectID, string(t), periodStart.UTC()).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select usage: %w", err)
	}
	return used, nil
}

// Increment upserts the period row, adding the record's amount atomically.
func (s *UsageStore) Increment(ctx context.Context, rec quota.UsageRecord) error {
	if rec.Amount < 0 {
		return fmt.Errorf("negative usage increment %d", rec.Amount)
	}
	query := `
		INSERT INTO quota_usage (
			subject_id, quota_type, period_start, period_end,
			used_amount, last_resource_id, last_resource_type, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, quota_type, period_start) DO UPDATE
		SET used_amount = quota_usage.used_amount + EXCLUDED.used_amount,
		    last_resource_id = EXCLUDED.last_resource_id,
		    last_resource_type = EXCLUDED.last_resource_type,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		rec.SubjectID, string(rec.Type), rec.PeriodStart.UTC(),
		rec.PeriodEnd.UTC(), rec.Amount, rec.ResourceID, rec.ResourceType,
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

// PeriodUsage returns every dimension's used amount for one subject/period.
func (s *UsageStore) PeriodUsage(ctx context.Context, subjectID string, periodStart time.Time) (map[pipeline.QuotaType]int64, error) {
	query := `
		SELECT quota_type, used_amount FROM quota_usage
		WHERE subject_id = $1 AND period_start = $2
	`
	rows, err := s.pool.Query(ctx, query, subjectID, periodStart.UTC())
	if err != nil {
		return nil, fmt.Errorf("select period usage: %w", err)
	}
	defer rows.Close()

	out := make(map[pipeline.QuotaType]int64)
	for rows.Next() {
		var (
			quotaType string
			used      int64
		)
		if err := rows.Scan(&quotaType, &used); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out[pipeline.QuotaType(quotaType)] = used
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return out, nil
}

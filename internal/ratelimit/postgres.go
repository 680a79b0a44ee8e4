package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	record := Record{Key: key}
	var blockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT count, window_start, blocked_until
		FROM rate_limits
		WHERE key = $1
	`, key).Scan(&record.Count, &record.WindowStart, &blockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query rate limit: %w", err)
	}

	record.WindowStart = record.WindowStart.UTC()
	if blockedUntil.Valid {
		value := blockedUntil.Time.UTC()
		record.BlockedUntil = &value
	}

	return &record, nil
}

func (s *PostgresStore) Start(ctx context.Context, key string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (key, count, window_start, blocked_until, updated_at)
		VALUES ($1, 1, $2, NULL, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = 1,
			window_start = EXCLUDED.window_start,
			blocked_until = NULL,
			updated_at = EXCLUDED.updated_at
	`, key, now.UTC())
	if err != nil {
		return fmt.Errorf("upsert rate limit window: %w", err)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (key, count, window_start, updated_at)
		VALUES ($1, 1, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET
			count = rate_limits.count + 1,
			updated_at = NOW()
		RETURNING count
	`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Block(ctx context.Context, key string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (key, count, window_start, blocked_until, updated_at)
		VALUES ($1, 0, NOW(), $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			blocked_until = EXCLUDED.blocked_until,
			updated_at = NOW()
	`, key, until.UTC())
	if err != nil {
		return fmt.Errorf("block rate limit: %w", err)
	}
	return nil
}

// DeleteStale removes keys that are neither blocked nor touched since cutoff.
func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT key
			FROM rate_limits
			WHERE updated_at < $1
			  AND (blocked_until IS NULL OR blocked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM rate_limits t
		USING stale
		WHERE t.key = stale.key
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rate limits rows affected: %w", err)
	}
	return affected, nil
}

package otp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SaveOTP(ctx context.Context, record Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otps (email, product_id, code, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (email, product_id) DO UPDATE SET
			code = EXCLUDED.code,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			used = FALSE
	`, record.Email, record.ProductID, record.Code, record.CreatedAt.UTC(), record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOTP(ctx context.Context, email, productID string) (*Record, error) {
	var record Record
	err := r.db.QueryRowContext(ctx, `
		SELECT email, product_id, code, created_at, expires_at, used
		FROM otps
		WHERE email = $1 AND product_id = $2
	`, email, productID).Scan(&record.Email, &record.ProductID, &record.Code, &record.CreatedAt, &record.ExpiresAt, &record.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query otp: %w", err)
	}

	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}

func (r *PostgresRepository) ConsumeOTP(ctx context.Context, email, productID, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otps
		SET used = TRUE
		WHERE email = $1 AND product_id = $2 AND code = $3 AND used = FALSE
	`, email, productID, code)
	if err != nil {
		return false, fmt.Errorf("mark otp used: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark otp used rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresRepository) GetAttempt(ctx context.Context, email, productID string) (*Attempt, error) {
	attempt := Attempt{Email: email, ProductID: productID}
	var lockedUntil sql.NullTime
	var ip sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT attempts, last_attempt_at, locked_until, ip_address
		FROM otp_attempts
		WHERE email = $1 AND product_id = $2
	`, email, productID).Scan(&attempt.Attempts, &attempt.LastAttemptAt, &lockedUntil, &ip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query otp attempt: %w", err)
	}

	attempt.LastAttemptAt = attempt.LastAttemptAt.UTC()
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}
	attempt.IPAddress = ip.String
	return &attempt, nil
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, email, productID, ip string, now time.Time, maxAttempts int, lockout time.Duration) (Attempt, error) {
	attempt := Attempt{Email: email, ProductID: productID}
	var lockedUntil sql.NullTime
	var storedIP sql.NullString
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_attempts (email, product_id, attempts, last_attempt_at, locked_until, ip_address)
		VALUES ($1, $2, 1, $3, CASE WHEN 1 >= $4::int THEN $5::timestamptz ELSE NULL END, NULLIF($6, ''))
		ON CONFLICT (email, product_id) DO UPDATE SET
			attempts = otp_attempts.attempts + 1,
			last_attempt_at = EXCLUDED.last_attempt_at,
			locked_until = CASE
				WHEN otp_attempts.attempts + 1 >= $4::int THEN $5::timestamptz
				ELSE otp_attempts.locked_until
			END,
			ip_address = COALESCE(EXCLUDED.ip_address, otp_attempts.ip_address)
		RETURNING attempts, last_attempt_at, locked_until, ip_address
	`, email, productID, now.UTC(), maxAttempts, now.UTC().Add(lockout), ip).
		Scan(&attempt.Attempts, &attempt.LastAttemptAt, &lockedUntil, &storedIP)
	if err != nil {
		return Attempt{}, fmt.Errorf("upsert otp attempt: %w", err)
	}

	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}
	attempt.IPAddress = storedIP.String
	return attempt, nil
}

func (r *PostgresRepository) ResetAttempts(ctx context.Context, email, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_attempts
		WHERE email = $1 AND product_id = $2
	`, email, productID)
	if err != nil {
		return fmt.Errorf("delete otp attempts: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ClearLock(ctx context.Context, email, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_attempts
		SET attempts = 0, locked_until = NULL
		WHERE email = $1 AND product_id = $2
	`, email, productID)
	if err != nil {
		return fmt.Errorf("clear otp lock: %w", err)
	}
	return nil
}

// DeleteExpired removes codes that expired before cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email, product_id
			FROM otps
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM otps t
		USING stale
		WHERE t.email = stale.email AND t.product_id = stale.product_id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired otps rows affected: %w", err)
	}
	return affected, nil
}

// DeleteStaleAttempts removes unlocked attempt rows idle since cutoff.
func (r *PostgresRepository) DeleteStaleAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email, product_id
			FROM otp_attempts
			WHERE last_attempt_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY last_attempt_at ASC
			LIMIT $2
		)
		DELETE FROM otp_attempts t
		USING stale
		WHERE t.email = stale.email AND t.product_id = stale.product_id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale otp attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale otp attempts rows affected: %w", err)
	}
	return affected, nil
}

package staff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation     = "23505"
	emailConstraint     = "staff_users_email_key"
	refCodeConstraint   = "staff_users_ref_code_key"
	defaultCleanupBatch = 500
)

const staffUserColumns = `id, email, password_hash, ref_code, role, ref_percent, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	var role string
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.RefCode, &role, &user.RefPercent, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = Role(role)
	return &user, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+staffUserColumns+`
		FROM staff_users
		WHERE email = $1
	`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query staff user by email: %w", err)
	}
	return user, nil
}

func (r *Repository) GetByRefCode(ctx context.Context, refCode string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+staffUserColumns+`
		FROM staff_users
		WHERE ref_code = $1
		LIMIT 1
	`, refCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query staff user by ref code: %w", err)
	}
	return user, nil
}

func (r *Repository) Create(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO staff_users (`+staffUserColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.PasswordHash, user.RefCode, string(user.Role), user.RefPercent, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case emailConstraint:
				return ErrDuplicateEmail
			case refCodeConstraint:
				return ErrRefCodeInUse
			}
		}
		return fmt.Errorf("insert staff user: %w", err)
	}
	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error) {
	attempt := LoginAttempt{Email: email}

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM staff_login_attempts
		WHERE email = $1
	`, email).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query staff login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

// RegisterFailedAttempt counts a failure under a row lock and returns the lock
// expiry once maxAttempts is reached. The counter restarts after locking.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin staff login attempt tx: %w", err)
	}
	defer tx.Rollback()

	// Ensure a row exists so FOR UPDATE serializes concurrent first failures too.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO staff_login_attempts (email, failed_attempts, locked_until, updated_at)
		VALUES ($1, 0, NULL, $2)
		ON CONFLICT (email) DO NOTHING
	`, email, now.UTC()); err != nil {
		return nil, fmt.Errorf("seed staff login attempt: %w", err)
	}

	var failed int
	var lockedUntil sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM staff_login_attempts
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&failed, &lockedUntil); err != nil {
		return nil, fmt.Errorf("lock staff login attempt row: %w", err)
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		failed = 0
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE staff_login_attempts
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE email = $1
	`, email, failed, nextLock, now.UTC()); err != nil {
		return nil, fmt.Errorf("update staff login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit staff login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM staff_login_attempts
		WHERE email = $1
	`, email); err != nil {
		return fmt.Errorf("reset staff login attempts: %w", err)
	}
	return nil
}

// DeleteStaleLoginAttempts removes unlocked attempt rows untouched since cutoff.
func (r *Repository) DeleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM staff_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM staff_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale staff login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale staff login attempts rows affected: %w", err)
	}
	return affected, nil
}

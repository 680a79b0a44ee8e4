package paycode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const payCodeColumns = `code, email, product_id, amount, metadata, ref_code, used, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayCode(row rowScanner) (PayCode, error) {
	var p PayCode
	var refCode sql.NullString
	if err := row.Scan(&p.Key, &p.Email, &p.ProductID, &p.Amount, &p.Metadata, &refCode, &p.Used, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return PayCode{}, err
	}
	if refCode.Valid {
		p.RefCode = &refCode.String
	}
	return p, nil
}

func (r *Repository) Create(ctx context.Context, p PayCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pay_codes (`+payCodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.Key, p.Email, p.ProductID, p.Amount, p.Metadata, p.RefCode, p.Used, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert pay code: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, key string) (*PayCode, error) {
	p, err := scanPayCode(r.db.QueryRowContext(ctx, `
		SELECT `+payCodeColumns+`
		FROM pay_codes
		WHERE code = $1
	`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query pay code: %w", err)
	}
	return &p, nil
}

// MarkUsed flips used to true only if it is still false. It reports whether
// this call performed the transition.
func (r *Repository) MarkUsed(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pay_codes
		SET used = TRUE, updated_at = $2
		WHERE code = $1 AND used = FALSE
	`, key, now.UTC())
	if err != nil {
		return false, fmt.Errorf("mark pay code used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pay code used rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListByRange returns codes created in [from, to), oldest first.
func (r *Repository) ListByRange(ctx context.Context, from, to time.Time) ([]PayCode, error) {
	return r.list(ctx, `
		SELECT `+payCodeColumns+`
		FROM pay_codes
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from.UTC(), to.UTC())
}

func (r *Repository) ListByRefCodeAndRange(ctx context.Context, refCode string, from, to time.Time) ([]PayCode, error) {
	return r.list(ctx, `
		SELECT `+payCodeColumns+`
		FROM pay_codes
		WHERE ref_code = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`, refCode, from.UTC(), to.UTC())
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]PayCode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pay codes: %w", err)
	}
	defer rows.Close()

	codes := make([]PayCode, 0)
	for rows.Next() {
		p, err := scanPayCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pay code: %w", err)
		}
		codes = append(codes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pay codes: %w", err)
	}
	return codes, nil
}

package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type Repository interface {
	Get(ctx context.Context, email string) (*User, error)
	// Create inserts user unless the email already exists; created is false in that case.
	Create(ctx context.Context, user User) (created bool, err error)
	// AddProduct appends productID to the user's set when not already present.
	AddProduct(ctx context.Context, email, productID string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, email string) (*User, error) {
	var user User
	var status string
	// pgtype.Map caches scan plans and is not safe for concurrent use.
	types := pgtype.NewMap()
	err := r.db.QueryRowContext(ctx, `
		SELECT email, code, products, status, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.Email, &user.Code, types.SQLScanner(&user.Products), &status, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	user.Status = Status(status)
	return &user, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user User) (bool, error) {
	now := time.Now().UTC()
	if user.Status == "" {
		user.Status = StatusActive
	}
	if user.Products == nil {
		user.Products = []string{}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (email, code, products, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO NOTHING
	`, user.Email, user.Code, user.Products, string(user.Status), now)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresRepository) AddProduct(ctx context.Context, email, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET products = array_append(products, $2::text), updated_at = $3
		WHERE email = $1 AND NOT ($2::text = ANY(products))
	`, email, productID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add product to user: %w", err)
	}
	return nil
}

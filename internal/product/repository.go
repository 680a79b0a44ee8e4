package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const productColumns = `id, name, description, price, asset_key, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.AssetKey, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active OR NOT $1
		ORDER BY created_at DESC
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// Get returns nil when no product has the id.
func (r *Repository) Get(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (r *Repository) Create(ctx context.Context, input ProductInput) (Product, error) {
	id := input.ID
	if id == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return Product{}, fmt.Errorf("generate uuid v7: %w", err)
		}
		id = generated.String()
	}

	now := time.Now().UTC()
	p := Product{
		ID:          id,
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		AssetKey:    input.AssetKey,
		Active:      input.Active == nil || *input.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Name, p.Description, p.Price, p.AssetKey, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Product{}, ErrDuplicateID
		}
		return Product{}, fmt.Errorf("insert product: %w", err)
	}

	return p, nil
}

func (r *Repository) Update(ctx context.Context, id string, input ProductInput) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, asset_key = $5,
			active = COALESCE($6, active), updated_at = $7
		WHERE id = $1
		RETURNING `+productColumns+`
	`, id, input.Name, input.Description, input.Price, input.AssetKey, input.Active, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}

	return p, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

package product

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	AssetKey    string          `json:"assetKey"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type ProductInput struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	AssetKey    string          `json:"assetKey"`
	Active      *bool           `json:"active"`
}

var (
	ErrNotFound    = errors.New("product not found")
	ErrDuplicateID = errors.New("product id already exists")
)

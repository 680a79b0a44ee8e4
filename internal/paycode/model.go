package paycode

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PayCode struct {
	Key       string          `json:"code"`
	Email     string          `json:"email"`
	ProductID string          `json:"productId"`
	Amount    decimal.Decimal `json:"amount"`
	Metadata  string          `json:"metadata"`
	RefCode   *string         `json:"refCode"`
	Used      bool            `json:"used"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type CreateInput struct {
	Email     string
	ProductID string
	RefCode   string
	Metadata  string
}

// Issued is a stored pay code together with the code the buyer quotes in the transfer.
type Issued struct {
	Code    string
	PayCode PayCode
}

var (
	ErrInvalidFormat  = errors.New("Invalid payment code format")
	ErrNotFound       = errors.New("Payment code not found")
	ErrAlreadyUsed    = errors.New("Payment code has already been used")
	ErrUnknownProduct = errors.New("Invalid productId")
	ErrDuplicateKey   = errors.New("pay code key already exists")
)

// ErrAmountMismatch reports a transfer smaller than the amount due.
type ErrAmountMismatch struct {
	Expected decimal.Decimal
	Received decimal.Decimal
}

func (e ErrAmountMismatch) Error() string {
	return fmt.Sprintf("Transfer amount does not match expected amount: expected %s, received %s", e.Expected, e.Received)
}

// Package entitlement records which products an email may download and runs
// the grant workflow used by admin imports and confirmed payments.
package entitlement

import (
	"errors"
	"slices"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type User struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Products  []string  `json:"products"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Entitled reports whether the user may download productID.
func (u *User) Entitled(productID string) bool {
	return u != nil && u.Status == StatusActive && slices.Contains(u.Products, productID)
}

type GrantStatus string

const (
	GrantCreated GrantStatus = "created"
	GrantUpdated GrantStatus = "updated"
)

type GrantResult struct {
	Email   string      `json:"email"`
	Code    string      `json:"code,omitempty"`
	Status  GrantStatus `json:"status"`
	Message string      `json:"message"`
}

var ErrUnknownProduct = errors.New("Invalid productId")

// Package staff manages internal users (admins and referral collaborators):
// account creation, password authentication with lockout and access tokens.
package staff

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleCollaborators Role = "collaborators"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCollaborators
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	RefCode      string
	Role         Role
	RefPercent   decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}

type CreateInput struct {
	Email      string
	Password   string
	RefCode    string
	Role       Role
	RefPercent decimal.Decimal
}

var (
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrDuplicateEmail     = errors.New("internal user already exists")
	ErrRefCodeInUse       = errors.New("refCode is already in use")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

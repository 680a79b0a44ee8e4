// Package otp issues and validates the email one-time codes that authorise a
// single protected download. Codes are scoped to an (email, product) pair and
// carry their own failed-attempt lockout, independent of request rate limits.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"time"
)

const CodeDigits = 6

var codeRegex = regexp.MustCompile(`^\d{6}$`)

type Config struct {
	TTL             time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
}

var DefaultConfig = Config{
	TTL:             10 * time.Minute,
	MaxAttempts:     5,
	LockoutDuration: 15 * time.Minute,
}

func (c Config) normalized() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultConfig.TTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultConfig.LockoutDuration
	}
	return c
}

type Record struct {
	Email     string
	ProductID string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

type Attempt struct {
	Email         string
	ProductID     string
	Attempts      int
	LastAttemptAt time.Time
	LockedUntil   *time.Time
	IPAddress     string
}

var (
	ErrNotFound        = errors.New("OTP not found or expired")
	ErrAlreadyUsed     = errors.New("OTP has already been used")
	ErrExpired         = errors.New("OTP has expired")
	ErrProductMismatch = errors.New("Product ID mismatch")
	ErrInvalidCode     = errors.New("Invalid OTP")
)

// ErrLocked is returned while the pair is locked out after too many failures.
type ErrLocked struct {
	Until     time.Time
	Remaining time.Duration
}

func (e ErrLocked) Error() string {
	return fmt.Sprintf("Too many failed attempts. Please try again in %d minute(s) or request a new OTP.", e.RemainingMinutes())
}

func (e ErrLocked) RemainingMinutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

// IsRejection reports whether err is one of the validation outcomes (as opposed to a storage failure).
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrProductMismatch) ||
		errors.Is(err, ErrInvalidCode)
}

func IsValidCode(code string) bool {
	return codeRegex.MatchString(code)
}

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(CodeDigits), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

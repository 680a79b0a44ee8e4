package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"
)

type Repository interface {
	// SaveOTP overwrites any existing record for the pair.
	SaveOTP(ctx context.Context, record Record) error
	GetOTP(ctx context.Context, email, productID string) (*Record, error)
	// ConsumeOTP marks the record used only if it is unused and carries code.
	ConsumeOTP(ctx context.Context, email, productID, code string) (bool, error)

	GetAttempt(ctx context.Context, email, productID string) (*Attempt, error)
	// RecordFailure atomically increments the counter, locking the pair once it reaches maxAttempts.
	RecordFailure(ctx context.Context, email, productID, ip string, now time.Time, maxAttempts int, lockout time.Duration) (Attempt, error)
	ResetAttempts(ctx context.Context, email, productID string) error
	ClearLock(ctx context.Context, email, productID string) error
}

type Engine struct {
	repo     Repository
	cfg      Config
	now      func() time.Time
	generate func() (string, error)
}

func NewEngine(repo Repository, cfg Config) *Engine {
	return &Engine{
		repo:     repo,
		cfg:      cfg.normalized(),
		now:      func() time.Time { return time.Now().UTC() },
		generate: GenerateCode,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Issue forgives earlier failures for the pair and stores a fresh code,
// replacing whatever code was live before.
func (e *Engine) Issue(ctx context.Context, email, productID string) (Record, error) {
	if err := e.repo.ResetAttempts(ctx, email, productID); err != nil {
		return Record{}, fmt.Errorf("reset otp attempts: %w", err)
	}

	code, err := e.generate()
	if err != nil {
		return Record{}, err
	}

	now := e.now()
	record := Record{
		Email:     email,
		ProductID: productID,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.TTL),
		Used:      false,
	}
	if err := e.repo.SaveOTP(ctx, record); err != nil {
		return Record{}, fmt.Errorf("store otp: %w", err)
	}

	return record, nil
}

// Validate checks code against the live record for the pair. Rejections are
// returned as the package's sentinel errors or ErrLocked; any other error is a
// storage failure.
func (e *Engine) Validate(ctx context.Context, email, code, productID, sourceIP string) (Record, error) {
	now := e.now()

	attempt, err := e.repo.GetAttempt(ctx, email, productID)
	if err != nil {
		return Record{}, fmt.Errorf("load otp attempts: %w", err)
	}
	if attempt != nil && attempt.LockedUntil != nil {
		if now.Before(*attempt.LockedUntil) {
			return Record{}, ErrLocked{Until: *attempt.LockedUntil, Remaining: attempt.LockedUntil.Sub(now)}
		}
		if err := e.repo.ClearLock(ctx, email, productID); err != nil {
			return Record{}, fmt.Errorf("clear expired otp lock: %w", err)
		}
	}

	record, err := e.repo.GetOTP(ctx, email, productID)
	if err != nil {
		return Record{}, fmt.Errorf("load otp: %w", err)
	}

	switch {
	case record == nil:
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrNotFound)
	case record.Used:
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrAlreadyUsed)
	case now.After(record.ExpiresAt):
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrExpired)
	case record.ProductID != productID:
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrProductMismatch)
	case subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) != 1:
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrInvalidCode)
	}

	consumed, err := e.repo.ConsumeOTP(ctx, email, productID, code)
	if err != nil {
		return Record{}, fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		// A concurrent validation consumed the code between our read and this write.
		return Record{}, e.reject(ctx, email, productID, sourceIP, now, ErrAlreadyUsed)
	}

	if err := e.repo.ResetAttempts(ctx, email, productID); err != nil {
		return Record{}, fmt.Errorf("reset otp attempts: %w", err)
	}

	record.Used = true
	return *record, nil
}

func (e *Engine) reject(ctx context.Context, email, productID, sourceIP string, now time.Time, reason error) error {
	if _, err := e.repo.RecordFailure(ctx, email, productID, sourceIP, now, e.cfg.MaxAttempts, e.cfg.LockoutDuration); err != nil {
		return fmt.Errorf("record otp failure: %w", err)
	}
	return reason
}

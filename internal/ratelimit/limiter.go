// Package ratelimit implements a fixed-window request counter with a lockout
// period, keyed by an arbitrary string (client IP, "email_"+address, or an
// action+IP composite). Counters live in a shared Store so every worker sees
// the same window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Policy struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

var DefaultPolicy = Policy{
	MaxRequests:   10,
	Window:        15 * time.Minute,
	BlockDuration: 30 * time.Minute,
}

func (p Policy) normalized() Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultPolicy.MaxRequests
	}
	if p.Window <= 0 {
		p.Window = DefaultPolicy.Window
	}
	if p.BlockDuration <= 0 {
		p.BlockDuration = DefaultPolicy.BlockDuration
	}
	return p
}

// Record is the stored state of one key. A nil *Record means the key is fresh.
type Record struct {
	Key          string
	Count        int
	WindowStart  time.Time
	BlockedUntil *time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Start overwrites the key with count=1 and a window opening at now, clearing any block.
	Start(ctx context.Context, key string, now time.Time) error
	// Increment atomically adds one to the count and returns the new value.
	Increment(ctx context.Context, key string) (int, error)
	Block(ctx context.Context, key string, until time.Time) error
}

// Decision is the outcome of Check. RetryAfter is zero when Allowed.
type Decision struct {
	Allowed    bool
	Message    string
	RetryAfter time.Duration
}

// ErrLimited is returned by Allow when the key is over its limit.
type ErrLimited struct {
	Message    string
	RetryAfter time.Duration
}

func (e ErrLimited) Error() string {
	return e.Message
}

type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	now := l.now()

	record, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("load rate limit %q: %w", key, err)
	}

	if record != nil && record.BlockedUntil != nil {
		if now.Before(*record.BlockedUntil) {
			remaining := record.BlockedUntil.Sub(now)
			minutes := ceilMinutes(remaining)
			return Decision{
				Allowed:    false,
				Message:    fmt.Sprintf("Rate limit exceeded. Please try again in %d minute(s).", minutes),
				RetryAfter: time.Duration(minutes) * time.Minute,
			}, nil
		}
		// Stale block: the next request opens a fresh window.
		record = nil
	}

	if record == nil || !now.Before(record.WindowStart.Add(policy.Window)) {
		if err := l.store.Start(ctx, key, now); err != nil {
			return Decision{}, fmt.Errorf("start rate limit window %q: %w", key, err)
		}
		return Decision{Allowed: true}, nil
	}

	if record.Count < policy.MaxRequests {
		count, err := l.store.Increment(ctx, key)
		if err != nil {
			return Decision{}, fmt.Errorf("increment rate limit %q: %w", key, err)
		}
		if count <= policy.MaxRequests {
			return Decision{Allowed: true}, nil
		}
		// Lost a race with concurrent requests on the same key; this one is over the limit.
	}

	if err := l.store.Block(ctx, key, now.Add(policy.BlockDuration)); err != nil {
		return Decision{}, fmt.Errorf("block rate limit %q: %w", key, err)
	}

	return Decision{
		Allowed:    false,
		Message:    fmt.Sprintf("Rate limit exceeded. Too many requests. Please try again in %d minutes.", ceilMinutes(policy.BlockDuration)),
		RetryAfter: policy.BlockDuration,
	}, nil
}

// Allow is Check folded into a single error: nil when allowed, ErrLimited when not.
func (l *Limiter) Allow(ctx context.Context, key string, policy Policy) error {
	decision, err := l.Check(ctx, key, policy)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return ErrLimited{Message: decision.Message, RetryAfter: decision.RetryAfter}
	}
	return nil
}

func ceilMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}

// EmailKey scopes a limit to one recipient address. IP limits use the bare address as key.
func EmailKey(email string) string {
	return "email_" + email
}

// ActionKey scopes a limit to one named action from one address.
func ActionKey(action, ip string) string {
	return action + "_" + ip
}

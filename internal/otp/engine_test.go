package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type pairKey struct {
	email     string
	productID string
}

type fakeRepository struct {
	mu       sync.Mutex
	otps     map[pairKey]Record
	attempts map[pairKey]Attempt
	// consumeFails forces ConsumeOTP to report a lost race.
	consumeFails bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		otps:     make(map[pairKey]Record),
		attempts: make(map[pairKey]Attempt),
	}
}

func (f *fakeRepository) SaveOTP(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps[pairKey{record.Email, record.ProductID}] = record
	return nil
}

func (f *fakeRepository) GetOTP(_ context.Context, email, productID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.otps[pairKey{email, productID}]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *fakeRepository) ConsumeOTP(_ context.Context, email, productID, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeFails {
		return false, nil
	}
	key := pairKey{email, productID}
	record, ok := f.otps[key]
	if !ok || record.Used || record.Code != code {
		return false, nil
	}
	record.Used = true
	f.otps[key] = record
	return true, nil
}

func (f *fakeRepository) GetAttempt(_ context.Context, email, productID string) (*Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[pairKey{email, productID}]
	if !ok {
		return nil, nil
	}
	return &attempt, nil
}

func (f *fakeRepository) RecordFailure(_ context.Context, email, productID, ip string, now time.Time, maxAttempts int, lockout time.Duration) (Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey{email, productID}
	attempt := f.attempts[key]
	attempt.Email = email
	attempt.ProductID = productID
	attempt.Attempts++
	attempt.LastAttemptAt = now
	if ip != "" {
		attempt.IPAddress = ip
	}
	if attempt.Attempts >= maxAttempts {
		until := now.Add(lockout)
		attempt.LockedUntil = &until
	}
	f.attempts[key] = attempt
	return attempt, nil
}

func (f *fakeRepository) ResetAttempts(_ context.Context, email, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attempts, pairKey{email, productID})
	return nil
}

func (f *fakeRepository) ClearLock(_ context.Context, email, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey{email, productID}
	attempt, ok := f.attempts[key]
	if !ok {
		return nil
	}
	attempt.Attempts = 0
	attempt.LockedUntil = nil
	f.attempts[key] = attempt
	return nil
}

func (f *fakeRepository) attemptCount(email, productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[pairKey{email, productID}].Attempts
}

type sequenceGenerator struct {
	codes []string
	next  int
}

func (g *sequenceGenerator) Generate() (string, error) {
	code := g.codes[g.next%len(g.codes)]
	g.next++
	return code, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(codes ...string) (*Engine, *fakeRepository, *testClock) {
	repo := newFakeRepository()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	engine := NewEngine(repo, Config{})
	engine.now = clock.Now
	if len(codes) > 0 {
		gen := &sequenceGenerator{codes: codes}
		engine.generate = gen.Generate
	}
	return engine, repo, clock
}

const (
	testEmail   = "a@x.com"
	testProduct = "prod-1"
	testIP      = "9.9.9.9"
)

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !IsValidCode(code) {
			t.Fatalf("code %q is not six digits", code)
		}
	}
}

func TestIsValidCode(t *testing.T) {
	cases := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
	}
	for code, want := range cases {
		if got := IsValidCode(code); got != want {
			t.Errorf("IsValidCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestIssueStoresCodeWithTTL(t *testing.T) {
	engine, repo, clock := newTestEngine("482913")

	record, err := engine.Issue(context.Background(), testEmail, testProduct)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if record.Code != "482913" {
		t.Fatalf("code = %q", record.Code)
	}
	if !record.ExpiresAt.Equal(clock.now.Add(10 * time.Minute)) {
		t.Fatalf("expires at = %s", record.ExpiresAt)
	}

	stored, _ := repo.GetOTP(context.Background(), testEmail, testProduct)
	if stored == nil || stored.Used || stored.Code != "482913" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestValidateConsumesOnce(t *testing.T) {
	engine, repo, _ := newTestEngine("482913")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}

	record, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	if err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if !record.Used {
		t.Fatal("returned record should be marked used")
	}
	if repo.attemptCount(testEmail, testProduct) != 0 {
		t.Fatal("success must clear attempts")
	}

	_, err = engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	if !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second validate err = %v, want ErrAlreadyUsed", err)
	}
}

func TestValidateOnlyLatestCodeIsLive(t *testing.T) {
	engine, _, _ := newTestEngine("111111", "222222")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Validate(ctx, testEmail, "111111", testProduct, testIP); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("superseded code err = %v, want ErrInvalidCode", err)
	}
	if _, err := engine.Validate(ctx, testEmail, "222222", testProduct, testIP); err != nil {
		t.Fatalf("latest code rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Engine, *fakeRepository, *testClock)
		code    string
		product string
		want    error
	}{
		{
			name:    "no record",
			setup:   func(*Engine, *fakeRepository, *testClock) {},
			code:    "123456",
			product: testProduct,
			want:    ErrNotFound,
		},
		{
			name: "expired",
			setup: func(e *Engine, _ *fakeRepository, c *testClock) {
				_, _ = e.Issue(context.Background(), testEmail, testProduct)
				c.now = c.now.Add(10*time.Minute + time.Second)
			},
			code:    "482913",
			product: testProduct,
			want:    ErrExpired,
		},
		{
			name: "product mismatch",
			setup: func(_ *Engine, r *fakeRepository, c *testClock) {
				// Stored under the requested pair but carrying another product id.
				r.otps[pairKey{testEmail, testProduct}] = Record{
					Email: testEmail, ProductID: "other", Code: "482913",
					CreatedAt: c.now, ExpiresAt: c.now.Add(time.Minute),
				}
			},
			code:    "482913",
			product: testProduct,
			want:    ErrProductMismatch,
		},
		{
			name: "wrong code",
			setup: func(e *Engine, _ *fakeRepository, _ *testClock) {
				_, _ = e.Issue(context.Background(), testEmail, testProduct)
			},
			code:    "000000",
			product: testProduct,
			want:    ErrInvalidCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, repo, clock := newTestEngine("482913")
			tt.setup(engine, repo, clock)

			_, err := engine.Validate(context.Background(), testEmail, tt.code, tt.product, testIP)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsRejection(err) {
				t.Fatalf("IsRejection(%v) = false", err)
			}
			if repo.attemptCount(testEmail, testProduct) != 1 {
				t.Fatalf("attempts = %d, want 1", repo.attemptCount(testEmail, testProduct))
			}
		})
	}
}

func TestValidateExpiryBoundaryIsInclusive(t *testing.T) {
	engine, _, clock := newTestEngine("482913")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	clock.now = clock.now.Add(10 * time.Minute)

	if _, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP); err != nil {
		t.Fatalf("validate at exact expiry: %v", err)
	}
}

func TestValidateLocksAfterMaxFailures(t *testing.T) {
	engine, repo, clock := newTestEngine("482913")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		_, err := engine.Validate(ctx, testEmail, "000000", testProduct, testIP)
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("failure %d err = %v, want ErrInvalidCode", i, err)
		}
	}

	_, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	var locked ErrLocked
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want ErrLocked even for the right code", err)
	}
	if locked.RemainingMinutes() != 15 {
		t.Fatalf("remaining = %d minutes, want 15", locked.RemainingMinutes())
	}
	if !strings.Contains(locked.Error(), "15 minute(s)") {
		t.Fatalf("message = %q", locked.Error())
	}
	if repo.attemptCount(testEmail, testProduct) != 5 {
		t.Fatal("locked validation must not record another attempt")
	}

	clock.now = clock.now.Add(14*time.Minute + 30*time.Second)
	_, err = engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	if !errors.As(err, &locked) || locked.RemainingMinutes() != 1 {
		t.Fatalf("err = %v, want ErrLocked with 1 minute left", err)
	}
}

func TestValidateClearsExpiredLock(t *testing.T) {
	engine, repo, clock := newTestEngine("482913", "777777")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, _ = engine.Validate(ctx, testEmail, "000000", testProduct, testIP)
	}

	clock.now = clock.now.Add(16 * time.Minute)
	_, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired once the lock has passed", err)
	}
	if got := repo.attemptCount(testEmail, testProduct); got != 1 {
		t.Fatalf("attempts = %d, want counter restarted at 1", got)
	}
}

func TestIssueForgivesFailures(t *testing.T) {
	engine, repo, _ := newTestEngine("482913", "777777")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, _ = engine.Validate(ctx, testEmail, "000000", testProduct, testIP)
	}

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	if repo.attemptCount(testEmail, testProduct) != 0 {
		t.Fatal("issuing a new code must clear attempts")
	}
	if _, err := engine.Validate(ctx, testEmail, "777777", testProduct, testIP); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
}

func TestValidateLostConsumeRaceIsAlreadyUsed(t *testing.T) {
	engine, repo, _ := newTestEngine("482913")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	repo.consumeFails = true

	_, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP)
	if !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("err = %v, want ErrAlreadyUsed", err)
	}
}

func TestValidatePairsAreIndependent(t *testing.T) {
	engine, _, _ := newTestEngine("482913")
	ctx := context.Background()

	if _, err := engine.Issue(ctx, testEmail, testProduct); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Validate(ctx, testEmail, "482913", "prod-2", testIP); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for another product", err)
	}
	if _, err := engine.Validate(ctx, testEmail, "482913", testProduct, testIP); err != nil {
		t.Fatalf("original pair rejected: %v", err)
	}
}

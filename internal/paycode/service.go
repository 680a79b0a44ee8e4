package paycode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"access-serverless/internal/entitlement"
	"access-serverless/internal/observability"
	"access-serverless/internal/product"
	"access-serverless/internal/staff"
)

const maxGenerateAttempts = 3

var (
	monthRegex = regexp.MustCompile(`^(\d{2})-(\d{2})$`)

	ErrMonthFormat = errors.New("Invalid month format. Expected format: YY-MM (e.g., 24-12)")
	ErrMonthRange  = errors.New("Invalid month. Month must be between 01 and 12")
)

type Store interface {
	Create(ctx context.Context, p PayCode) error
	Get(ctx context.Context, key string) (*PayCode, error)
	MarkUsed(ctx context.Context, key string, now time.Time) (bool, error)
	ListByRange(ctx context.Context, from, to time.Time) ([]PayCode, error)
	ListByRefCodeAndRange(ctx context.Context, refCode string, from, to time.Time) ([]PayCode, error)
}

type ProductLookup interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

type Granter interface {
	Grant(ctx context.Context, email, productID string) (entitlement.GrantResult, error)
}

type Service struct {
	store    Store
	products ProductLookup
	granter  Granter
	format   Format
	logger   *observability.Logger
	now      func() time.Time
}

func NewService(store Store, products ProductLookup, granter Granter, format Format, logger *observability.Logger) *Service {
	return &Service{
		store:    store,
		products: products,
		granter:  granter,
		format:   format,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Format() Format {
	return s.format
}

// Create stores a pending code for input.ProductID priced from the catalog.
func (s *Service) Create(ctx context.Context, input CreateInput) (Issued, error) {
	p, err := s.products.Get(ctx, input.ProductID)
	if err != nil {
		return Issued{}, fmt.Errorf("load product: %w", err)
	}
	if p == nil || !p.Active {
		return Issued{}, ErrUnknownProduct
	}

	now := s.now()
	code := PayCode{
		Email:     strings.ToLower(input.Email),
		ProductID: p.ID,
		Amount:    p.Price,
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ref := staff.NormalizeRefCode(input.RefCode); ref != "" {
		code.RefCode = &ref
	}

	for attempt := 1; ; attempt++ {
		key, err := s.format.Generate(now)
		if err != nil {
			return Issued{}, fmt.Errorf("generate pay code: %w", err)
		}
		code.Key = key

		err = s.store.Create(ctx, code)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateKey) || attempt == maxGenerateAttempts {
			return Issued{}, err
		}
	}

	s.logger.Info("pay_code_created", map[string]any{
		"code":       code.Key,
		"email":      code.Email,
		"product_id": code.ProductID,
		"amount":     code.Amount.String(),
	})

	return Issued{Code: s.format.Code(code.Key), PayCode: code}, nil
}

// Lookup resolves a customer-facing code to its stored record.
func (s *Service) Lookup(ctx context.Context, code string) (PayCode, error) {
	key, ok := s.format.Key(code)
	if !ok {
		return PayCode{}, ErrInvalidFormat
	}
	p, err := s.store.Get(ctx, key)
	if err != nil {
		return PayCode{}, err
	}
	if p == nil {
		return PayCode{}, ErrNotFound
	}
	return *p, nil
}

// Verify settles code against a confirmed transfer. Access is granted before
// the code is consumed; a concurrent settlement loses at the consume step.
func (s *Service) Verify(ctx context.Context, code string, received decimal.Decimal) (PayCode, error) {
	p, err := s.Lookup(ctx, code)
	if err != nil {
		return PayCode{}, err
	}
	if p.Used {
		return PayCode{}, ErrAlreadyUsed
	}
	if received.LessThan(p.Amount) {
		return PayCode{}, ErrAmountMismatch{Expected: p.Amount, Received: received}
	}

	result, err := s.granter.Grant(ctx, p.Email, p.ProductID)
	if err != nil {
		return PayCode{}, fmt.Errorf("grant access: %w", err)
	}

	consumed, err := s.store.MarkUsed(ctx, p.Key, s.now())
	if err != nil {
		return PayCode{}, err
	}
	if !consumed {
		return PayCode{}, ErrAlreadyUsed
	}

	s.logger.Info("pay_code_verified", map[string]any{
		"code":         p.Key,
		"email":        p.Email,
		"product_id":   p.ProductID,
		"grant_status": string(result.Status),
	})

	p.Used = true
	return p, nil
}

// MonthRange returns the half-open interval covering month ("YY-MM") in loc.
func MonthRange(month string, loc *time.Location) (time.Time, time.Time, error) {
	match := monthRegex.FindStringSubmatch(month)
	if match == nil {
		return time.Time{}, time.Time{}, ErrMonthFormat
	}
	yy, _ := strconv.Atoi(match[1])
	mm, _ := strconv.Atoi(match[2])
	if mm < 1 || mm > 12 {
		return time.Time{}, time.Time{}, ErrMonthRange
	}
	if loc == nil {
		loc = time.UTC
	}

	start := time.Date(2000+yy, time.Month(mm), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0), nil
}

// Report lists the codes created in [from, to) visible to user: every code
// for admins, only their own referral code for collaborators.
func (s *Service) Report(ctx context.Context, user staff.User, from, to time.Time) ([]PayCode, error) {
	switch user.Role {
	case staff.RoleAdmin:
		return s.store.ListByRange(ctx, from, to)
	case staff.RoleCollaborators:
		if user.RefCode == "" {
			return []PayCode{}, nil
		}
		return s.store.ListByRefCodeAndRange(ctx, user.RefCode, from, to)
	default:
		return []PayCode{}, nil
	}
}

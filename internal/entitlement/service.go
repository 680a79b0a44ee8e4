package entitlement

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"access-serverless/internal/mail"
	"access-serverless/internal/observability"
	"access-serverless/internal/product"
)

const (
	userCodeLength   = 5
	userCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type ProductLookup interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

type Service struct {
	repo      Repository
	products  ProductLookup
	mailer    mail.Sender
	templates *mail.Templates
	logger    *observability.Logger
	newCode   func() (string, error)
}

func NewService(repo Repository, products ProductLookup, mailer mail.Sender, templates *mail.Templates, logger *observability.Logger) *Service {
	return &Service{
		repo:      repo,
		products:  products,
		mailer:    mailer,
		templates: templates,
		logger:    logger,
		newCode:   GenerateUserCode,
	}
}

// HasAccess reports whether email holds an active entitlement to productID.
func (s *Service) HasAccess(ctx context.Context, email, productID string) (bool, error) {
	user, err := s.repo.Get(ctx, email)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.Entitled(productID), nil
}

// HasAccessWithCode is HasAccess that additionally requires the user's legacy code to equal code.
func (s *Service) HasAccessWithCode(ctx context.Context, email, productID, code string) (bool, error) {
	user, err := s.repo.Get(ctx, email)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if !user.Entitled(productID) {
		return false, nil
	}
	return user.Code == code, nil
}

// Grant gives email access to productID, creating the user when absent. The
// welcome email is best effort: a send failure is logged and the grant stands.
func (s *Service) Grant(ctx context.Context, email, productID string) (GrantResult, error) {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return GrantResult{}, fmt.Errorf("load product: %w", err)
	}
	if p == nil {
		return GrantResult{}, ErrUnknownProduct
	}

	result, err := s.upsert(ctx, email, productID)
	if err != nil {
		return GrantResult{}, err
	}

	s.sendWelcome(ctx, email, p)

	s.logger.Info("entitlement_granted", map[string]any{
		"email":      email,
		"product_id": productID,
		"status":     string(result.Status),
	})
	return result, nil
}

func (s *Service) upsert(ctx context.Context, email, productID string) (GrantResult, error) {
	existing, err := s.repo.Get(ctx, email)
	if err != nil {
		return GrantResult{}, fmt.Errorf("load user: %w", err)
	}

	if existing == nil {
		code, err := s.newCode()
		if err != nil {
			return GrantResult{}, err
		}

		created, err := s.repo.Create(ctx, User{
			Email:    email,
			Code:     code,
			Products: []string{productID},
			Status:   StatusActive,
		})
		if err != nil {
			return GrantResult{}, err
		}
		if created {
			return GrantResult{
				Email:   email,
				Code:    code,
				Status:  GrantCreated,
				Message: "User created successfully",
			}, nil
		}
		// Lost a race with a concurrent grant; fall through and extend that record.
	}

	if err := s.repo.AddProduct(ctx, email, productID); err != nil {
		return GrantResult{}, err
	}

	return GrantResult{
		Email:   email,
		Status:  GrantUpdated,
		Message: "Product added to existing user",
	}, nil
}

func (s *Service) sendWelcome(ctx context.Context, email string, p *product.Product) {
	if s.mailer == nil || s.templates == nil {
		return
	}

	msg, err := s.templates.Welcome(email, p.ID, p.Name)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("welcome_email_failed", map[string]any{
			"email":      email,
			"product_id": p.ID,
			"error":      err,
		})
	}
}

// GenerateUserCode returns five random uppercase letters.
func GenerateUserCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(userCodeAlphabet)))
	code := make([]byte, userCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate user code: %w", err)
		}
		code[i] = userCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

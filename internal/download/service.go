// Package download runs the two-step protected download: an entitled buyer
// requests a one-time code by email, then trades it for the personalized asset.
package download

import (
	"context"
	"errors"
	"fmt"

	"access-serverless/internal/asset"
	"access-serverless/internal/mail"
	"access-serverless/internal/observability"
	"access-serverless/internal/otp"
	"access-serverless/internal/product"
	"access-serverless/internal/ratelimit"
)

const confirmAction = "confirm_download"

var (
	ErrAccessDenied   = errors.New("Invalid email, code, or you don't have access to this product")
	ErrUnknownProduct = errors.New("Invalid productId")
)

type Config struct {
	// IPPolicy limits request-download per client address.
	IPPolicy ratelimit.Policy
	// EmailPolicy limits request-download per recipient.
	EmailPolicy ratelimit.Policy
	// ConfirmPolicy limits confirm-download per client address.
	ConfirmPolicy ratelimit.Policy
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, policy ratelimit.Policy) error
}

type Entitlements interface {
	HasAccess(ctx context.Context, email, productID string) (bool, error)
	HasAccessWithCode(ctx context.Context, email, productID, code string) (bool, error)
}

type ProductLookup interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

type OTPEngine interface {
	Issue(ctx context.Context, email, productID string) (otp.Record, error)
	Validate(ctx context.Context, email, code, productID, sourceIP string) (otp.Record, error)
	Config() otp.Config
}

type Service struct {
	cfg          Config
	limiter      RateLimiter
	entitlements Entitlements
	products     ProductLookup
	engine       OTPEngine
	assets       asset.Store
	mailer       mail.Sender
	templates    *mail.Templates
	logger       *observability.Logger
}

type Deps struct {
	Limiter      RateLimiter
	Entitlements Entitlements
	Products     ProductLookup
	Engine       OTPEngine
	Assets       asset.Store
	Mailer       mail.Sender
	Templates    *mail.Templates
	Logger       *observability.Logger
}

func NewService(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:          cfg,
		limiter:      deps.Limiter,
		entitlements: deps.Entitlements,
		products:     deps.Products,
		engine:       deps.Engine,
		assets:       deps.Assets,
		mailer:       deps.Mailer,
		templates:    deps.Templates,
		logger:       deps.Logger,
	}
}

type RequestCommand struct {
	Email     string
	ProductID string
	// Code is the buyer's legacy access code. Empty skips the code check.
	Code string
	IP   string
}

type ConfirmCommand struct {
	Email     string
	ProductID string
	OTP       string
	IP        string
}

func (s *Service) product(ctx context.Context, id string) (*product.Product, error) {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if p == nil || !p.Active {
		return nil, ErrUnknownProduct
	}
	return p, nil
}

// Request issues and mails a fresh OTP. Rate limits are checked before
// entitlement so probing cannot enumerate who owns what. A failed send fails
// the call but leaves the stored code in place.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) error {
	if _, err := s.product(ctx, cmd.ProductID); err != nil {
		return err
	}

	if err := s.limiter.Allow(ctx, cmd.IP, s.cfg.IPPolicy); err != nil {
		return err
	}
	if err := s.limiter.Allow(ctx, ratelimit.EmailKey(cmd.Email), s.cfg.EmailPolicy); err != nil {
		return err
	}

	var entitled bool
	var err error
	if cmd.Code != "" {
		entitled, err = s.entitlements.HasAccessWithCode(ctx, cmd.Email, cmd.ProductID, cmd.Code)
	} else {
		entitled, err = s.entitlements.HasAccess(ctx, cmd.Email, cmd.ProductID)
	}
	if err != nil {
		return err
	}
	if !entitled {
		return ErrAccessDenied
	}

	record, err := s.engine.Issue(ctx, cmd.Email, cmd.ProductID)
	if err != nil {
		return err
	}

	msg, err := s.templates.OTP(cmd.Email, record.Code, s.engine.Config().TTL)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}

	s.logger.Info("otp_issued", map[string]any{
		"email":      cmd.Email,
		"product_id": cmd.ProductID,
		"expires_at": record.ExpiresAt,
	})
	return nil
}

// Confirm validates the OTP and releases the product asset personalized for
// the buyer. The code is consumed even if the asset turns out to be missing.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (asset.File, error) {
	p, err := s.product(ctx, cmd.ProductID)
	if err != nil {
		return asset.File{}, err
	}

	if err := s.limiter.Allow(ctx, ratelimit.ActionKey(confirmAction, cmd.IP), s.cfg.ConfirmPolicy); err != nil {
		return asset.File{}, err
	}

	if _, err := s.engine.Validate(ctx, cmd.Email, cmd.OTP, cmd.ProductID, cmd.IP); err != nil {
		if otp.IsRejection(err) {
			s.logger.Warn("otp_validation_failed", map[string]any{
				"email":      cmd.Email,
				"product_id": cmd.ProductID,
				"ip":         cmd.IP,
				"reason":     err.Error(),
			})
		}
		return asset.File{}, err
	}

	file, err := asset.Release(ctx, s.assets, p.AssetKey, cmd.Email)
	if err != nil {
		return asset.File{}, err
	}

	s.logger.Info("asset_released", map[string]any{
		"email":      cmd.Email,
		"product_id": cmd.ProductID,
		"file":       file.Name,
		"bytes":      len(file.Content),
	})
	return file, nil
}

package paycode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
	"access-serverless/internal/ratelimit"
	"access-serverless/internal/staff"
)

const (
	createAction = "create_pay_code"
	reportAction = "get_paycode_by_collaborators"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, policy ratelimit.Policy) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (staff.User, error)
}

type HandlerConfig struct {
	CreatePolicy ratelimit.Policy
	ReportPolicy ratelimit.Policy
	// ReportLocation is the zone in which report months start and end.
	ReportLocation *time.Location
}

type Handler struct {
	service *Service
	limiter RateLimiter
	staff   Authenticator
	cfg     HandlerConfig
	logger  *observability.Logger
}

func NewHandler(service *Service, limiter RateLimiter, staff Authenticator, cfg HandlerConfig, logger *observability.Logger) *Handler {
	if cfg.ReportLocation == nil {
		cfg.ReportLocation = time.UTC
	}
	return &Handler{service: service, limiter: limiter, staff: staff, cfg: cfg, logger: logger}
}

// allow applies policy to key and renders the 429 itself when the key is over.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string, policy ratelimit.Policy, operation string) bool {
	err := h.limiter.Allow(r.Context(), key, policy)
	if err == nil {
		return true
	}
	var limited ratelimit.ErrLimited
	if errors.As(err, &limited) {
		h.logger.Warn("rate_limited", map[string]any{"key": key, "operation": operation})
		httpx.WriteTooManyRequests(w, limited.RetryAfter, limited.Message)
		return false
	}
	httpx.WriteInternal(w, h.logger, operation, err)
	return false
}

type createRequest struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	RefCode   string `json:"refCode"`
	Metadata  string `json:"metadata"`
}

func parseCreate(w http.ResponseWriter, r *http.Request) (CreateInput, error) {
	var body createRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return CreateInput{}, err
	}
	if missing := httpx.RequiredStrings([2]string{"email", body.Email}, [2]string{"productId", body.ProductID}); len(missing) > 0 {
		return CreateInput{}, httpx.Missing(missing...)
	}
	email := strings.TrimSpace(body.Email)
	if !httpx.IsValidEmail(email) {
		return CreateInput{}, httpx.Invalid("Invalid email format")
	}
	return CreateInput{
		Email:     httpx.NormalizeEmail(email),
		ProductID: strings.TrimSpace(body.ProductID),
		RefCode:   body.RefCode,
		Metadata:  body.Metadata,
	}, nil
}

func (h *Handler) CreatePayCode(w http.ResponseWriter, r *http.Request) {
	input, err := parseCreate(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}
	if !h.allow(w, r, ratelimit.ActionKey(createAction, httpx.ClientIP(r)), h.cfg.CreatePolicy, createAction) {
		return
	}

	issued, err := h.service.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrUnknownProduct) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteInternal(w, h.logger, createAction, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"code":      issued.Code,
		"amount":    jsonNumber(issued.PayCode.Amount),
		"productId": issued.PayCode.ProductID,
	})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) CheckPayCode(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil || strings.TrimSpace(body.Code) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Missing or invalid payment code")
		return
	}

	p, err := h.service.Lookup(r.Context(), body.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidFormat):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			httpx.WriteJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"exists":  false,
				"message": err.Error(),
			})
		default:
			httpx.WriteInternal(w, h.logger, "check_pay_code", err)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"exists":  true,
		"used":    p.Used,
	})
}

type verifyRequest struct {
	Code           string          `json:"code"`
	TransferAmount json.RawMessage `json:"transferAmount"`
}

// parseAmount accepts only a positive JSON number. Quoted numbers are rejected.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(string(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// jsonNumber renders d as a bare JSON number whatever the decimal package's
// quoting default is.
func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// VerifyPay is the bank webhook confirming a transfer for a pay code.
func (h *Handler) VerifyPay(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil || strings.TrimSpace(body.Code) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Missing or invalid payment code")
		return
	}
	amount, ok := parseAmount(body.TransferAmount)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "Missing or invalid transfer amount")
		return
	}

	p, err := h.service.Verify(r.Context(), body.Code, amount)
	if err != nil {
		var mismatch ErrAmountMismatch
		switch {
		case errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrAlreadyUsed):
			h.logger.Warn("pay_code_rejected", map[string]any{"code": body.Code, "reason": err.Error()})
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			h.logger.Warn("pay_code_rejected", map[string]any{"code": body.Code, "reason": err.Error()})
			httpx.WriteError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &mismatch):
			h.logger.Warn("pay_code_amount_mismatch", map[string]any{
				"code":     body.Code,
				"expected": mismatch.Expected.String(),
				"received": mismatch.Received.String(),
			})
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "Transfer amount does not match expected amount",
				"expected": jsonNumber(mismatch.Expected),
				"received": jsonNumber(mismatch.Received),
			})
		default:
			httpx.WriteInternal(w, h.logger, "verify_pay", err)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"paymentCode": p.Key,
		"email":       p.Email,
		"productId":   p.ProductID,
	})
}

type reportRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Month    string `json:"month"`
}

type reportCommand struct {
	email    string
	password string
	month    string
	from, to time.Time
}

func (h *Handler) parseReport(w http.ResponseWriter, r *http.Request) (reportCommand, error) {
	var body reportRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return reportCommand{}, err
	}
	switch {
	case strings.TrimSpace(body.Email) == "":
		return reportCommand{}, httpx.Invalid("Missing or invalid email")
	case body.Password == "":
		return reportCommand{}, httpx.Invalid("Missing or invalid password")
	case body.Month == "":
		return reportCommand{}, httpx.Invalid("Missing or invalid month (format: YY-MM)")
	}

	from, to, err := MonthRange(body.Month, h.cfg.ReportLocation)
	if err != nil {
		return reportCommand{}, httpx.Invalid(err.Error())
	}

	return reportCommand{
		email:    httpx.NormalizeEmail(body.Email),
		password: body.Password,
		month:    body.Month,
		from:     from,
		to:       to,
	}, nil
}

// GetPayCodeByCollaborators authenticates a staff member from the body and
// lists the month's pay codes visible to them.
func (h *Handler) GetPayCodeByCollaborators(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.parseReport(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}
	if !h.allow(w, r, ratelimit.ActionKey(reportAction, httpx.ClientIP(r)), h.cfg.ReportPolicy, reportAction) {
		return
	}

	user, err := h.staff.Authenticate(r.Context(), cmd.email, cmd.password)
	if err != nil {
		if staff.WriteAuthError(w, err) {
			h.logger.Warn("collaborator_auth_failed", map[string]any{"email": cmd.email})
			return
		}
		httpx.WriteInternal(w, h.logger, reportAction, err)
		return
	}

	codes, err := h.service.Report(r.Context(), user, cmd.from, cmd.to)
	if err != nil {
		httpx.WriteInternal(w, h.logger, reportAction, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       codes,
		"count":      len(codes),
		"month":      cmd.month,
		"refCode":    user.RefCode,
		"role":       user.Role,
		"email":      cmd.email,
		"refPercent": user.RefPercent,
	})
}

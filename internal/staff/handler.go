package staff

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
)

var maxRefPercent = decimal.NewFromInt(100)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createRequest struct {
	Email      string           `json:"email"`
	Password   string           `json:"password"`
	RefCode    string           `json:"refCode"`
	Role       string           `json:"role"`
	RefPercent *decimal.Decimal `json:"refPercent"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func parseCreate(w http.ResponseWriter, r *http.Request) (CreateInput, error) {
	var body createRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return CreateInput{}, err
	}

	missing := httpx.RequiredStrings(
		[2]string{"email", body.Email},
		[2]string{"password", body.Password},
		[2]string{"refCode", body.RefCode},
		[2]string{"role", body.Role},
	)
	if body.RefPercent == nil {
		missing = append(missing, "refPercent")
	}
	if len(missing) > 0 {
		return CreateInput{}, httpx.Missing(missing...)
	}

	email := strings.TrimSpace(body.Email)
	if !httpx.IsValidEmail(email) {
		return CreateInput{}, httpx.Invalid("Invalid email format")
	}
	if len(body.Password) < MinPasswordLength {
		return CreateInput{}, httpx.Invalid("Password must be at least 6 characters long")
	}
	refCode := NormalizeRefCode(body.RefCode)
	if refCode == "" {
		return CreateInput{}, httpx.Invalid("refCode is required and cannot be empty")
	}
	role := Role(strings.TrimSpace(body.Role))
	if !role.Valid() {
		return CreateInput{}, httpx.Invalid("Invalid role. Must be 'admin' or 'collaborators'")
	}
	if body.RefPercent.IsNegative() || body.RefPercent.GreaterThan(maxRefPercent) {
		return CreateInput{}, httpx.Invalid("refPercent must be a number between 0 and 100")
	}

	return CreateInput{
		Email:      httpx.NormalizeEmail(email),
		Password:   body.Password,
		RefCode:    refCode,
		Role:       role,
		RefPercent: *body.RefPercent,
	}, nil
}

// CreateInternalUser registers an admin or collaborator account.
func (h *Handler) CreateInternalUser(w http.ResponseWriter, r *http.Request) {
	input, err := parseCreate(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	user, err := h.service.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrRefCodeInUse) {
			httpx.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		httpx.WriteInternal(w, h.logger, "create_internal_user", err)
		return
	}

	h.logger.Info("internal_user_created", map[string]any{
		"email":    user.Email,
		"ref_code": user.RefCode,
		"role":     string(user.Role),
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Internal user created successfully",
		"data": map[string]any{
			"email":      user.Email,
			"refCode":    user.RefCode,
			"role":       user.Role,
			"refPercent": user.RefPercent,
			"createdAt":  user.CreatedAt.Format(time.RFC3339),
		},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body, true); err != nil {
		httpx.WriteValidation(w, err)
		return
	}
	if missing := httpx.RequiredStrings([2]string{"email", body.Email}, [2]string{"password", body.Password}); len(missing) > 0 {
		httpx.WriteValidation(w, httpx.Missing(missing...))
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if WriteAuthError(w, err) {
			return
		}
		httpx.WriteInternal(w, h.logger, "staff_login", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokens)
}

// WriteAuthError renders credential and lockout failures. It reports false for
// any other error so the caller can treat it as internal.
func WriteAuthError(w http.ResponseWriter, err error) bool {
	if errors.Is(err, ErrInvalidCredentials) {
		httpx.WriteError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		return true
	}
	var lockedErr ErrLoginLocked
	if errors.As(err, &lockedErr) {
		httpx.WriteTooManyRequests(w, time.Until(lockedErr.Until), "login temporarily locked")
		return true
	}
	return false
}

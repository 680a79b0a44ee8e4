package entitlement

import (
	"errors"
	"net/http"
	"strings"

	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type addUserRequest struct {
	Emails    []string `json:"emails"`
	ProductID string   `json:"productId"`
}

type addUserCommand struct {
	emails    []string
	productID string
}

func parseAddUser(w http.ResponseWriter, r *http.Request) (addUserCommand, error) {
	var body addUserRequest
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return addUserCommand{}, err
	}

	body.ProductID = strings.TrimSpace(body.ProductID)

	var missing []string
	if body.Emails == nil {
		missing = append(missing, "emails")
	}
	if body.ProductID == "" {
		missing = append(missing, "productId")
	}
	if len(missing) > 0 {
		return addUserCommand{}, httpx.Missing(missing...)
	}
	if len(body.Emails) == 0 {
		return addUserCommand{}, httpx.Invalid("emails must be a non-empty array")
	}

	var invalid []string
	emails := make([]string, 0, len(body.Emails))
	for _, raw := range body.Emails {
		email := strings.TrimSpace(raw)
		if !httpx.IsValidEmail(email) {
			invalid = append(invalid, raw)
			continue
		}
		emails = append(emails, httpx.NormalizeEmail(email))
	}
	if len(invalid) > 0 {
		return addUserCommand{}, &httpx.ValidationError{
			Message: "Invalid email format",
			Details: map[string]any{"invalidEmails": invalid},
		}
	}

	return addUserCommand{emails: emails, productID: body.ProductID}, nil
}

// AddUser grants a product to a batch of emails.
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	cmd, err := parseAddUser(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	results := make([]GrantResult, 0, len(cmd.emails))
	for _, email := range cmd.emails {
		result, err := h.service.Grant(r.Context(), email, cmd.productID)
		if err != nil {
			if errors.Is(err, ErrUnknownProduct) {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			httpx.WriteInternal(w, h.logger, "add_user", err)
			return
		}
		results = append(results, result)
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Users processed successfully",
		"results": results,
	})
}

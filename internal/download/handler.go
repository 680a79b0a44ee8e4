package download

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"access-serverless/internal/asset"
	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
	"access-serverless/internal/otp"
	"access-serverless/internal/ratelimit"
)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type requestBody struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	Code      string `json:"code"`
}

type confirmBody struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	OTP       string `json:"otp"`
}

func parseRequest(w http.ResponseWriter, r *http.Request) (RequestCommand, error) {
	var body requestBody
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return RequestCommand{}, err
	}
	if missing := httpx.RequiredStrings([2]string{"email", body.Email}, [2]string{"productId", body.ProductID}); len(missing) > 0 {
		return RequestCommand{}, httpx.Missing(missing...)
	}
	email := strings.TrimSpace(body.Email)
	if !httpx.IsValidEmail(email) {
		return RequestCommand{}, httpx.Invalid("Invalid email format")
	}

	return RequestCommand{
		Email:     httpx.NormalizeEmail(email),
		ProductID: strings.TrimSpace(body.ProductID),
		Code:      strings.TrimSpace(body.Code),
		IP:        httpx.ClientIP(r),
	}, nil
}

func parseConfirm(w http.ResponseWriter, r *http.Request) (ConfirmCommand, error) {
	var body confirmBody
	if err := httpx.DecodeJSON(w, r, &body, false); err != nil {
		return ConfirmCommand{}, err
	}
	missing := httpx.RequiredStrings(
		[2]string{"email", body.Email},
		[2]string{"otp", body.OTP},
		[2]string{"productId", body.ProductID},
	)
	if len(missing) > 0 {
		return ConfirmCommand{}, httpx.Missing(missing...)
	}
	email := strings.TrimSpace(body.Email)
	if !httpx.IsValidEmail(email) {
		return ConfirmCommand{}, httpx.Invalid("Invalid email format")
	}
	code := strings.TrimSpace(body.OTP)
	if !otp.IsValidCode(code) {
		return ConfirmCommand{}, &httpx.ValidationError{
			Message: "Invalid OTP format. OTP must be 6 digits",
			Fields:  []string{"otp"},
			Invalid: true,
		}
	}

	return ConfirmCommand{
		Email:     httpx.NormalizeEmail(email),
		ProductID: strings.TrimSpace(body.ProductID),
		OTP:       code,
		IP:        httpx.ClientIP(r),
	}, nil
}

// writeRejection renders the domain failures shared by both steps and reports
// whether err was one of them.
func (h *Handler) writeRejection(w http.ResponseWriter, err error) bool {
	var limited ratelimit.ErrLimited
	var locked otp.ErrLocked
	switch {
	case errors.As(err, &limited):
		httpx.WriteTooManyRequests(w, limited.RetryAfter, limited.Message)
	case errors.As(err, &locked):
		httpx.WriteTooManyRequests(w, locked.Remaining, locked.Error())
	case errors.Is(err, ErrUnknownProduct):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAccessDenied), otp.IsRejection(err):
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
	default:
		return false
	}
	return true
}

// RequestDownload emails a one-time code to an entitled buyer.
func (h *Handler) RequestDownload(w http.ResponseWriter, r *http.Request) {
	cmd, err := parseRequest(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	if err := h.service.Request(r.Context(), cmd); err != nil {
		if !h.writeRejection(w, err) {
			httpx.WriteInternal(w, h.logger, "request_download", err)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OTP has been sent to your email",
	})
}

// ConfirmDownload trades a valid one-time code for the personalized asset.
func (h *Handler) ConfirmDownload(w http.ResponseWriter, r *http.Request) {
	cmd, err := parseConfirm(w, r)
	if err != nil {
		httpx.WriteValidation(w, err)
		return
	}

	file, err := h.service.Confirm(r.Context(), cmd)
	if err != nil {
		switch {
		case h.writeRejection(w, err):
		case errors.Is(err, asset.ErrNotFound):
			h.logger.Error("asset_missing", map[string]any{"product_id": cmd.ProductID, "error": err})
			httpx.WriteError(w, http.StatusNotFound, "File not found")
		default:
			httpx.WriteInternal(w, h.logger, "confirm_download", err)
		}
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
}

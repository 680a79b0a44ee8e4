// Package maintenance exposes the cron-triggered cleanup of expired
// coordination rows (OTPs, attempt counters, rate-limit windows, staff login
// attempts).
package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"access-serverless/internal/httpx"
	"access-serverless/internal/observability"
)

// DeleteFunc removes at most batchSize rows last touched before cutoff.
type DeleteFunc func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

type Sweep struct {
	Name      string
	Retention time.Duration
	Delete    DeleteFunc
}

type CleanupHandler struct {
	sweeps     []Sweep
	logger     *observability.Logger
	cronSecret string
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(logger *observability.Logger, cronSecret string, batchSize int, sweeps ...Sweep) *CleanupHandler {
	return &CleanupHandler{
		sweeps:     sweeps,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) == 1
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpx.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := h.now()
	result := make(map[string]int64, len(h.sweeps))
	for _, sweep := range h.sweeps {
		deleted, err := sweep.Delete(r.Context(), now.Add(-sweep.Retention), h.batchSize)
		if err != nil {
			h.logger.Error("cleanup_failed", map[string]any{"sweep": sweep.Name, "error": err})
			observability.CaptureError("cleanup_"+sweep.Name, err)
			httpx.WriteError(w, http.StatusInternalServerError, "cleanup failed")
			return
		}
		result[sweep.Name] = deleted
	}

	h.logger.Info("cleanup_completed", map[string]any{"deleted": result})

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"voice-gateway/internal/cache"
	"voice-gateway/pkg/logging/logging"
)

// CacheStatus is the read-only side of *cache.Store.
type CacheStatus interface {
	Health() cache.BackendHealth
	Stats() cache.Stats
	Backend() string
}

// AdminHandler serves /admin/cache.
type AdminHandler struct {
	status CacheStatus
	cache  cache.Cache
}

func NewAdminHandler(status CacheStatus, c cache.Cache) *AdminHandler {
	return &AdminHandler{status: status, cache: c}
}

type healthResponse struct {
	Backend             string      `json:"backend"`
	State               string      `json:"state"`
	Connected           bool        `json:"connected"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastChange          time.Time   `json:"last_change"`
	Stats               cache.Stats `json:"stats"`
}

// Health handles GET /admin/cache/health.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(h.status))
}

func newHealthResponse(status CacheStatus) healthResponse {
	bh := status.Health()
	resp := healthResponse{
		Backend:             status.Backend(),
		State:               bh.State.String(),
		Connected:           bh.Connected,
		ConsecutiveFailures: bh.ConsecutiveFailures,
		LastChange:          bh.LastChange,
		Stats:               status.Stats(),
	}
	if bh.LastError != nil {
		resp.LastError = bh.LastError.Error()
	}
	return resp
}

// Flush handles DELETE /admin/cache.
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ok, err := h.cache.Flush(r.Context())
	if err != nil {
		logging.L(r.Context()).Error("cache flush failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"flushed": ok})
}

// Purge handles DELETE /admin/cache/keys?pattern=GLOB.
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.DeleteByPattern(r.Context(), r.URL.Query().Get("pattern"))
	switch {
	case errors.Is(err, cache.ErrEmptyPattern), errors.Is(err, cache.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	case err != nil:
		logging.L(r.Context()).Error("cache purge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

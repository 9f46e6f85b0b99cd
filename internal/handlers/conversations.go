package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"voice-gateway/internal/cache"
	"voice-gateway/internal/conversations"
	"voice-gateway/pkg/logging/logging"
)

const conversationsNamespace = "conversations"

type listQuery struct {
	UserID string
	Limit  int
}

type getQuery struct {
	UserID string
	ID     string
}

// ConversationHandler serves /v1/conversations. Reads go through the cache;
// every write drops the caller's cached reads.
type ConversationHandler struct {
	repo  conversations.Repository
	cache cache.Cache

	list func(ctx context.Context, q listQuery) ([]conversations.Summary, error)
	get  func(ctx context.Context, q getQuery) (*conversations.Conversation, error)
}

func NewConversationHandler(repo conversations.Repository, c cache.Cache, ttl time.Duration) *ConversationHandler {
	h := &ConversationHandler{repo: repo, cache: c}

	h.list = cache.Wrap(c, func(ctx context.Context, q listQuery) ([]conversations.Summary, error) {
		return repo.List(ctx, q.UserID, q.Limit)
	}, cache.WrapOptions[listQuery]{
		Namespace: conversationsNamespace,
		TTL:       ttl,
		KeyFunc: func(q listQuery) (string, error) {
			return cache.BuildKey(userNamespace(q.UserID), cache.Params{"op": "list", "limit": q.Limit}), nil
		},
	})

	h.get = cache.Wrap(c, func(ctx context.Context, q getQuery) (*conversations.Conversation, error) {
		return repo.Get(ctx, q.UserID, q.ID)
	}, cache.WrapOptions[getQuery]{
		Namespace: conversationsNamespace,
		TTL:       ttl,
		KeyFunc: func(q getQuery) (string, error) {
			return cache.BuildKey(userNamespace(q.UserID), cache.Params{"op": "get", "id": q.ID}), nil
		},
	})

	return h
}

// userNamespace holds every cached read for one user, so a single pattern
// delete invalidates them all.
func userNamespace(user string) string {
	return conversationsNamespace + ":" + user
}

// List handles GET /v1/conversations?limit=N.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.list(r.Context(), listQuery{UserID: userID(r), Limit: conversations.ClampLimit(limit)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

// Get handles GET /v1/conversations/{id}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.get(r.Context(), getQuery{UserID: userID(r), ID: chi.URLParam(r, "id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type createRequest struct {
	Title    string                  `json:"title"`
	Messages []conversations.Message `json:"messages"`
}

// Create handles POST /v1/conversations.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	user := userID(r)
	c, err := h.repo.Create(r.Context(), conversations.Conversation{
		UserID:   user,
		Title:    req.Title,
		Messages: req.Messages,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.invalidate(r.Context(), user)
	writeJSON(w, http.StatusCreated, c)
}

// AppendMessage handles POST /v1/conversations/{id}/messages.
func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var msg conversations.Message
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	user := userID(r)
	c, err := h.repo.AppendMessage(r.Context(), user, chi.URLParam(r, "id"), msg)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.invalidate(r.Context(), user)
	writeJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /v1/conversations/{id}.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if err := h.repo.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}

	h.invalidate(r.Context(), user)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) invalidate(ctx context.Context, user string) {
	n, err := cache.InvalidateNamespace(ctx, h.cache, userNamespace(user))
	if err != nil {
		logging.L(ctx).Warn("cache_invalidate_error",
			zap.String("user_id", user),
			zap.Error(err),
		)
		return
	}
	logging.L(ctx).Debug("cache_invalidated",
		zap.String("user_id", user),
		zap.Int("removed", n),
	)
}

func (h *ConversationHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversations.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, conversations.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "")
	default:
		logging.L(r.Context()).Error("conversation store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
	}
}

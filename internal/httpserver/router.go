package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"voice-gateway/internal/handlers"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/middleware"
)

const (
	requestTimeout = 15 * time.Second
	maxBodyBytes   = 512 * 1024
)

// Handlers groups the route handlers SetupRouter mounts.
type Handlers struct {
	Conversations *handlers.ConversationHandler
	Speech        *handlers.SpeechHandler
	Admin         *handlers.AdminHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Post("/", h.Conversations.Create)
			r.Get("/{id}", h.Conversations.Get)
			r.Post("/{id}/messages", h.Conversations.AppendMessage)
			r.Delete("/{id}", h.Conversations.Delete)
		})
		r.Get("/voices", h.Speech.ListVoices)
		r.Post("/speech", h.Speech.Synthesize)
	})

	r.Route("/admin/cache", func(r chi.Router) {
		r.Get("/health", h.Admin.Health)
		r.Delete("/", h.Admin.Flush)
		r.Delete("/keys", h.Admin.Purge)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}

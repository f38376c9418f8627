package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultKeepAlive is the interval between SSE keep-alive comments.
const DefaultKeepAlive = 30 * time.Second

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Service Service
	Logger  *slog.Logger

	// KeepAlive overrides DefaultKeepAlive for the event stream.
	KeepAlive time.Duration
}

// NewRouter creates the v1 API router.
func NewRouter(deps *Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	h := &handler{svc: deps.Service, keepAlive: keepAlive}

	r := chi.NewRouter()
	r.Use(RequestLogger(logger.With("component", "api")))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/unlock", h.unlock)
		r.Post("/lock", h.lock)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.list)
			r.Put("/", h.update)
			r.Get("/latest", h.latest)
			r.Get("/{ref}", h.get)
			r.Delete("/{ref}", h.remove)
		})
		r.Get("/search", h.search)
		r.Post("/clipboard", h.copy)

		r.Get("/settings", h.settings)
		r.Put("/settings", h.saveSettings)

		r.Get("/capture", h.captureStatus)
		r.Post("/capture/start", h.captureStart)
		r.Post("/capture/stop", h.captureStop)

		r.Get("/events", h.events)
	})

	return r
}

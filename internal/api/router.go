package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the admin API router.
func NewRouter(runner Runner, history HistoryStore, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(EchoRequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(LimitBody)

	h := NewJobHandler(runner, history)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/jobs", h.List)
		r.Get("/jobs/{kind}/{name}", h.Get)
		r.Get("/jobs/{kind}/{name}/history", h.History)
		r.Post("/cron/{name}/run", h.Run)
		r.Post("/subscriptions/{name}/preview", h.Preview)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: ErrorBody{Code: "not_found", Message: "route not found"}})
	})
	return r
}

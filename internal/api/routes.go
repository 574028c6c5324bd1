package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/echoclone/echoclone-go/internal/metrics"
)

// NewRouter constructs the HTTP router with middleware and routes.
func NewRouter(deps Deps, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	h := NewHandler(deps, logger)

	r.Get("/", h.HandleRoot)

	r.Post("/clone", h.HandleClone)
	r.Get("/generated/{name}", h.HandleGenerated)

	r.Get("/health", h.HandleHealth)
	r.Post("/health", h.HandleHealth)

	r.Handle("/metrics", metrics.Handler(deps.Metrics, deps.Queue))

	return r
}

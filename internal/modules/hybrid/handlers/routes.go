package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all run lifecycle routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Post("/", h.HandleStartRun)
		r.Get("/active", h.HandleActiveRuns)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetRun(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/iterations", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetIterations(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/export", func(w http.ResponseWriter, r *http.Request) {
				h.HandleExport(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
				h.HandleCancelRun(w, r, chi.URLParam(r, "id"))
			})
		})
	})
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all problem registry routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/problems", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/upload", h.HandleUploadLP)
		r.Post("/generate", h.HandleGenerate)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "name"))
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDelete(w, r, chi.URLParam(r, "name"))
			})
		})
	})
}

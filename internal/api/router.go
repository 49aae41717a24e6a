package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mixport/internal/exportservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *exportservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Run control.
	r.Post("/export", h.StartExport)
	r.Post("/export/cancel", h.CancelExport)
	r.Get("/export/status", h.ExportStatus)

	// Run history.
	r.Get("/exports", h.ListExports)
	r.Get("/exports/{id}", h.GetExport)

	// Archives on the local sink.
	r.Get("/archives", h.ListArchives)
	r.Get("/archives/{name}", h.DownloadArchive)
	r.Delete("/archives/{name}", h.DeleteArchive)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mixport/internal/apperr"
	"github.com/starford/mixport/internal/exportservice"
	"github.com/starford/mixport/internal/storage"
)

// Handler holds API route handlers.
type Handler struct {
	svc *exportservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *exportservice.Service) *Handler {
	return &Handler{svc: svc}
}

// StartExport handles POST /api/export.
//
//	@Summary		Start an export run
//	@Tags			export
//	@Produce		json
//	@Success		202	{object}	StartExportResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export [post]
func (h *Handler) StartExport(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Start()
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "export already running")
		} else {
			slog.Error("start export failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, StartExportResponse{RunID: id})
}

// CancelExport handles POST /api/export/cancel.
//
//	@Summary		Cancel the active export run
//	@Tags			export
//	@Produce		json
//	@Success		202	{object}	ExportStatus
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export/cancel [post]
func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(); err != nil {
		if errors.Is(err, apperr.ErrNotRunning) {
			writeError(w, http.StatusConflict, "no export running")
		} else {
			slog.Error("cancel export failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, h.svc.Status())
}

// ExportStatus handles GET /api/export/status.
//
//	@Summary		Current or last run status
//	@Tags			export
//	@Produce		json
//	@Success		200	{object}	ExportStatus
//	@Security		BearerAuth
//	@Router			/export/status [get]
func (h *Handler) ExportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// ListExports handles GET /api/exports.
//
//	@Summary		List recorded runs, newest first
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/exports [get]
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(limit)
	if err != nil {
		slog.Error("list exports failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: nonNil(runs)})
}

// GetExport handles GET /api/exports/{id}.
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, files, err := h.svc.Run(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get export failed", slog.String("run_id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, RunDetailResponse{Run: run, Files: nonNil(files)})
}

// ListArchives handles GET /api/archives.
func (h *Handler) ListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Archives()
	if err != nil {
		slog.Error("list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ArchiveListResponse{Archives: nonNil(list)})
}

// DownloadArchive handles GET /api/archives/{name}.
//
//	@Summary		Download a stored archive
//	@Tags			archives
//	@Produce		application/zip
//	@Param			name	path	string	true	"Archive file name"
//	@Success		200
//	@Success		304
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/archives/{name} [get]
func (h *Handler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := h.svc.Archive(name)
	if err != nil {
		h.archiveError(w, name, err)
		return
	}
	writeArchive(w, r, name, data)
}

// DeleteArchive handles DELETE /api/archives/{name}.
func (h *Handler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.DeleteArchive(name); err != nil {
		h.archiveError(w, name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) archiveError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid archive name")
	default:
		slog.Error("archive request failed", slog.String("name", name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// nonNil returns s or an empty slice so lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

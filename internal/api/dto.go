package api

import (
	"github.com/starford/mixport/internal/exportservice"
	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/storage"
)

// StartExportResponse is returned when a run has been accepted.
type StartExportResponse struct {
	RunID string `json:"run_id" example:"3f6c1a52-8d1e-4a7b-9a43-1f0c2b7d5e90" validate:"required"`
}

// ExportStatus is the run status response type (aliased from the domain layer).
type ExportStatus = exportservice.Status

// RunListResponse wraps the run history.
type RunListResponse struct {
	Runs []history.Run `json:"runs" validate:"required"`
}

// RunDetailResponse is one run with its archive manifest.
type RunDetailResponse struct {
	Run   *history.Run   `json:"run" validate:"required"`
	Files []history.File `json:"files" validate:"required"`
}

// ArchiveListResponse wraps stored archives.
type ArchiveListResponse struct {
	Archives []storage.ArchiveInfo `json:"archives" validate:"required"`
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/kapt/internal/controller"
)

// StateResponse answers activate and deactivate.
type StateResponse struct {
	Changed bool              `json:"changed"`
	Status  controller.Status `json:"status"`
}

// KaptureRequest is the body of POST /kaptures. Zero values select now and
// the configured default length.
type KaptureRequest struct {
	EndTime    int64 `json:"end_time"`
	DurationMs int64 `json:"duration_ms"`
}

// KaptureResponse describes a written clip.
type KaptureResponse struct {
	Path       string `json:"path"`
	Segments   int    `json:"segments"`
	DurationMs int64  `json:"duration_ms"`
}

// AudioSourceRequest is the body of PUT /settings/audio-source.
type AudioSourceRequest struct {
	Source string `json:"source"`
}

// OutputFolderRequest is the body of PUT /settings/output-folder.
type OutputFolderRequest struct {
	Folder string `json:"folder"`
}

// CacheBudgetRequest is the body of PUT /settings/cache-budget.
type CacheBudgetRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.commands.Status())
}

func (s *Server) handleActivate(ctx echo.Context) error {
	changed, err := s.commands.Activate(ctx.Request().Context())
	if err != nil {
		return s.respondCommandError(ctx, err, "failed to activate capture")
	}
	return ctx.JSON(http.StatusOK, StateResponse{Changed: changed, Status: s.commands.Status()})
}

func (s *Server) handleDeactivate(ctx echo.Context) error {
	changed, err := s.commands.Deactivate(ctx.Request().Context())
	if err != nil {
		return s.respondCommandError(ctx, err, "failed to deactivate capture")
	}
	return ctx.JSON(http.StatusOK, StateResponse{Changed: changed, Status: s.commands.Status()})
}

func (s *Server) handleKapture(ctx echo.Context) error {
	var req KaptureRequest
	if err := ctx.Bind(&req); err != nil {
		return s.respondError(ctx, err, "invalid kapture request", http.StatusBadRequest)
	}
	if req.DurationMs < 0 || req.EndTime < 0 {
		return s.respondError(ctx, nil, "end_time and duration_ms must not be negative", http.StatusBadRequest)
	}

	res, err := s.commands.Kapture(ctx.Request().Context(), req.EndTime, time.Duration(req.DurationMs)*time.Millisecond)
	if err != nil {
		return s.respondCommandError(ctx, err, "kapture failed")
	}

	return ctx.JSON(http.StatusCreated, KaptureResponse{
		Path:       res.Path,
		Segments:   res.Segments,
		DurationMs: res.Length.Milliseconds(),
	})
}

func (s *Server) handleAudioSources(ctx echo.Context) error {
	sources, err := s.commands.AudioSources(ctx.Request().Context())
	if err != nil {
		return s.respondCommandError(ctx, err, "failed to list audio sources")
	}
	return ctx.JSON(http.StatusOK, sources)
}

func (s *Server) handleSetAudioSource(ctx echo.Context) error {
	var req AudioSourceRequest
	if err := ctx.Bind(&req); err != nil || strings.TrimSpace(req.Source) == "" {
		return s.respondError(ctx, err, "source is required", http.StatusBadRequest)
	}
	if err := s.commands.SetAudioSource(ctx.Request().Context(), req.Source); err != nil {
		return s.respondCommandError(ctx, err, "failed to set audio source")
	}
	return ctx.JSON(http.StatusOK, s.commands.Status())
}

func (s *Server) handleSetOutputFolder(ctx echo.Context) error {
	var req OutputFolderRequest
	if err := ctx.Bind(&req); err != nil || strings.TrimSpace(req.Folder) == "" {
		return s.respondError(ctx, err, "folder is required", http.StatusBadRequest)
	}
	if err := s.commands.SetOutputFolder(req.Folder); err != nil {
		return s.respondCommandError(ctx, err, "failed to set output folder")
	}
	return ctx.JSON(http.StatusOK, s.commands.Status())
}

func (s *Server) handleSetCacheBudget(ctx echo.Context) error {
	var req CacheBudgetRequest
	if err := ctx.Bind(&req); err != nil || req.Seconds <= 0 {
		return s.respondError(ctx, err, "seconds must be a positive integer", http.StatusBadRequest)
	}
	if err := s.commands.SetMaxCached(time.Duration(req.Seconds) * time.Second); err != nil {
		return s.respondCommandError(ctx, err, "failed to set cache budget")
	}
	return ctx.JSON(http.StatusOK, s.commands.Status())
}

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/kapt/internal/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Category      string `json:"category,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// StatusForError maps an error category to an HTTP status code.
func StatusForError(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryOutOfRange:
		return http.StatusRequestedRangeNotSatisfiable
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryExtraction, errors.CategoryProcessSpawn, errors.CategoryMissingStartTime:
		return http.StatusBadGateway
	case errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondCommandError(ctx echo.Context, err error, message string) error {
	return s.respondError(ctx, err, message, StatusForError(err))
}

func (s *Server) respondError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
		if cat := errors.CategoryOf(err); cat != errors.CategoryGeneric {
			resp.Category = string(cat)
		}
	}

	level := logger.Warn
	if code >= http.StatusInternalServerError {
		level = logger.Error
	}
	level("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method)

	return ctx.JSON(code, resp)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)
		logger.Debug("request handled",
			"method", ctx.Request().Method,
			"path", ctx.Request().URL.Path,
			"status", ctx.Response().Status,
			"duration_ms", time.Since(start).Milliseconds())
		return err
	}
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		status := ctx.Response().Status
		var he *echo.HTTPError
		if err != nil && errors.As(err, &he) {
			status = he.Code
		}
		path := ctx.Path()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTP.RecordHTTPRequest(ctx.Request().Method, path, status, time.Since(start).Seconds())
		return err
	}
}

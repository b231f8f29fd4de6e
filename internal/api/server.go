// Package api exposes the capture commands over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/kapt/internal/audio"
	"github.com/tphakala/kapt/internal/controller"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/kapture"
	"github.com/tphakala/kapt/internal/logging"
	"github.com/tphakala/kapt/internal/observability"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}
}

// Commands is the command surface served by the API.
// *controller.Controller implements it.
type Commands interface {
	Activate(ctx context.Context) (bool, error)
	Deactivate(ctx context.Context) (bool, error)
	Kapture(ctx context.Context, endMs int64, d time.Duration) (*kapture.Result, error)
	AudioSources(ctx context.Context) ([]audio.Source, error)
	SetAudioSource(ctx context.Context, name string) error
	SetOutputFolder(folder string) error
	SetMaxCached(d time.Duration) error
	Status() controller.Status
}

// Config configures a Server.
type Config struct {
	Listen       string
	KaptureRate  float64 // requests per second
	KaptureBurst int
	Metrics      *observability.Metrics // optional
	MetricsPath  string                 // empty disables /metrics
}

// Server is the HTTP control API.
type Server struct {
	Echo     *echo.Echo
	commands Commands
	config   Config
	metrics  *observability.Metrics
}

// NewServer creates a Server and registers its routes.
func NewServer(commands Commands, config Config) *Server {
	s := &Server{
		Echo:     echo.New(),
		commands: commands,
		config:   config,
		metrics:  config.Metrics,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.requestLogger)
	if s.metrics != nil {
		s.Echo.Use(s.metricsMiddleware)
	}

	s.initRoutes()
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("HTTP control API listening", "listen", s.config.Listen)
	if err := s.Echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const kaptureRateLimitExpiry = 3 * time.Minute

func (s *Server) initRoutes() {
	g := s.Echo.Group("/api/v1")

	g.GET("/status", s.handleStatus)
	g.POST("/capture/activate", s.handleActivate)
	g.POST("/capture/deactivate", s.handleDeactivate)
	g.POST("/kaptures", s.handleKapture, s.kaptureRateLimiter())
	g.GET("/audio/sources", s.handleAudioSources)
	g.PUT("/settings/audio-source", s.handleSetAudioSource)
	g.PUT("/settings/output-folder", s.handleSetOutputFolder)
	g.PUT("/settings/cache-budget", s.handleSetCacheBudget)

	if s.metrics != nil && s.config.MetricsPath != "" {
		s.Echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

// kaptureRateLimiter throttles kapture requests per client. Each one stops
// and restarts capture, so bursts are refused rather than queued.
func (s *Server) kaptureRateLimiter() echo.MiddlewareFunc {
	burst := max(s.config.KaptureBurst, 1)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.config.KaptureRate),
				Burst:     burst,
				ExpiresIn: kaptureRateLimitExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return s.respondError(ctx, err, "unable to identify client", http.StatusForbidden)
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			if s.metrics != nil {
				s.metrics.HTTP.RecordRateLimited(ctx.Path())
			}
			logger.Warn("kapture request rate limited", "client_ip", identifier)
			return s.respondError(ctx, nil, "too many kapture requests, please wait", http.StatusTooManyRequests)
		},
	})
}

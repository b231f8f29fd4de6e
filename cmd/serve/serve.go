// Package serve runs the capture daemon.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/kapt/internal/api"
	"github.com/tphakala/kapt/internal/conf"
	"github.com/tphakala/kapt/internal/controller"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/logging"
	"github.com/tphakala/kapt/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// Command creates the serve command.
func Command(load func() (*conf.Settings, error), version string) *cobra.Command {
	var idle bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture daemon and its control API",
		Long:  "Start continuous background capture and serve the HTTP control API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			return Run(cmd.Context(), settings, !idle, version)
		},
	}

	if err := setupFlags(cmd, &idle); err != nil {
		logging.Error("failed to set up serve flags", "error", err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, idle *bool) error {
	cmd.Flags().BoolVar(idle, "idle", false, "Start with capture deactivated")
	cmd.Flags().String("listen", viper.GetString("server.listen"), "Listen address of the control API")
	cmd.Flags().String("audio-source", viper.GetString("capture.audiosource"), "PulseAudio source to record")
	cmd.Flags().String("output", viper.GetString("output.folder"), "Folder for finished kaptures")

	for key, flag := range map[string]string{
		"server.listen":       "listen",
		"capture.audiosource": "audio-source",
		"output.folder":       "output",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled, SIGINT or SIGTERM
// arrives, or the API server fails.
func Run(ctx context.Context, settings *conf.Settings, activate bool, version string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.ForService("serve")

	if settings.Log.Enabled {
		restore, err := logging.EnableFileOutput(settings.LogFile())
		if err != nil {
			return errors.New(err).
				Component("serve").
				Category(errors.CategoryConfiguration).
				Context("log_path", settings.Log.Path).
				Build()
		}
		defer func() { _ = restore() }()
	}

	if settings.Telemetry.Sentry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.Sentry.DSN, "kapt@"+version, settings.Debug); err != nil {
			logger.Warn("error reporting disabled", "error", err)
		} else {
			defer errors.FlushTelemetry(2 * time.Second)
		}
	}

	var metrics *observability.Metrics
	if settings.Telemetry.Prometheus.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		metrics = m
	}

	// capture processes outlive ctx so shutdown can stop them gracefully
	procCtx, cancelProcs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProcs()

	ctrl, err := controller.New(procCtx, controller.Options{
		Settings: settings,
		Metrics:  metrics,
		Persist:  conf.Update,
	})
	if err != nil {
		return err
	}
	conf.Watch(ctrl.ApplySettings)

	server := api.NewServer(ctrl, api.Config{
		Listen:       settings.Server.Listen,
		KaptureRate:  settings.Server.KaptureRate,
		KaptureBurst: settings.Server.KaptureBurst,
		Metrics:      metrics,
		MetricsPath:  settings.Telemetry.Prometheus.Path,
	})

	if activate {
		if _, err := ctrl.Activate(ctx); err != nil {
			logger.Error("failed to activate capture", "error", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("kapt daemon started",
		"version", version,
		"listen", settings.Server.Listen,
		"chunk_length_s", settings.Capture.ChunkLength,
		"max_cached_s", settings.Capture.MaxCached,
		"capture_active", activate)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control API did not shut down cleanly", "error", err)
	}
	if err := ctrl.Close(); err != nil {
		logger.Warn("capture did not stop cleanly", "error", err)
	}

	return runErr
}

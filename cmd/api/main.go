package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/onkernel/qsynth/cmd/api/config"
	mw "github.com/onkernel/qsynth/lib/middleware"
	"github.com/onkernel/qsynth/lib/otel"
	"github.com/onkernel/qsynth/lib/qemu"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	otelProvider, otelShutdown, err := otel.Init(context.Background(), otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	})
	if err != nil {
		// degrade to running without telemetry
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
		otelProvider = nil
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	if otelProvider != nil {
		synthMetrics, err := qemu.NewMetrics(otelProvider.MeterFor("qsynth.qemu"), otelProvider.TracerFor("qsynth.qemu"))
		if err == nil {
			qemu.SetMetrics(synthMetrics)
		}
	}

	app, cleanup, err := initializeApp(cfg, otelProvider)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger
	if cfg.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", cfg.OtelEndpoint, "service", cfg.OtelServiceName)
	}
	if cfg.JwtSecret == "" {
		logger.Warn("JWT_SECRET not configured - API authentication will fail")
	}
	logger.Info("capabilities ready",
		"version", app.Capabilities.Version(),
		"flags", len(app.Capabilities.Flags()),
		"privileged", cfg.Privileged)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           newRouter(app, otelProvider),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting qsynth API", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}
		logger.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}

// newRouter wires the middleware stack and routes.
func newRouter(app *application, otelProvider *otel.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", app.ApiService.GetHealth)

	r.Group(func(r chi.Router) {
		// tracing first so the access log carries the span context
		if app.Config.OtelEnabled {
			r.Use(otelchi.Middleware(app.Config.OtelServiceName, otelchi.WithChiRoutes(r)))
		}
		r.Use(mw.InjectLogger(app.Logger))
		r.Use(mw.AccessLogger(app.Logger))
		if otelProvider != nil {
			if httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter); err == nil {
				r.Use(httpMetrics.Middleware)
			}
		}
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(mw.JwtAuth(app.Config.JwtSecret))

		app.ApiService.Routes(r)
	})
	return r
}

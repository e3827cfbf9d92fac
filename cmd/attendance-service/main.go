package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrlogin/attendance-service/internal/app"
	"qrlogin/attendance-service/internal/config"
	"qrlogin/attendance-service/internal/httpapi"
	"qrlogin/attendance-service/internal/scan"
	"qrlogin/attendance-service/internal/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	shutdownTelemetry := telemetry.Setup("attendance-service", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if open, err := a.Sessions.LoggedIn(context.Background()); err != nil {
		logger.Warn("could not list open sessions", "error", err)
	} else {
		logger.Info("open sessions today", "count", len(open))
	}

	dispatcher := scan.NewDispatcher(a.Sessions, scan.Options{
		Cooldown:       cfg.ScanCooldown,
		RequiredFrames: cfg.ScanRequiredFrames,
		Logger:         logger,
	})
	options := httpapi.Options{Logger: logger}
	if a.Admin != nil {
		options.Admin = a.Admin
	}
	handler := httpapi.NewHandler(a.Sessions, a.Directory, a.Reports, a.Calendar, dispatcher, options)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(handler.Routes())), "attendance-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("attendance-service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"retrieval-service/internal/adapter/httpapi"
	"retrieval-service/internal/di"
	"retrieval-service/internal/infra/config"
	"retrieval-service/internal/infra/logger"
	"retrieval-service/internal/infra/telemetry"
)

func main() {
	cfg := config.Load()

	log := logger.NewWithOTel(cfg.OTelEnabled, cfg.ServiceName)
	slog.SetDefault(log)

	if cfg.OTelEnabled {
		shutdown, err := telemetry.Setup(context.Background(), cfg.ServiceName, cfg.OTelEndpoint)
		if err != nil {
			log.Error("failed to set up telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	container, err := di.New(context.Background(), cfg, log)
	if err != nil {
		log.Error("failed to build container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("http_request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("duration_ms", v.Latency.Milliseconds()))
			return nil
		},
	}))

	rateLimiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	queryMiddleware := []echo.MiddlewareFunc{
		httpapi.GatewayAuth(),
		rateLimiter.Middleware(),
	}
	adminMiddleware := []echo.MiddlewareFunc{
		httpapi.GatewayAuth(),
		httpapi.RequireSuperAdmin(),
	}

	handler := httpapi.NewHandler(container.RetrieveUsecase, container.Cache, log)
	handler.Register(e, queryMiddleware, adminMiddleware)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := container.Pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// h2c lets the gateway speak HTTP/2 without TLS inside the mesh.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(e, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server_starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server_shutting_down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

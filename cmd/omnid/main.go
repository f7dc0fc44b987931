// Command omnid serves the orchestration API: one WebSocket or NDJSON
// request in, a stream of JSON events out.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	omni "github.com/parlowe/omni"
	"github.com/parlowe/omni/obs"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := obs.Init(ctx, obsOptions())
	if err != nil {
		logger.Error("observability init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", slog.Any("error", err))
		}
	}()

	client := omni.NewClient(omni.WithLogger(logger))
	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           newServer(client, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("omnid listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("omnid stopped")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("OMNI_DEBUG") != "" {
		level = slog.LevelDebug
	}
	if os.Getenv("OMNI_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func listenAddr() string {
	if addr := os.Getenv("OMNI_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func obsOptions() obs.Options {
	opts := obs.DefaultOptions()
	opts.ServiceName = "omnid"
	if v := os.Getenv("OMNI_SERVICE_NAME"); v != "" {
		opts.ServiceName = v
	}
	opts.Environment = os.Getenv("OMNI_ENV")
	if v := os.Getenv("OTEL_EXPORTER"); v != "" {
		opts.Exporter = obs.ExporterType(v)
	}
	opts.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		opts.Insecure, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("OTEL_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			opts.SampleRatio = ratio
		}
	}
	return opts
}

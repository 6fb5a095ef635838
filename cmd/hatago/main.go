// Command hatago is the gateway's process entrypoint: the out-of-scope
// "command-line front end" spec.md names, responsible for everything the
// core package explicitly declines to do — config file parsing and
// validation, log sink construction, and transport selection (spec §6).
//
// Grounded on kagenti-mcp-gateway's cmd/mcp-broker-router/main.go for the
// overall shape (flag parsing, slog handler construction, viper-style
// config reload, signal-driven graceful shutdown) with viper swapped for a
// direct gopkg.in/yaml.v3 parse (DESIGN.md's viper justification) and the
// broker/router/grpc wiring replaced by a single internal/gateway.Gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/gateway"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFile string
	flag.StringVar(&configFile, "config", envOr("HATAGO_CONFIG", "./config/hatago.yaml"), "path to the gateway config file")
	flag.Parse()

	logger := buildLogger()

	cfg, err := loadConfig(configFile)
	if err != nil {
		logger.Error("hatago: failed to load config", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("hatago: failed to construct gateway", "error", err)
		return 1
	}

	loader := func() (*config.GatewayConfig, error) { return loadConfig(configFile) }
	if err := config.Watch(ctx, configFile, cfg, loader, logger); err != nil {
		logger.Warn("hatago: config file watching disabled", "error", err)
	}

	transport := envOr("HATAGO_TRANSPORT", "http")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	switch transport {
	case "stdio":
		serveErr = runStdio(ctx, gw, stop, logger)
	default:
		serveErr = runHTTP(ctx, gw, stop, logger)
	}

	if serveErr != nil {
		logger.Error("hatago: server error", "error", serveErr)
		return 1
	}
	return 0
}

func runHTTP(ctx context.Context, gw *gateway.Gateway, stop chan os.Signal, logger *slog.Logger) error {
	addr := fmt.Sprintf("%s:%s", envOr("HOSTNAME", ""), envOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses run open-ended
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("hatago: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case err := <-serveErrCh:
		return err
	case <-stop:
	}

	logger.Info("hatago: shutting down")
	gracefulMillis, _ := strconv.Atoi(envOr("GRACEFUL_TIMEOUT_MS", "30000"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulMillis)*time.Millisecond)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hatago: gateway shutdown error", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func runStdio(ctx context.Context, gw *gateway.Gateway, stop chan os.Signal, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.StdioHandler().Listen(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	logger.Info("hatago: shutting down")
	gracefulMillis, _ := strconv.Atoi(envOr("GRACEFUL_TIMEOUT_MS", "30000"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulMillis)*time.Millisecond)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func buildLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(envOr("LOG_LEVEL", "info"))}

	var handler slog.Handler
	if envOr("LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

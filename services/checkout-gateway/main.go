package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crowdsale/observability/logging"
	telemetry "crowdsale/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/checkout-gateway/config.yaml", "path to gateway configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CRW_ENV"))
	slogger := logging.Setup("checkout-gateway", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "checkout-gateway",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		slogger.Error("load config", "error", err)
		os.Exit(1)
	}
	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		slogger.Error("open sqlite store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	auth := NewAuthenticator(cfg.Auth, slogger)
	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	limiter := newRateLimiter(cfg.RateLimit)
	obs := NewObservability("checkout-gateway", "checkout")
	server := NewServer(auth, node, store, limiter, obs, slogger, cfg.RequestTimeout.Duration)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "checkout-gateway"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slogger.Info("checkout gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down checkout gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("graceful shutdown failed", "error", err)
	}
}

const shutdownTimeout = 10 * time.Second

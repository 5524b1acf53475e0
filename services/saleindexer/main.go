package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"crowdsale/observability/logging"
	telemetry "crowdsale/observability/otel"
	"crowdsale/services/saleindexer/config"
	"crowdsale/services/saleindexer/indexer"
	"crowdsale/services/saleindexer/models"
	"crowdsale/services/saleindexer/recon"
	"crowdsale/services/saleindexer/salerpc"
)

func main() {
	env := strings.TrimSpace(os.Getenv("CRW_ENV"))
	slogger := logging.Setup("saleindexer", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "saleindexer",
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

	cfg, err := config.FromEnv()
	if err != nil {
		slogger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		slogger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		slogger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	client := salerpc.NewClient(salerpc.Config{
		URL:       cfg.NodeRPCURL,
		AuthToken: cfg.NodeRPCToken,
		Timeout:   cfg.NodeTimeout,
	})

	registry := prometheus.NewRegistry()
	metrics := indexer.NewMetrics(registry)

	poller, err := indexer.New(indexer.Config{
		DB:       db,
		Client:   client,
		Interval: cfg.PollInterval,
		PageSize: cfg.PageSize,
		Metrics:  metrics,
		Logger:   slogger,
	})
	if err != nil {
		slogger.Error("indexer init", "error", err)
		os.Exit(1)
	}

	reconciler, err := recon.NewReconciler(recon.Config{
		DB:        db,
		TZ:        cfg.TZ,
		Source:    client,
		OutputDir: cfg.ReconOutputDir,
		DryRun:    cfg.ReconDryRun,
		Logger:    slogger,
	})
	if err != nil {
		slogger.Error("reconciler init", "error", err)
		os.Exit(1)
	}
	scheduler := recon.NewScheduler(recon.SchedulerConfig{
		Reconciler: reconciler,
		Window:     cfg.ReconWindow,
		RunHour:    cfg.ReconRunHour,
		RunMinute:  cfg.ReconRunMinute,
		Location:   cfg.TZ,
		Logger:     slogger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go poller.Run(ctx)
	go scheduler.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "saleindexer"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slogger.Info("sale indexer listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down sale indexer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("graceful shutdown failed", "error", err)
	}
}

const shutdownTimeout = 10 * time.Second

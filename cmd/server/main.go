// Command server runs the aggregation server: it ingests batches uploaded
// by agents, serves the dashboard query API, and replicates ingested
// events to a backup store.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/metrics"
	"github.com/R3E-Network/service_layer/infrastructure/middleware"
	"github.com/R3E-Network/service_layer/internal/server/backup"
	"github.com/R3E-Network/service_layer/internal/server/ingestion"
	"github.com/R3E-Network/service_layer/internal/server/query"
	"github.com/R3E-Network/service_layer/internal/server/store"
	"github.com/R3E-Network/service_layer/pkg/config"
	"github.com/R3E-Network/service_layer/pkg/version"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("load server config: %v", err)
	}

	svcLog := logging.New("server", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Init("server")

	st := store.New()

	backupDispatcher, err := backup.NewDispatcher(backup.Config{
		Enabled:       cfg.Backup.Enabled,
		Endpoint:      cfg.Backup.Endpoint,
		ApiKey:        cfg.Backup.ApiKey,
		ChunkSize:     cfg.Backup.ChunkSize,
		QueueCapacity: cfg.Backup.QueueCapacity,
	}, svcLog)
	if err != nil {
		log.Fatalf("configure backup dispatcher: %v", err)
	}

	ingestSvc := ingestion.NewService(ingestion.Config{
		SharedSecret:          cfg.Security.SharedSecret,
		IngestRateLimitPerMin: cfg.Security.IngestRateLimitPerMin,
		IngestBurstSize:       cfg.Security.IngestBurstSize,
	}, st, backupDispatcher, svcLog)

	querySvc := query.NewService(st, svcLog)

	health := middleware.NewHealthChecker(version.Version)
	health.RegisterCheck("store", func() error { return nil })

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(svcLog))
	router.Use(middleware.MetricsMiddleware("server", m))
	router.Use(middleware.NewRecoveryMiddleware(svcLog).Handler)
	router.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(1 << 20).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	router.Use(middleware.NewRateLimiter(50, 100, svcLog).Handler)

	router.HandleFunc("/api/logs/ingest", ingestSvc.Handler()).Methods(http.MethodPost)

	dashboard := router.PathPrefix("/api/dashboard").Subrouter()
	dashboard.HandleFunc("/summary", querySvc.Summary).Methods(http.MethodGet)
	dashboard.HandleFunc("/devices", querySvc.Devices).Methods(http.MethodGet)
	dashboard.HandleFunc("/alerts", querySvc.Alerts).Methods(http.MethodGet)
	dashboard.HandleFunc("/file-events", querySvc.FileEvents).Methods(http.MethodGet)
	dashboard.HandleFunc("/network-events", querySvc.NetworkEvents).Methods(http.MethodGet)
	dashboard.HandleFunc("/app-usage", querySvc.AppUsage).Methods(http.MethodGet)
	dashboard.HandleFunc("/transfers", querySvc.Transfers).Methods(http.MethodGet)
	dashboard.HandleFunc("/top-talkers", querySvc.TopTalkers).Methods(http.MethodGet)
	dashboard.HandleFunc("/top-processes", querySvc.TopProcesses).Methods(http.MethodGet)
	dashboard.HandleFunc("/top-apps", querySvc.TopApps).Methods(http.MethodGet)

	router.Handle("/health", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz/live", middleware.LivenessHandler()).Methods(http.MethodGet)
	if metrics.Enabled() {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	backupCtx, cancelBackup := context.WithCancel(context.Background())
	go backupDispatcher.Run(backupCtx)

	go func() {
		log.Printf("aggregation server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	cancelBackup()
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/rmarchant/sheetscan/internal/config"
	"github.com/rmarchant/sheetscan/internal/convertapi"
	"github.com/rmarchant/sheetscan/internal/hostapi"
	"github.com/rmarchant/sheetscan/internal/render"
	"github.com/rmarchant/sheetscan/internal/storage"
	"github.com/rmarchant/sheetscan/internal/store"
	"github.com/rmarchant/sheetscan/internal/telemetry"
	"github.com/rmarchant/sheetscan/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "sheetscan-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := render.Startup(); err != nil {
		logger.Fatalf("renderer startup failed: %v", err)
	}
	defer render.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}

	bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Printf("ensure bucket failed: %v", err)
	}
	cancelBucket()

	sessionStore := buildSessionStore(logger, cfg.Database.DSN)

	uploader := hostapi.NewClient(hostapi.Config{
		Endpoint: cfg.Upload.Endpoint,
		Timeout:  cfg.Upload.Timeout,
	})
	converter := convertapi.NewClient(convertapi.Config{
		Endpoint: cfg.Convert.Endpoint,
		Token:    cfg.Convert.Token,
		Metadata: convertapi.Metadata{
			EntityType:   cfg.Convert.EntityType,
			EntityID:     cfg.Convert.EntityID,
			ClassID:      cfg.Convert.ClassID,
			SchoolID:     cfg.Convert.SchoolID,
			AcademicYear: cfg.Convert.AcademicYear,
		},
		Timeout: cfg.Convert.Timeout,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, storageClient, uploader, converter, sessionStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		metricsServer := &http.Server{
			Addr:         cfg.Worker.MetricsAddr,
			Handler:      srv.MetricsHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_submits=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveSubmits,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func buildSessionStore(logger *log.Logger, dsn string) store.SessionStore {
	if dsn == "" {
		logger.Printf("using in-memory session store; api and worker will not share state")
		return store.NewMemorySessionStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresSessionStore(ctx, dsn)
	if err != nil {
		logger.Fatalf("postgres session store failed: %v", err)
	}
	return pg
}

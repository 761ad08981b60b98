package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatdb/chatdb/internal/api"
	"github.com/chatdb/chatdb/internal/audit"
	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/config"
	"github.com/chatdb/chatdb/internal/llm"
	"github.com/chatdb/chatdb/internal/nl2sql"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/pipeline"
	"github.com/chatdb/chatdb/internal/schema"
	s3store "github.com/chatdb/chatdb/internal/storage/s3"
	"github.com/chatdb/chatdb/internal/store"
	"github.com/chatdb/chatdb/internal/summarize"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("chatdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := store.Open(context.Background(), store.DBConfig{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	executor := store.NewExecutor(db)

	if cfg.LLM.APIKey == "" {
		logger.Warn("model api key is not configured; questions will fail until it is set")
	}
	model, err := llm.NewCompleter(llm.Config{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	descriptor := schema.Medical()
	translator, err := nl2sql.NewModelTranslator(model, descriptor)
	if err != nil {
		logger.Error("failed to initialize translator", slog.Any("error", err))
		os.Exit(1)
	}
	summarizer, err := summarize.NewModelSummarizer(model)
	if err != nil {
		logger.Error("failed to initialize summarizer", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{executor.HealthCheck, api.CheckModelCredential(cfg)}
	options := pipeline.Options{Logger: logger, Timeout: cfg.Pipeline.Timeout}

	var archiver *audit.Archiver
	if cfg.Audit.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver, err = audit.NewArchiver(objectStore, audit.Config{
			Service:       cfg.Service.Name,
			FlushInterval: cfg.Audit.FlushInterval,
			MaxBatch:      cfg.Audit.MaxBatch,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize audit archiver", slog.Any("error", err))
			os.Exit(1)
		}
		options.Recorder = archiver
		readiness = append(readiness, api.CheckObjectStoreConfig(cfg), objectStore.Ping)
	}

	orchestrator, err := pipeline.New(translator, executor, summarizer, options)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Pipeline:          orchestrator,
		Previewer:         executor,
		PreviewTables:     descriptor.TableNames(),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archiverCtx, stopArchiver := context.WithCancel(context.Background())
	defer stopArchiver()
	archiverDone := make(chan error, 1)
	if archiver != nil {
		go func() { archiverDone <- archiver.Run(archiverCtx) }()
	} else {
		archiverDone <- nil
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store_driver", cfg.Store.Driver),
			slog.String("model_provider", model.Name()),
			slog.Bool("audit_enabled", cfg.Audit.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	shutdownErr := server.Shutdown(shutdownCtx)
	stopArchiver()
	if err := <-archiverDone; err != nil {
		logger.Error("audit archiver stopped with unflushed records", slog.Any("error", err))
	}
	if shutdownErr != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", shutdownErr))
		_ = server.Close()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/api"
	"github.com/thyroid-rag-server/internal/audit"
	"github.com/thyroid-rag-server/internal/config"
	"github.com/thyroid-rag-server/internal/database"
	"github.com/thyroid-rag-server/internal/domain"
	"github.com/thyroid-rag-server/internal/knowledge"
	"github.com/thyroid-rag-server/internal/service"
	"github.com/thyroid-rag-server/pkg/external"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting thyroid RAG server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model backends behind circuit breakers, with the optional cache.
	var cache *external.EmbeddingCache
	if cfg.Cache.Enabled {
		cache, err = external.NewEmbeddingCache(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Warn("Embedding cache unavailable, continuing without it")
			cache = nil
		}
	}
	backends := external.NewResilientBackendClient(cfg.Backends.Embedding, cfg.Backends.Generative, cache, logger)

	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)

	var store domain.KnowledgeStore
	var db *database.DB
	switch cfg.Knowledge.Driver {
	case "postgres":
		db, err = database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		runner.Close()

		store, err = knowledge.NewPostgresStore(ctx, db.Pool, backends, chunker, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open knowledge store")
		}
	default:
		store, err = knowledge.NewSQLiteStore(cfg.Knowledge.SQLitePath, backends, chunker, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open knowledge store")
		}
	}
	defer store.Close()

	var auditStore audit.Store
	if cfg.Audit.Enabled {
		switch cfg.Audit.Driver {
		case "postgres":
			auditStore, err = audit.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
		default:
			auditStore, err = audit.NewSQLiteStore(cfg.Audit.SQLitePath)
		}
		if err != nil {
			logger.WithError(err).Fatal("Failed to open audit store")
		}
		defer auditStore.Close()
	}

	references := domain.NewReferenceTable(domain.DefaultReferenceRanges())
	normalizer := service.NewNormalizer(references, cfg.Engine.CriticalMultiple, logger)
	retriever := service.NewRetriever(store, cfg.Engine.TopK, logger)
	synthesizer := service.NewSynthesizer(backends, cfg.Engine.MaxContextChunks, logger)
	recommender := service.NewRecommender()
	guard := service.NewConsistencyGuard(synthesizer, recommender, cfg.Engine.RetryBudget, logger)
	engine := service.NewEngine(normalizer, retriever, guard, store, auditStore, references, logger)

	server := api.NewServer(configManager, engine, references, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

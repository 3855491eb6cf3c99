// Command ingest loads literature documents into the knowledge store. It
// walks a directory of Markdown or plain-text files and ingests each file as
// one document, using the file name as the document id so re-runs replace
// rather than duplicate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/config"
	"github.com/thyroid-rag-server/internal/database"
	"github.com/thyroid-rag-server/internal/domain"
	"github.com/thyroid-rag-server/internal/knowledge"
	"github.com/thyroid-rag-server/pkg/external"
)

func main() {
	dir := flag.String("dir", "", "directory of .md/.txt documents to ingest")
	file := flag.String("file", "", "single document to ingest")
	flag.Parse()

	if *dir == "" && *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -dir <directory> | -file <path>")
		os.Exit(2)
	}

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()

	var cache *external.EmbeddingCache
	if cfg.Cache.Enabled {
		if cache, err = external.NewEmbeddingCache(cfg.Cache, logger); err != nil {
			logger.WithError(err).Warn("Embedding cache unavailable, continuing without it")
			cache = nil
		}
	}
	backends := external.NewResilientBackendClient(cfg.Backends.Embedding, cfg.Backends.Generative, cache, logger)
	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)

	var store domain.KnowledgeStore
	if cfg.Knowledge.Driver == "postgres" {
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()
		store, err = knowledge.NewPostgresStore(ctx, db.Pool, backends, chunker, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open knowledge store")
		}
	} else {
		store, err = knowledge.NewSQLiteStore(cfg.Knowledge.SQLitePath, backends, chunker, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open knowledge store")
		}
	}
	defer store.Close()

	var paths []string
	if *file != "" {
		paths = append(paths, *file)
	}
	if *dir != "" {
		found, err := collectDocuments(*dir)
		if err != nil {
			logger.WithError(err).Fatal("Failed to scan directory")
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		logger.Fatal("No documents found to ingest")
	}

	var failed int
	for _, path := range paths {
		if err := ingestFile(ctx, store, path, logger); err != nil {
			logger.WithError(err).WithField("path", path).Error("Ingestion failed")
			failed++
		}
	}

	total, err := store.Count(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not count corpus chunks")
	}
	logger.WithFields(logrus.Fields{
		"documents":     len(paths) - failed,
		"failed":        failed,
		"corpus_chunks": total,
	}).Info("Ingestion run complete")

	if failed > 0 {
		os.Exit(1)
	}
}

func collectDocuments(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func ingestFile(ctx context.Context, store domain.KnowledgeStore, path string, logger *logrus.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))

	doc := domain.Document{
		ID:    base,
		Title: title,
		Text:  string(data),
	}
	chunkIDs, err := store.Ingest(ctx, doc)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"chunks":      len(chunkIDs),
	}).Info("Document ingested")
	return nil
}

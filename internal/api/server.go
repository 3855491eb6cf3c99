// Package api exposes the diagnosis engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thyroid-rag-server/internal/domain"
	"github.com/thyroid-rag-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	engine        *service.Engine
	references    *domain.ReferenceTable
	router        *gin.Engine
	server        *http.Server
	logger        *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, engine *service.Engine, references *domain.ReferenceTable, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	server := &Server{
		configManager: configManager,
		engine:        engine,
		references:    references,
		router:        router,
		logger:        logger,
	}

	server.setupRoutes()
	return server
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/diagnose", s.handleDiagnose)
		v1.POST("/documents", s.handleIngestDocument)
		v1.DELETE("/documents/:id", s.handleDeleteDocument)
		v1.GET("/reference-ranges", s.handleReferenceRanges)
		v1.GET("/reports/:request_id", s.handleGetReport)
		v1.GET("/reports", s.handleListReports)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	chunks, err := s.engine.CorpusSize(c.Request.Context())
	status := "healthy"
	if err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"corpus_chunks": chunks,
		"timestamp":     time.Now().UTC(),
	})
}

// diagnoseRequest is the wire format for a diagnosis request.
type diagnoseRequest struct {
	LabResults map[string]struct {
		Value float64 `json:"value"`
		Unit  string  `json:"unit,omitempty"`
	} `json:"lab_results" binding:"required"`
	Symptoms []string `json:"symptoms,omitempty"`
	Format   string   `json:"format,omitempty"` // "json" (default) or "markdown"
}

func (s *Server) handleDiagnose(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	panel := make(domain.LabPanel, len(req.LabResults))
	for analyte, m := range req.LabResults {
		panel[analyte] = domain.Measurement{Value: m.Value, Unit: m.Unit}
	}

	report, err := s.engine.Diagnose(c.Request.Context(), panel, req.Symptoms)
	if err != nil {
		if domain.IsInputError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.WithError(err).Error("Diagnosis failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "diagnosis unavailable"})
		return
	}

	if req.Format == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8",
			[]byte(service.RenderMarkdown(report, panel, s.references)))
		return
	}
	c.JSON(http.StatusOK, report)
}

// ingestRequest is the wire format for document ingestion.
type ingestRequest struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Text     string            `json:"text" binding:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngestDocument(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	doc := domain.Document{
		ID:       req.ID,
		Title:    req.Title,
		Text:     req.Text,
		Metadata: req.Metadata,
	}

	id, err := s.engine.IngestDocument(c.Request.Context(), doc)
	if err != nil {
		if domain.IsInputError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.WithError(err).Error("Document ingestion failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "ingestion unavailable"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"document_id": id})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.DeleteDocument(c.Request.Context(), id); err != nil {
		s.logger.WithError(err).WithField("document_id", id).Error("Document deletion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deletion failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "deleted": true})
}

func (s *Server) handleReferenceRanges(c *gin.Context) {
	ranges := s.engine.ReferenceRanges()
	out := make([]gin.H, 0, len(ranges))
	for _, r := range ranges {
		entry := gin.H{
			"analyte": r.Analyte,
			"unit":    r.Unit,
			"upper":   r.Upper,
			"display": r.Display(),
		}
		if r.Lower != nil {
			entry["lower"] = *r.Lower
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"ranges": out})
}

func (s *Server) handleGetReport(c *gin.Context) {
	store := s.engine.AuditStore()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	rec, err := store.Get(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		s.logger.WithError(err).Error("Audit lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListReports(c *gin.Context) {
	store := s.engine.AuditStore()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := store.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Audit list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit list failed"})
		return
	}
	total, err := store.Count(c.Request.Context())
	if err != nil {
		total = int64(len(records))
	}
	c.JSON(http.StatusOK, gin.H{"reports": records, "total": total})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

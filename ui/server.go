package ui

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"stratatest/app"
	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/internal/report"
	"stratatest/ports"
)

// Server exposes the analysis service over HTTP: trigger a run, list and
// fetch stored runs, and render a run report as HTML.
type Server struct {
	router  *gin.Engine
	service *app.AnalysisService
	reader  ports.DatasetReaderPort
	cfg     permtest.Config
}

// NewServer creates a new web server instance
func NewServer(service *app.AnalysisService, reader ports.DatasetReaderPort, cfg permtest.Config) *Server {
	s := &Server{
		router:  gin.Default(),
		service: service,
		reader:  reader,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/api/analyze", s.handleAnalyze)
	s.router.GET("/api/runs", s.handleListRuns)
	s.router.GET("/api/runs/:id", s.handleGetRun)

	s.router.GET("/report/:id", s.handleReport)
}

// Start starts the web server
func (s *Server) Start(addr string) error {
	log.Printf("Starting StrataTest UI on http://%s", addr)
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// analyzeRequest carries the per-request overrides of the configured run
// parameters. Zero values fall back to the server's config.
type analyzeRequest struct {
	NumReplicates int   `json:"num_replicates"`
	SampleSize    int   `json:"sample_size"`
	Seed          int64 `json:"seed"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cfg := s.cfg
	if req.NumReplicates > 0 {
		cfg.NumReplicates = req.NumReplicates
	}
	if req.SampleSize > 0 {
		cfg.SampleSize = req.SampleSize
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	ds, err := s.reader.ReadDataset(ctx)
	if err != nil {
		log.Printf("[Server] Dataset load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := s.service.RunAnalysis(ctx, ds, cfg)
	if err != nil {
		log.Printf("[Server] Analysis failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRuns(c *gin.Context) {
	manifests, err := s.service.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": manifests})
}

func (s *Server) handleGetRun(c *gin.Context) {
	result, err := s.loadRun(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleReport renders the markdown run report as a standalone HTML page.
func (s *Server) handleReport(c *gin.Context) {
	result, err := s.loadRun(c)
	if err != nil {
		return
	}

	md := report.Markdown(result)
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.CompletePage})
	html := markdown.ToHTML([]byte(md), p, renderer)

	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// loadRun resolves the :id path parameter and writes the error response
// itself on failure, returning a non-nil error as the signal to stop.
func (s *Server) loadRun(c *gin.Context) (*permtest.RunResult, error) {
	id := core.RunID(c.Param("id"))
	result, err := s.service.GetRun(c.Request.Context(), id)
	if err != nil {
		if core.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, err
	}
	return result, nil
}

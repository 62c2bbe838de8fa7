// Package httpapi exposes the memory bank tools over HTTP with gin.
// Request and response bodies are the tool request and result structs; the
// HTTP status mirrors the result's error kind.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/rcliao/memory-bank/internal/tools"
)

// Server routes HTTP requests to a Toolset.
type Server struct {
	tools *tools.Toolset
	log   *log.Logger
}

// NewServer returns a Server over ts.
func NewServer(ts *tools.Toolset, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{tools: ts, log: logger.WithPrefix("http")}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/stats", s.stats)

	blocks := r.Group("/blocks")
	blocks.POST("", s.createBlock)
	blocks.GET("", s.blocksByTags)
	blocks.POST("/search", s.searchBlocks)
	blocks.GET("/:id", s.getBlock)
	blocks.PATCH("/:id", s.updateBlock)
	blocks.DELETE("/:id", s.deleteBlock)
	blocks.POST("/:id/validation", s.addValidationReport)
	blocks.POST("/:id/links", s.addLink)
	blocks.DELETE("/:id/links", s.removeLink)
	blocks.GET("/:id/backlinks", s.backlinks)

	schemas := r.Group("/schemas")
	schemas.GET("", s.listSchemas)
	schemas.POST("", s.registerSchema)
	schemas.GET("/:type", s.getSchema)
	schemas.GET("/:type/:version", s.getSchema)

	r.POST("/validate", s.validateMetadata)
	r.POST("/reindex", s.reindex)
	r.POST("/context", s.buildContext)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start))
	}
}

// statusFor maps a result's error kind onto an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case "validation", "constraint", "patch", "patch_unsupported":
		return http.StatusUnprocessableEntity
	case "patch_size":
		return http.StatusRequestEntityTooLarge
	case "not_found", "unknown_type":
		return http.StatusNotFound
	case "version_mismatch", "schema_registry", "no_model_registered":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type result interface {
	OK() bool
	Kind() string
}

// respond writes res, with okStatus on success and the status derived from
// its error kind otherwise.
func respond(c *gin.Context, okStatus int, res result) {
	if res.OK() {
		c.JSON(okStatus, res)
		return
	}
	c.JSON(statusFor(res.Kind()), res)
}

// bind decodes the JSON body into req. An empty body leaves req untouched.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, tools.Result{
			Error:     "validation: malformed request body: " + err.Error(),
			ErrorKind: "validation",
		})
		return false
	}
	return true
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}

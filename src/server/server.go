// Package server exposes the registered collections over a REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"syndrodm/src/auth"
	"syndrodm/src/engine"
	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"
	"syndrodm/src/settings"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Server is the HTTP front of an engine.
type Server struct {
	Host string
	Port int

	engine     *engine.Engine
	users      *auth.Store
	config     settings.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	mu         sync.Mutex
	running    bool
	logger     *zap.SugaredLogger
}

// NewServer builds the router. users may be nil when authentication is
// disabled.
func NewServer(eng *engine.Engine, config settings.ServerConfig, users *auth.Store, logger *zap.SugaredLogger) *Server {
	logger = helpers.OrNop(logger)
	if config.Remap == nil {
		config.Remap = settings.DefaultRemap()
	}
	s := &Server{
		Host:   config.Host,
		Port:   config.Port,
		engine: eng,
		users:  users,
		config: config,
		logger: logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger.Desugar(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger.Desugar(), true))
	if s.config.Gzip {
		router.Use(gzip.Gzip(gzip.DefaultCompression))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	if s.config.Auth.Enabled {
		api.Use(s.basicAuth())
	}
	{
		api.GET("/:collection", s.listHandler)
		api.GET("/:collection/count", s.countHandler)
		api.GET("/:collection/:id", s.getHandler)
		api.POST("/:collection", s.createHandler)
		api.PATCH("/:collection/:id", s.updateHandler)
		api.DELETE("/:collection/:id", s.deleteHandler)
	}
	return router
}

// Start begins listening in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.running = true

	go func() {
		s.logger.Infow("REST server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("REST server stopped", "error", err)
		}
	}()
	return nil
}

// Stop drains open requests and closes the engine.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("error stopping server: %w", err)
	}
	if err := s.engine.Close(ctx); err != nil {
		s.logger.Warnw("error closing engine", "error", err)
	}
	s.logger.Info("Server shutdown complete")
	_ = s.logger.Sync()
	return nil
}

func (s *Server) basicAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, ok := c.Request.BasicAuth()
		if !ok || s.users == nil || !s.users.Verify(user, password) {
			c.Header("WWW-Authenticate", `Basic realm="syndrodm"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			s.logger.Infow("unauthorized request", "user", user, "path", c.Request.URL.Path)
			return
		}
		c.Set(gin.AuthUserKey, user)
		c.Next()
	}
}

// descriptor translates the query string of a request into a descriptor
// mapping. Remapped parameters become directives, q holds a JSON filter and
// every other parameter is an equality filter on that path.
func (s *Server) descriptor(c *gin.Context) (map[string]interface{}, error) {
	m := map[string]interface{}{engine.KeyCollection: c.Param("collection")}
	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		var val interface{} = values[0]
		if len(values) > 1 {
			list := make([]interface{}, len(values))
			for i, v := range values {
				list[i] = v
			}
			val = list
		}

		if directive, ok := s.config.Remap[key]; ok {
			m[directive] = val
			continue
		}
		if key == "q" {
			var filter map[string]interface{}
			if err := json.Unmarshal([]byte(values[0]), &filter); err != nil {
				return nil, odmerr.New(odmerr.KindMalformedDescriptor, "query", c.Param("collection"), "", "q: %v", err)
			}
			for k, v := range filter {
				m[k] = v
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return nil, odmerr.New(odmerr.KindMalformedDescriptor, "query", c.Param("collection"), "", "parameter %s is not allowed", key)
		}
		m[key] = val
	}
	return m, nil
}

func (s *Server) listHandler(c *gin.Context) {
	m, err := s.descriptor(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.runQuery(c, m)
}

func (s *Server) countHandler(c *gin.Context) {
	m, err := s.descriptor(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	m[engine.KeyCount] = true
	s.runQuery(c, m)
}

func (s *Server) getHandler(c *gin.Context) {
	m, err := s.descriptor(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	m[engine.KeyID] = c.Param("id")
	s.runQuery(c, m)
}

func (s *Server) runQuery(c *gin.Context, m map[string]interface{}) {
	res, err := s.engine.QueryMap(c.Request.Context(), m)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if res.Kind == engine.ResultCount {
		c.JSON(http.StatusOK, gin.H{"count": res.Count})
		return
	}
	c.JSON(http.StatusOK, res.Value())
}

func (s *Server) createHandler(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	doc, err := s.engine.Create(c.Request.Context(), c.Param("collection"), body)
	if err != nil && !odmerr.IsCommitted(err) {
		s.writeError(c, err)
		return
	}
	s.warnCommitted(c, err)
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) updateHandler(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	doc, err := s.engine.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), body)
	if err != nil && !odmerr.IsCommitted(err) {
		s.writeError(c, err)
		return
	}
	s.warnCommitted(c, err)
	c.JSON(http.StatusOK, doc)
}

func (s *Server) deleteHandler(c *gin.Context) {
	doc, err := s.engine.Delete(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil && !odmerr.IsCommitted(err) {
		s.writeError(c, err)
		return
	}
	s.warnCommitted(c, err)
	c.JSON(http.StatusOK, doc)
}

// warnCommitted reports a post hook failure of a write that was applied.
func (s *Server) warnCommitted(c *gin.Context, err error) {
	if err == nil {
		return
	}
	s.logger.Warnw("post hook failed after write", "path", c.Request.URL.Path, "error", err)
	c.Header("X-Hook-Error", err.Error())
}

func readBody(c *gin.Context) (bson.M, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, odmerr.New(odmerr.KindValidation, "decode", c.Param("collection"), "", "body: %v", err)
	}
	return bson.M(body), nil
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch odmerr.KindOf(err) {
	case odmerr.KindNotFound, odmerr.KindInvalidCollection:
		return http.StatusNotFound
	case odmerr.KindValidation, odmerr.KindMalformedDescriptor, odmerr.KindPopulate, odmerr.KindHookAborted:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": odmerr.KindOf(err).String()}
	var oe *odmerr.Error
	if errors.As(err, &oe) && oe.Path != "" {
		body["path"] = oe.Path
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorw("Internal server error", "path", c.Request.URL.Path, "error", err)
		body = gin.H{"error": "internal server error"}
	}
	c.AbortWithStatusJSON(status, body)
}

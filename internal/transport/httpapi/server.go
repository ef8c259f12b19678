// Package httpapi is the management surface: status reads, start/stop and
// risk-reset controls, config inspection and reload, plus Prometheus
// metrics. Everything except /health and /metrics sits behind bearer auth.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"keel/internal/config"
	"keel/internal/logger"
	"keel/internal/manager"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig wires the server's collaborators. Reload re-reads the config
// source of record; it is optional, as is Journal.
type ServerConfig struct {
	Addr      string
	AuthToken string
	Manager   *manager.TradingManager
	Reload    func() (*config.Config, error)
	Journal   fillLister
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("httpapi: manager is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.AuthToken == "" {
		logger.Warnf("management API auth token is empty, all endpoints are open")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(newFleetCollector(cfg.Manager))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	h := &handlers{mgr: cfg.Manager, reload: cfg.Reload, journal: cfg.Journal}
	api := router.Group("/", bearerAuth(cfg.AuthToken))
	h.register(api)

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("Authorization")
		if !strings.HasPrefix(got, "Bearer ") || strings.TrimPrefix(got, "Bearer ") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Package traderhttp exposes the bot's runtime state over a minimal HTTP API.
package traderhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"finch/internal/account"
	"finch/internal/backtest"
	"finch/internal/logger"
	"finch/internal/records"
	"finch/internal/terminal"

	"github.com/gin-gonic/gin"
)

// ServerConfig wires the server's read-only views into the running bot.
// Nil fields disable their endpoints.
type ServerConfig struct {
	Addr       string
	Gateway    *terminal.Gateway
	Account    *account.Account
	Records    records.Store
	Strategies []string
	Runs       *backtest.RunStore
	ReportDir  string
}

type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9881"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", statusHandler(cfg))
	if cfg.Gateway != nil {
		api.GET("/positions", positionsHandler(cfg.Gateway))
	}
	if cfg.Records != nil {
		api.GET("/records", recordsHandler(cfg))
	}
	if cfg.Runs != nil {
		api.GET("/backtest/runs", runsHandler(cfg.Runs))
		api.GET("/backtest/runs/:id", runHandler(cfg.Runs))
	}
	if cfg.ReportDir != "" {
		router.Static("/reports", cfg.ReportDir)
	}
	return &Server{addr: cfg.Addr, router: router}
}

func statusHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{
			"status":     "running",
			"strategies": cfg.Strategies,
			"time":       time.Now().UTC().Format(time.RFC3339),
		}
		if cfg.Account != nil {
			if err := cfg.Account.Refresh(c.Request.Context()); err != nil {
				logger.Warnf("status: account refresh failed: %v", err)
			}
			out["account"] = cfg.Account.Info()
		}
		c.JSON(http.StatusOK, out)
	}
}

func positionsHandler(gw *terminal.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := terminal.PositionFilter{Symbol: c.Query("symbol")}
		positions, err := gw.PositionsGet(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
	}
}

func recordsHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		strategy := c.Query("strategy")
		if strategy == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "strategy query parameter required"})
			return
		}
		results, err := cfg.Records.All(c.Request.Context(), strategy)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
	}
}

func runsHandler(runs *backtest.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := runs.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": list, "count": len(list)})
	}
}

func runHandler(runs *backtest.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := runs.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("http server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Package api serves the latest snapshot, its history and Prometheus
// metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/netliquidity/internal/logger"
	"github.com/rewired-gh/netliquidity/internal/models"
)

// SnapshotSource returns the latest published snapshot, or nil.
type SnapshotSource interface {
	Latest() *models.Snapshot
}

// HistorySource returns stored net-liquidity readings, oldest first.
type HistorySource interface {
	History(limit int) ([]models.HistoryPoint, error)
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	listen string
}

// NewServer builds the router. gatherer backs /metrics.
func NewServer(listen string, snaps SnapshotSource, history HistorySource, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}

	e.Use(middleware.Recover())
	e.Use(requestLogging())

	h := &Handler{snaps: snaps, history: history}
	h.RegisterRoutes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{echo: e, listen: listen}
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		logger.Info("HTTP server listening on %s", s.listen)
		if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Debug("%s %s %d %v", c.Request().Method, c.Request().URL.Path,
				c.Response().Status, time.Since(start))
			return nil
		}
	}
}

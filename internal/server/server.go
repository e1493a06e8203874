// Package server exposes health, status and metrics endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/models"
	"github.com/rewired-gh/polytipster/internal/monitor"
)

// AlertReader reads the alert audit log.
type AlertReader interface {
	RecentAlerts(limit int) ([]models.SentAlert, error)
	CountAlertsSince(since time.Time) (int, error)
}

// Server serves the HTTP surface. It only reads monitor status snapshots.
type Server struct {
	addr   string
	status func() monitor.Status
	alerts AlertReader
	router *gin.Engine
}

// New creates a server. alerts may be nil.
func New(addr string, status func() monitor.Status, alerts AlertReader) *Server {
	s := &Server{addr: addr, status: status, alerts: alerts}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", s.health)
	r.GET("/status", s.getStatus)
	r.GET("/alerts", s.getAlerts)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "Polymarket tipster is running!")
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.status()
	resp := gin.H{
		"status":              "running",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"scanner_enabled":     st.ScannerEnabled,
		"smart_money_enabled": st.SmartMoneyEnabled,
		"monitor":             st,
	}
	if s.alerts != nil {
		n, err := s.alerts.CountAlertsSince(time.Now().Add(-24 * time.Hour))
		if err != nil {
			logger.Warn("Failed to count alerts: %v", err)
		} else {
			resp["alerts_last_24h"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert log disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	alerts, err := s.alerts.RecentAlerts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

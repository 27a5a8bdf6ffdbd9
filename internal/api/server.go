// Package api exposes the alert monitor over a local HTTP control API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"stockalert/internal/config"
	apperrors "stockalert/internal/errors"
	"stockalert/internal/logging"
	"stockalert/internal/metrics"
	"stockalert/internal/models"
	"stockalert/internal/monitor"
	"stockalert/internal/resilience"
	"stockalert/internal/store"
)

// Server wires HTTP endpoints around the monitor.
type Server struct {
	Router  *gin.Engine
	monitor *monitor.Monitor
	journal store.Journal
	hub     *Hub
	logger  zerolog.Logger
	http    *http.Server
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Journal  store.Journal
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg config.ServerConfig, mon *monitor.Monitor, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger := logging.WithComponent(opts.Logger, "api")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, opts.Metrics))
	if cfg.RequestsPerSec > 0 && cfg.Burst > 0 {
		r.Use(RateLimitMiddleware(cfg.RequestsPerSec, cfg.Burst))
	}
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))

	s := &Server{
		Router:  r,
		monitor: mon,
		journal: opts.Journal,
		hub:     NewHub(),
		logger:  logger,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.routes(gatherer, cfg.JWTSecret)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer, jwtSecret string) {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.Router.Group("/api/v1")
	if jwtSecret != "" {
		v1.Use(AuthMiddleware(jwtSecret))
	}
	{
		v1.GET("/alerts", s.listAlerts)
		v1.DELETE("/alerts", s.clearAlerts)
		v1.PUT("/alerts/:kind/:id", s.armAlert)
		v1.DELETE("/alerts/:kind/:id", s.removeAlert)

		v1.GET("/observations/:kind", s.listObservations)
		v1.POST("/cycles", s.runCycle)
		v1.GET("/history", s.history)
		v1.GET("/stream", s.stream)
	}
}

// Start listens in the background. Listener errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("Control API listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control API stopped")
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones. Open
// streams are closed first since Shutdown does not wait for hijacked
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// health reports 503 once a feed has failed enough consecutive fetches to be
// unhealthy. Stale feeds are reported as DEGRADED with a 200.
func (s *Server) health(c *gin.Context) {
	stats := s.monitor.Registry().Stats()
	body := gin.H{
		"status": "ok",
		"alerts": stats.Total,
		"observations": gin.H{
			string(models.KindStock):    s.monitor.Store().Len(models.KindStock),
			string(models.KindCurrency): s.monitor.Store().Len(models.KindCurrency),
		},
	}

	code := http.StatusOK
	if hm := s.monitor.Health(); hm != nil {
		h := hm.GetHealth()
		body["status"] = h.Status
		body["feeds"] = h.Components
		body["uptime"] = h.Uptime.String()
		if h.Status == resilience.HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, body)
}

func (s *Server) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alerts": s.monitor.Registry().List(),
		"stats":  s.monitor.Registry().Stats(),
	})
}

type armRequest struct {
	Threshold interface{} `json:"threshold"`
}

func (s *Server) armAlert(c *gin.Context) {
	var req armRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var input string
	switch v := req.Threshold.(type) {
	case string:
		input = v
	case float64:
		input = strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		input = ""
	default:
		input = fmt.Sprint(v)
	}

	alert, err := s.monitor.Arm(c.Param("kind"), c.Param("id"), input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) removeAlert(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.monitor.Remove(models.NewKey(kind, c.Param("id")))
	c.Status(http.StatusNoContent)
}

func (s *Server) clearAlerts(c *gin.Context) {
	s.monitor.ClearAll()
	c.Status(http.StatusNoContent)
}

func (s *Server) listObservations(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":         kind,
		"observations": s.monitor.Store().Search(kind, c.Query("q")),
	})
}

// runCycle detaches from the request: the cycle may queue behind a scheduled
// one past the request timeout, and a client hanging up must not cancel
// delivery of alerts the cycle already marked.
func (s *Server) runCycle(c *gin.Context) {
	result := s.monitor.RunCycle(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, result)
}

func (s *Server) history(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger history is disabled"})
		return
	}

	filter := store.TriggerFilter{ID: c.Query("id"), Limit: 50}
	if k := c.Query("kind"); k != "" {
		kind, err := models.ParseKind(k)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Kind = kind
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	records, err := s.journal.GetTriggers(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read trigger history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": records})
}

func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrUnknownKind):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrInvalidThreshold),
		apperrors.Is(err, apperrors.ErrInputValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

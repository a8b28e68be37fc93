package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/config"
	"cnpj-relay-go/internal/handler/retention"
	"cnpj-relay-go/internal/relay"
	"cnpj-relay-go/internal/repository"
	"cnpj-relay-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	relay           *relay.Service
	repo            *repository.Repository
	resolver        relay.IdentityResolver
	scheduler       *scheduler.Scheduler
	retentionCfg    config.RetentionConfig
	gatherer        prometheus.Gatherer
	maxBodyBytes    int64
}

// DefaultMaxBodyBytes caps a raw request body before the payload guard
// measures its compact form.
const DefaultMaxBodyBytes int64 = 1 << 20

// NewHandlers creates new HTTP handlers
func NewHandlers(svc *relay.Service, repo *repository.Repository, resolver relay.IdentityResolver, sched *scheduler.Scheduler, retentionCfg config.RetentionConfig, gatherer prometheus.Gatherer, maxBodyBytes int64) *Handlers {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handlers{
		relay:           svc,
		repo:            repo,
		resolver:        resolver,
		scheduler:       sched,
		retentionCfg:    retentionCfg,
		gatherer:        gatherer,
		maxBodyBytes:    maxBodyBytes,
	}
}

// SetupRoutes sets up all HTTP routes. relayMiddleware runs in front of
// the webhook routes only.
func (h *Handlers) SetupRoutes(router *gin.Engine, relayMiddleware ...gin.HandlerFunc) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")

	webhooks := api.Group("/webhooks", relayMiddleware...)
	{
		webhooks.Any("/send", h.Send)
		webhooks.POST("/receive", h.Receive)
		webhooks.OPTIONS("/receive", h.Preflight)
	}

	user := api.Group("", h.RequireUser)
	{
		user.GET("/logs", h.GetLogs)
		user.GET("/logs/:id", h.GetLog)

		user.GET("/config", h.GetConfig)
		user.PUT("/config", h.UpdateConfig)

		user.GET("/retention", retention.Status(h.scheduler, h.retentionCfg.Days, h.retentionCfg.Schedule))
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Retention: make(map[string]string),
	}

	if err := h.repo.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		response.Retention["scheduler"] = "running"
		response.Retention["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		if last := h.scheduler.GetLastRun(); !last.IsZero() {
			response.Retention["last_run"] = last.Format(time.RFC3339)
		}
	} else {
		response.Retention["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

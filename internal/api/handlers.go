// Package api exposes the orchestrator's HTTP surface: the crawler
// coordination endpoints, user account and subscription management, and
// the operational endpoints (health, metrics, manual trigger).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/notify"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

const version = "1.0.0"

// Alerter runs the post-ingestion alerting pass.
type Alerter interface {
	Process(ctx context.Context, hashedDirs []string)
}

// Notifier delivers test messages for subscription settings validation.
type Notifier interface {
	SendTest(ctx context.Context, channel types.NotifyChannel, token string) notify.Result
}

// Trigger starts one scheduling cycle on demand.
type Trigger interface {
	RunOnce(ctx context.Context) (string, error)
}

// Archiver exports a finished job to cold storage. May be nil.
type Archiver interface {
	ExportJob(ctx context.Context, job *storage.JobRecord) error
}

// Options carries the handler's tunables.
type Options struct {
	AdminToken     string
	MaxSubsPerUser int
	SliceLease     time.Duration
}

// Handler handles HTTP API requests.
type Handler struct {
	store    *storage.Store
	auth     *auth.Auth
	alerts   Alerter
	notifier Notifier
	trigger  Trigger
	archiver Archiver
	clock    clockwork.Clock
	opts     Options
}

// NewHandler creates an API handler. trigger and archiver may be nil when
// the corresponding features are not configured.
func NewHandler(store *storage.Store, a *auth.Auth, alerts Alerter, notifier Notifier,
	trigger Trigger, archiver Archiver, clock clockwork.Clock, opts Options) *Handler {
	return &Handler{
		store:    store,
		auth:     a,
		alerts:   alerts,
		notifier: notifier,
		trigger:  trigger,
		archiver: archiver,
		clock:    clock,
		opts:     opts,
	}
}

// SetupRoutes configures the API routes.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/", h.Banner)
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/trigger", h.TriggerCycle)

	crawler := router.Group("/crawler")
	{
		crawler.POST("/claim", h.auth.RequireCrawler(auth.ScopeClaim), h.ClaimSlice)
		crawler.POST("/ingest", h.auth.RequireCrawler(auth.ScopeIngest), h.Ingest)
	}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/delete", h.auth.RequireUser(), h.DeleteAccount)
	}

	subs := router.Group("/subs", h.auth.RequireUser())
	{
		subs.GET("", h.ListSubscriptions)
		subs.POST("", h.CreateSubscription)
		subs.PUT("/:hashed_dir", h.UpdateSubscription)
		subs.DELETE("/:hashed_dir", h.DeleteSubscription)
		subs.POST("/test-notify", h.TestNotify)
	}

	router.GET("/series/:hashed_dir", h.auth.RequireUser(), h.Series)
}

// Banner identifies the service.
func (h *Handler) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "dormitricity-orchestrator",
		"version": version,
	})
}

// HealthCheck provides service health information.
func (h *Handler) HealthCheck(c *gin.Context) {
	response := types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version,
	}
	count, err := h.store.ActiveJobCount(c.Request.Context())
	if err != nil {
		response.Status = "degraded"
	}
	response.ActiveJobs = count
	c.JSON(http.StatusOK, response)
}

// TriggerCycle starts one scheduling cycle immediately. Guarded by the
// admin token; disabled entirely when no token is configured.
func (h *Handler) TriggerCycle(c *gin.Context) {
	if h.opts.AdminToken == "" || h.trigger == nil {
		c.JSON(http.StatusForbidden, types.ErrorResponse{Error: "TRIGGER_DISABLED"})
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+h.opts.AdminToken {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	jobID, err := h.trigger.RunOnce(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Manual trigger failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if jobID == "" {
		c.JSON(http.StatusOK, gin.H{"scheduled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": true, "job_id": jobID})
}

package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
	"job-alert-relay/internal/scheduler"
	"job-alert-relay/internal/store"
)

// RecordReader reads records from the source without delivering them
type RecordReader interface {
	Record(ctx context.Context, id string) (*model.Record, error)
	Pending(ctx context.Context, since time.Time) ([]model.Record, error)
	Preview(ctx context.Context, id string, ch model.ChannelID) (render.Formatted, error)
}

// ChannelLister reports the delivery channels
type ChannelLister interface {
	Channels() []model.ChannelID
	Configured() []model.ChannelID
}

// AuditReader reads the delivery audit log
type AuditReader interface {
	ListLogs(ctx context.Context, page, limit int) ([]model.DeliveryLog, int64, error)
	GetLog(ctx context.Context, id uint) (*model.DeliveryLog, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	scheduler *scheduler.Scheduler
	store     store.Store
	records   RecordReader
	channels  ChannelLister
	audit     AuditReader
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. audit may be nil when the database
// is disabled; gatherer may be nil to use the default registry.
func NewHandlers(sched *scheduler.Scheduler, st store.Store, records RecordReader, channels ChannelLister, audit AuditReader, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		scheduler: sched,
		store:     st,
		records:   records,
		channels:  channels,
		audit:     audit,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/scheduler/status", h.GetSchedulerStatus)
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.POST("/scheduler/tasks", h.SubmitTask)
		api.GET("/scheduler/tasks/:id", h.GetTask)
		api.DELETE("/scheduler/tasks/:id", h.CancelTask)

		api.GET("/records/pending", h.GetPendingRecords)
		api.GET("/records/:id", h.GetRecord)
		api.POST("/records/:id/deliver", h.DeliverRecord)
		api.GET("/records/:id/preview", h.PreviewRecord)

		api.GET("/deliveries/recent", h.GetRecentDeliveries)
		api.GET("/deliveries/:id", h.GetDelivery)
		api.GET("/stats", h.GetStats)

		api.GET("/logs", h.GetLogs)
		api.GET("/logs/:id", h.GetLog)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Store:     "ok",
		Scheduler: "stopped",
		Channels:  h.channels.Configured(),
		Metrics:   make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		response.Status = "error"
		response.Store = "error"
		logrus.Errorf("Store health check failed: %v", err)
	}

	status := h.scheduler.Status()
	if status.Running {
		response.Scheduler = "running"
		if status.NextFireTime != nil {
			response.Metrics["next_run"] = status.NextFireTime.Format(time.RFC3339)
		}
	}
	if status.LastRunAt != nil {
		response.Metrics["last_run"] = status.LastRunAt.Format(time.RFC3339)
	}
	response.Metrics["skipped_ticks"] = strconv.FormatInt(status.SkippedTicks, 10)
	response.Metrics["queue_depth"] = strconv.Itoa(status.QueueDepth)

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func writeError(c *gin.Context, code int, errCode, message string) {
	c.JSON(code, ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    code,
	})
}

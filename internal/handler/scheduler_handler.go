package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"job-alert-relay/internal/scheduler"
)

// StartScheduler starts periodic detection runs
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(c, http.StatusConflict, "scheduler_running", err.Error())
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops periodic detection runs
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			writeError(c, http.StatusConflict, "scheduler_stopped", err.Error())
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs detection synchronously. The run is detached from the
// request; Stop still cancels it.
func (h *Handlers) RunOnce(c *gin.Context) {
	summary, err := h.scheduler.TriggerNow(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		writeError(c, http.StatusConflict, "run_in_progress", err.Error())
		return
	}

	code := http.StatusOK
	if !summary.Succeeded() {
		code = http.StatusBadGateway
	}
	c.JSON(code, summary)
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// SubmitTask queues a run or a single-record delivery
func (h *Handlers) SubmitTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	task, err := h.scheduler.Submit(scheduler.TaskKind(req.Kind), req.RecordID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, task)
	case errors.Is(err, scheduler.ErrNotRunning):
		writeError(c, http.StatusConflict, "scheduler_stopped", err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(c, http.StatusTooManyRequests, "queue_full", err.Error())
	default:
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

// GetTask returns one queued or finished task
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.scheduler.Task(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "not_found", "Task not found")
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask cancels a queued task
func (h *Handlers) CancelTask(c *gin.Context) {
	task, err := h.scheduler.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, task)
	case errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(c, http.StatusNotFound, "not_found", "Task not found")
	case errors.Is(err, scheduler.ErrTaskFinished):
		writeError(c, http.StatusConflict, "task_finished", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "scheduler_error", err.Error())
	}
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetLogs returns delivery logs with pagination
func (h *Handlers) GetLogs(c *gin.Context) {
	if h.audit == nil {
		writeError(c, http.StatusNotFound, "audit_disabled", "Delivery audit log is not enabled")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	logs, total, err := h.audit.ListLogs(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "database_error", "Failed to fetch logs")
		return
	}

	responses := make([]DeliveryLogResponse, 0, len(logs))
	for _, log := range logs {
		responses = append(responses, toLogResponse(log))
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetLog returns a specific delivery log
func (h *Handlers) GetLog(c *gin.Context) {
	if h.audit == nil {
		writeError(c, http.StatusNotFound, "audit_disabled", "Delivery audit log is not enabled")
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_id", "Invalid log ID")
		return
	}

	log, err := h.audit.GetLog(c.Request.Context(), uint(id))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "database_error", "Failed to fetch log")
		return
	}
	if log == nil {
		writeError(c, http.StatusNotFound, "not_found", "Log not found")
		return
	}

	c.JSON(http.StatusOK, toLogResponse(*log))
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/model"
	"job-alert-relay/internal/scheduler"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 100

	defaultPendingHours = 24
	maxPendingHours     = 720
)

// GetPendingRecords lists the records from the last hours that have not been
// delivered or attempted yet
func (h *Handlers) GetPendingRecords(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", strconv.Itoa(defaultPendingHours)))
	if err != nil || hours < 1 || hours > maxPendingHours {
		writeError(c, http.StatusBadRequest, "invalid_hours", "hours must be between 1 and 720")
		return
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	records, err := h.records.Pending(c.Request.Context(), since)
	if err != nil {
		h.recordError(c, err)
		return
	}

	out := make([]PendingRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, PendingRecordResponse{
			ID:        rec.ID,
			Title:     rec.Title,
			Company:   rec.Company,
			Link:      rec.Link,
			CreatedAt: rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(out),
		"since":   since,
		"records": out,
	})
}

// GetRecord returns a record with its delivery receipt, if any
func (h *Handlers) GetRecord(c *gin.Context) {
	rec, err := h.records.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.recordError(c, err)
		return
	}

	receipt, err := h.store.Receipt(c.Request.Context(), rec.ID)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store_error", "Failed to fetch delivery")
		return
	}
	c.JSON(http.StatusOK, RecordResponse{Record: *rec, Delivery: receipt})
}

// DeliverRecord delivers one record now, ignoring earlier receipts
func (h *Handlers) DeliverRecord(c *gin.Context) {
	report, err := h.scheduler.DeliverRecord(context.WithoutCancel(c.Request.Context()), c.Param("id"))
	if err != nil {
		h.recordError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PreviewRecord renders a record for one channel without sending it
func (h *Handlers) PreviewRecord(c *gin.Context) {
	ch := model.ChannelID(c.DefaultQuery("channel", string(model.ChannelTelegram)))

	out, err := h.records.Preview(c.Request.Context(), c.Param("id"), ch)
	if err != nil {
		h.recordError(c, err)
		return
	}

	c.JSON(http.StatusOK, PreviewResponse{
		RecordID: c.Param("id"),
		Channel:  ch,
		Subject:  out.Subject,
		Text:     out.Text,
		Caption:  out.Caption,
		ImageURL: out.ImageURL,
		Length:   utf8.RuneCountInString(out.Text),
	})
}

func (h *Handlers) recordError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrRecordNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeError(c, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, model.ErrChannelUnavailable):
		writeError(c, http.StatusBadRequest, "unknown_channel", err.Error())
	case errors.Is(err, model.ErrRender):
		writeError(c, http.StatusUnprocessableEntity, "render_error", err.Error())
	case errors.Is(err, model.ErrSourceUnavailable):
		writeError(c, http.StatusBadGateway, "source_unavailable", err.Error())
	default:
		logrus.Errorf("Record request failed: %v", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// GetRecentDeliveries returns the newest receipts
func (h *Handlers) GetRecentDeliveries(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRecentLimit)))
	if err != nil || limit < 1 || limit > maxRecentLimit {
		writeError(c, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return
	}

	receipts, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store_error", "Failed to fetch recent deliveries")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deliveries": receipts,
		"count":      len(receipts),
	})
}

// GetDelivery returns the receipt for one record
func (h *Handlers) GetDelivery(c *gin.Context) {
	receipt, err := h.store.Receipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store_error", "Failed to fetch delivery")
		return
	}
	if receipt == nil {
		writeError(c, http.StatusNotFound, "not_found", "No delivery recorded for this record")
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// GetStats returns delivery totals
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store_error", "Failed to fetch stats")
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		TotalAttempted: stats.TotalAttempted,
		LastCheck:      stats.LastCheck,
		Channels:       h.channels.Channels(),
		Configured:     h.channels.Configured(),
		SkippedTicks:   h.scheduler.Status().SkippedTicks,
	})
}

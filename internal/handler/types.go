package handler

import (
	"time"

	"job-alert-relay/internal/model"
)

// TaskRequest is the body of a task submission
type TaskRequest struct {
	Kind     string `json:"kind" binding:"required"`
	RecordID string `json:"record_id"`
}

// DeliveryLogResponse represents one audit row
type DeliveryLogResponse struct {
	ID        uint      `json:"id"`
	RunID     string    `json:"run_id"`
	RecordID  string    `json:"record_id"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	Attempts  int       `json:"attempts"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingRecordResponse is one record awaiting delivery
type PendingRecordResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company,omitempty"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordResponse is a record and its delivery receipt
type RecordResponse struct {
	Record   model.Record           `json:"record"`
	Delivery *model.DeliveryReceipt `json:"delivery"`
}

// PreviewResponse is the rendered variant of a record for one channel
type PreviewResponse struct {
	RecordID string          `json:"record_id"`
	Channel  model.ChannelID `json:"channel"`
	Subject  string          `json:"subject"`
	Text     string          `json:"text"`
	Caption  string          `json:"caption,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	Length   int             `json:"length"`
}

// StatsResponse describes delivery totals
type StatsResponse struct {
	TotalAttempted int64             `json:"total_attempted"`
	LastCheck      *time.Time        `json:"last_check,omitempty"`
	Channels       []model.ChannelID `json:"channels"`
	Configured     []model.ChannelID `json:"configured_channels"`
	SkippedTicks   int64             `json:"skipped_ticks"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Store     string            `json:"store"`
	Scheduler string            `json:"scheduler"`
	Channels  []model.ChannelID `json:"channels"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func toLogResponse(l model.DeliveryLog) DeliveryLogResponse {
	return DeliveryLogResponse{
		ID:        l.ID,
		RunID:     l.RunID,
		RecordID:  l.RecordID,
		Channel:   l.Channel,
		Status:    l.Status,
		Reference: l.Reference,
		Attempts:  l.Attempts,
		ErrorMsg:  l.ErrorMsg,
		CreatedAt: l.CreatedAt,
	}
}
